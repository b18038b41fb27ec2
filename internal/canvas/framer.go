package canvas

const (
	thinkingOpenMarker  = "<think>\n"
	thinkingCloseMarker = "\n</think>\n"
)

// framer brackets runs of "thinking" buffers with balanced markers. Both
// segment types share this state: a change of segment type closes any open
// thinking block before the new segment's text flows.
type framer struct {
	lastSegment string
	inThinking  bool
}

// transition returns the marker frames to emit before content of the given
// segment type. Callers must only invoke it for updates that actually carry
// content, so empty updates never move the framer.
func (f *framer) transition(segment string) []Frame {
	if segment == f.lastSegment {
		return nil
	}

	var frames []Frame
	if f.inThinking {
		frames = append(frames, Frame{Text: thinkingCloseMarker, Marker: true})
		f.inThinking = false
	}
	if segment == segmentThinking {
		frames = append(frames, Frame{Text: thinkingOpenMarker, Marker: true})
		f.inThinking = true
	}
	f.lastSegment = segment
	return frames
}

// finalize closes a dangling thinking block at session end, keeping the
// open/close markers balanced for every terminated session.
func (f *framer) finalize() []Frame {
	if !f.inThinking {
		return nil
	}
	f.inThinking = false
	return []Frame{{Text: thinkingCloseMarker, Marker: true}}
}

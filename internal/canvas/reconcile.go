package canvas

import (
	"log/slog"
	"strings"

	"canvas-api/internal/metrics"
)

type segmentMode int

const (
	modeUndetermined segmentMode = iota
	modeSnapshot
	modeDelta
)

func (m segmentMode) String() string {
	switch m {
	case modeSnapshot:
		return "snapshot"
	case modeDelta:
		return "delta"
	default:
		return "undetermined"
	}
}

// segmentState tracks reconciliation for one segment type. Once mode leaves
// modeUndetermined it never changes again within the session, and previous
// only grows under snapshot mode.
type segmentState struct {
	mode     segmentMode
	previous string
}

// reconciler turns the feed's ambiguous buffer updates into true increments.
// Canvas does not declare whether an adapter sends growing snapshots or real
// deltas, so the first observed transition per segment type is used as the
// sole discriminator and is sticky for the rest of the session. The prefix
// test can misclassify when two genuine deltas happen to be prefix
// compatible; that is a heuristic limit, so the settlement is logged rather
// than silently trusted.
type reconciler struct {
	segments map[string]*segmentState
}

func newReconciler() *reconciler {
	return &reconciler{segments: make(map[string]*segmentState)}
}

// apply feeds one buffer update through the state machine and returns the
// text to emit. Empty content is a no-op and must not reach segment state.
func (r *reconciler) apply(segment, content string) string {
	if content == "" {
		return ""
	}

	st, seen := r.segments[segment]
	if !seen {
		r.segments[segment] = &segmentState{previous: content}
		return content
	}

	if st.mode == modeUndetermined {
		if strings.HasPrefix(content, st.previous) {
			st.mode = modeSnapshot
			slog.Warn("buffer mode settled on snapshot via prefix heuristic",
				"segment", segment, "previous_len", len(st.previous))
		} else {
			st.mode = modeDelta
		}
		metrics.ReconcilerModeTotal.WithLabelValues(segment, st.mode.String()).Inc()
	}

	switch st.mode {
	case modeSnapshot:
		// Snapshots only ever grow; a shorter or equal payload carries
		// nothing new and must not truncate the recorded content.
		if len(content) <= len(st.previous) {
			return ""
		}
		delta := content[len(st.previous):]
		st.previous = content
		return delta
	default:
		st.previous += content
		return content
	}
}

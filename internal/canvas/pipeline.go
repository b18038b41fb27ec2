package canvas

import (
	"context"
	"encoding/json"
	"log/slog"
)

// pipeline drives one session's feed through the reconciler and framer and
// hands the resulting frames to a sink callback. All of its state is owned
// by a single consumption loop, so nothing here needs locking.
type pipeline struct {
	reconciler        *reconciler
	framer            *framer
	receivedAnyUpdate bool
}

func newPipeline() *pipeline {
	return &pipeline{
		reconciler: newReconciler(),
		framer:     &framer{},
	}
}

// run consumes the session's queue until the terminal condition and emits
// frames through emit. It returns nil on a clean termination (terminal state
// signal or clean socket close) and the socket's error otherwise. Malformed
// frames at either payload layer are skipped; they never abort the session.
func (p *pipeline) run(ctx context.Context, ls *liveSession, emit func(Frame) error) error {
	for {
		ev, err := ls.queue.next(ctx)
		if err != nil {
			return err
		}

		switch ev.kind {
		case eventClosed:
			return p.finalize(emit)
		case eventFailed:
			if err := p.finalize(emit); err != nil {
				return err
			}
			return &socketError{cause: ev.err}
		}

		var raw rawEvent
		if err := json.Unmarshal(ev.data, &raw); err != nil {
			slog.Debug("skipping malformed feed frame", "error", err)
			continue
		}

		switch raw.Type {
		case "update":
			if err := p.handleUpdate(raw.Buffer, emit); err != nil {
				return err
			}
		case "state":
			// A terminal-looking state before any update is an echo of
			// the initial session snapshot, not a completion signal.
			if !raw.State.InProgress && p.receivedAnyUpdate {
				return p.finalize(emit)
			}
		}
	}
}

func (p *pipeline) handleUpdate(buffer string, emit func(Frame) error) error {
	var payload bufferPayload
	if err := json.Unmarshal([]byte(buffer), &payload); err != nil {
		slog.Debug("skipping malformed buffer payload", "error", err)
		return nil
	}
	if payload.Type != segmentChat && payload.Type != segmentThinking {
		return nil
	}
	p.receivedAnyUpdate = true

	content := payload.Chat.Content
	if content == "" {
		return nil
	}

	for _, marker := range p.framer.transition(payload.Type) {
		if err := emit(marker); err != nil {
			return err
		}
	}
	delta := p.reconciler.apply(payload.Type, content)
	if delta == "" {
		return nil
	}
	return emit(Frame{Text: delta})
}

// finalize closes any open thinking block so every terminated session leaves
// balanced markers behind.
func (p *pipeline) finalize(emit func(Frame) error) error {
	for _, marker := range p.framer.finalize() {
		if err := emit(marker); err != nil {
			return err
		}
	}
	return nil
}

package canvas

import (
	"context"
	"sync"
)

type eventKind int

const (
	eventMessage eventKind = iota
	eventClosed
	eventFailed
)

// socketEvent is the normalized form of one socket callback: a message
// frame, a clean close, or a failure.
type socketEvent struct {
	kind eventKind
	data []byte
	err  error
}

// eventQueue bridges the push-style socket callbacks into a pull-style
// sequence. It holds an unbounded buffer plus a single-slot wake signal, so
// at most one outstanding waiter is woken per enqueue.
//
// Exactly one consumer per session may call next; the pipeline never needs
// more than one, and the wake slot does not support additional waiters.
type eventQueue struct {
	mu       sync.Mutex
	buf      []socketEvent
	terminal bool
	wake     chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

// push enqueues one event and wakes the waiter if any. The first close or
// failure event is terminal; anything arriving after it is dropped so the
// consumer observes exactly one terminal event.
func (q *eventQueue) push(ev socketEvent) {
	q.mu.Lock()
	if q.terminal {
		q.mu.Unlock()
		return
	}
	if ev.kind != eventMessage {
		q.terminal = true
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next returns the oldest queued event, blocking until one arrives or the
// context is done. Events come out in arrival order; once the terminal event
// has been returned the consumer must stop calling next.
func (q *eventQueue) next(ctx context.Context) (socketEvent, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			ev := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return socketEvent{}, ctx.Err()
		case <-q.wake:
		}
	}
}

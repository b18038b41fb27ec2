package canvas

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventQueueYieldsInArrivalOrder(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	q.push(socketEvent{kind: eventMessage, data: []byte("a")})
	q.push(socketEvent{kind: eventMessage, data: []byte("b")})
	q.push(socketEvent{kind: eventMessage, data: []byte("c")})

	for _, want := range []string{"a", "b", "c"} {
		ev, err := q.next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(ev.data) != want {
			t.Fatalf("expected %q, got %q", want, ev.data)
		}
	}
}

func TestEventQueueDropsEventsAfterTerminal(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	q.push(socketEvent{kind: eventClosed})
	q.push(socketEvent{kind: eventMessage, data: []byte("late")})
	q.push(socketEvent{kind: eventFailed, err: errors.New("late failure")})

	ev, err := q.next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.kind != eventClosed {
		t.Fatalf("expected terminal close event, got kind %d", ev.kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no events after terminal, got err=%v", err)
	}
}

func TestEventQueueWakesBlockedConsumer(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	got := make(chan socketEvent, 1)
	go func() {
		ev, err := q.next(context.Background())
		if err != nil {
			return
		}
		got <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	q.push(socketEvent{kind: eventMessage, data: []byte("wake")})

	select {
	case ev := <-got:
		if string(ev.data) != "wake" {
			t.Fatalf("unexpected event %q", ev.data)
		}
	case <-time.After(time.Second):
		t.Fatalf("consumer was never woken")
	}
}

func TestEventQueueNextHonorsContext(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

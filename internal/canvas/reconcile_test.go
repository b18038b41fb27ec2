package canvas

import (
	"strings"
	"testing"
)

func TestReconcilerSnapshotMode(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	updates := []string{"Hel", "Hello", "Hello wor", "Hello world"}

	var got strings.Builder
	for _, u := range updates {
		got.WriteString(r.apply(segmentChat, u))
	}

	if got.String() != "Hello world" {
		t.Fatalf("expected concatenated deltas to equal final snapshot, got %q", got.String())
	}
	if r.segments[segmentChat].mode != modeSnapshot {
		t.Fatalf("expected snapshot mode, got %v", r.segments[segmentChat].mode)
	}
}

func TestReconcilerDeltaMode(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	updates := []string{"Hello", " world", "!"}

	var got strings.Builder
	for _, u := range updates {
		got.WriteString(r.apply(segmentChat, u))
	}

	if got.String() != "Hello world!" {
		t.Fatalf("expected concatenation of raw contents, got %q", got.String())
	}
	if r.segments[segmentChat].mode != modeDelta {
		t.Fatalf("expected delta mode, got %v", r.segments[segmentChat].mode)
	}
}

func TestReconcilerModeIsSticky(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	r.apply(segmentChat, "abc")
	r.apply(segmentChat, "xyz") // not a prefix continuation: delta mode

	// A later prefix-compatible update must still be treated as a delta.
	if got := r.apply(segmentChat, "xyzabc"); got != "xyzabc" {
		t.Fatalf("expected sticky delta mode to emit content verbatim, got %q", got)
	}
}

func TestReconcilerFirstUpdateEmittedVerbatim(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	if got := r.apply(segmentThinking, "pondering"); got != "pondering" {
		t.Fatalf("expected first content emitted as-is, got %q", got)
	}
	if r.segments[segmentThinking].mode != modeUndetermined {
		t.Fatalf("mode must stay undetermined after a single update")
	}
}

func TestReconcilerEmptyContentIsNoOp(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	r.apply(segmentChat, "Hello")

	if got := r.apply(segmentChat, ""); got != "" {
		t.Fatalf("empty content must not emit, got %q", got)
	}
	if st := r.segments[segmentChat]; st.mode != modeUndetermined || st.previous != "Hello" {
		t.Fatalf("empty content must not mutate state, got %+v", st)
	}
}

func TestReconcilerSegmentsAreIndependent(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	r.apply(segmentChat, "a")
	r.apply(segmentChat, "ab") // snapshot
	r.apply(segmentThinking, "x")
	r.apply(segmentThinking, "y") // delta

	if r.segments[segmentChat].mode != modeSnapshot {
		t.Fatalf("chat segment should be snapshot")
	}
	if r.segments[segmentThinking].mode != modeDelta {
		t.Fatalf("thinking segment should be delta")
	}
}

func TestReconcilerSnapshotNeverTruncates(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	r.apply(segmentChat, "Hello")
	r.apply(segmentChat, "Hello world")

	// A shorter payload in snapshot mode carries nothing new and must not
	// shrink the recorded content.
	if got := r.apply(segmentChat, "Hello"); got != "" {
		t.Fatalf("expected no delta for stale snapshot, got %q", got)
	}
	if prev := r.segments[segmentChat].previous; prev != "Hello world" {
		t.Fatalf("previous content was truncated to %q", prev)
	}
}

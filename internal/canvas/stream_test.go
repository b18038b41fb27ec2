package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"canvas-api/internal/debug"
)

func updateFrame(t *testing.T, segment, content string) []byte {
	t.Helper()
	inner, err := json.Marshal(map[string]interface{}{
		"type": segment,
		"chat": map[string]string{"content": content},
	})
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	outer, err := json.Marshal(map[string]interface{}{
		"type":   "update",
		"buffer": string(inner),
	})
	if err != nil {
		t.Fatalf("marshal outer: %v", err)
	}
	return outer
}

func stateFrame(t *testing.T, inProgress bool) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"type":  "state",
		"state": map[string]bool{"inProgress": inProgress},
	})
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	return data
}

type triggerRecorder struct {
	mu      sync.Mutex
	headers http.Header
	body    string
	called  bool
}

func (r *triggerRecorder) record(req *http.Request, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called = true
	r.headers = req.Header.Clone()
	r.body = body
}

func (r *triggerRecorder) snapshot() (bool, http.Header, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.called, r.headers, r.body
}

// newFeedServer runs a Canvas stand-in: the trigger endpoint plus a feed
// that replays the scripted frames and then closes cleanly.
func newFeedServer(t *testing.T, frames [][]byte, triggerStatus int) (*Client, *triggerRecorder) {
	t.Helper()

	rec := &triggerRecorder{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/send", func(w http.ResponseWriter, r *http.Request) {
		var body strings.Builder
		buf := make([]byte, 4096)
		for {
			n, err := r.Body.Read(buf)
			body.Write(buf[:n])
			if err != nil {
				break
			}
		}
		rec.record(r, body.String())
		w.WriteHeader(triggerStatus)
	})
	mux.HandleFunc("/chat/ws/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// Give the peer a moment to read the close frame.
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		conn.ReadMessage()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	return NewClient(Options{APIBaseURL: srv.URL, WSBaseURL: wsBase}), rec
}

func testSession() *Session {
	return &Session{
		RequestID:     "chatcmpl-test",
		Model:         "canvas-agent-1",
		SessionID:     "chat_abc123",
		IdentityToken: "identity-token",
		AuthToken:     "auth-token",
		Prompt:        "hello there",
		Headers:       http.Header{},
	}
}

// collectStream drains the frame sequence and returns the decoded content
// deltas, the finish reason, and whether the [DONE] sentinel arrived last.
func collectStream(t *testing.T, frames <-chan []byte) ([]string, string, bool) {
	t.Helper()

	var contents []string
	finishReason := ""
	doneLast := false

	for frame := range frames {
		line := string(frame)
		doneLast = false
		if line == streamDoneSentinel {
			doneLast = true
			continue
		}
		payload := strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n\n")
		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("malformed chunk %q: %v", line, err)
		}
		if len(chunk.Choices) != 1 {
			t.Fatalf("expected one choice, got %d", len(chunk.Choices))
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
			continue
		}
		contents = append(contents, choice.Delta.Content)
	}
	return contents, finishReason, doneLast
}

func TestStreamGrowingSnapshots(t *testing.T) {
	t.Parallel()

	client, _ := newFeedServer(t, [][]byte{
		updateFrame(t, segmentChat, "Hello"),
		updateFrame(t, segmentChat, "Hello world"),
		stateFrame(t, false),
	}, http.StatusOK)

	contents, finish, done := collectStream(t, client.Stream(context.Background(), testSession()))

	want := []string{"", "Hello", " world"}
	if len(contents) != len(want) {
		t.Fatalf("expected %d content frames, got %v", len(want), contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Fatalf("frame %d: expected %q, got %q", i, want[i], contents[i])
		}
	}
	if finish != "stop" {
		t.Fatalf("expected stop finish reason, got %q", finish)
	}
	if !done {
		t.Fatalf("expected [DONE] sentinel to end the stream")
	}
}

func TestStreamThinkingThenChat(t *testing.T) {
	t.Parallel()

	client, _ := newFeedServer(t, [][]byte{
		updateFrame(t, segmentThinking, "pondering"),
		updateFrame(t, segmentChat, "Answer"),
		stateFrame(t, false),
	}, http.StatusOK)

	contents, finish, done := collectStream(t, client.Stream(context.Background(), testSession()))

	want := []string{"", thinkingOpenMarker, "pondering", thinkingCloseMarker, "Answer"}
	if len(contents) != len(want) {
		t.Fatalf("expected frames %v, got %v", want, contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Fatalf("frame %d: expected %q, got %q", i, want[i], contents[i])
		}
	}
	if finish != "stop" || !done {
		t.Fatalf("expected stop + [DONE], got finish=%q done=%v", finish, done)
	}
}

func TestStreamPrimingChunkCarriesEmptyContent(t *testing.T) {
	t.Parallel()

	client, _ := newFeedServer(t, nil, http.StatusOK)

	frames := client.Stream(context.Background(), testSession())
	first, ok := <-frames
	if !ok {
		t.Fatalf("stream closed before the priming chunk")
	}
	for range frames {
	}

	line := string(first)
	if !strings.Contains(line, `"role":"assistant"`) {
		t.Fatalf("priming chunk missing assistant role: %q", line)
	}
	if !strings.Contains(line, `"content":""`) {
		t.Fatalf("priming chunk must carry an explicit empty content key: %q", line)
	}
}

func TestSessionTraceRecordsFramesAndOutput(t *testing.T) {
	client, rec := newFeedServer(t, [][]byte{
		updateFrame(t, segmentChat, "Hi"),
		stateFrame(t, false),
	}, http.StatusOK)

	logger := debug.New(true)
	t.Cleanup(func() { os.RemoveAll("debug-logs") })

	sess := testSession()
	sess.Trace = logger

	collectStream(t, client.Stream(context.Background(), sess))

	deadline := time.Now().Add(time.Second)
	for {
		called, _, _ := rec.snapshot()
		if called || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	logger.Close()

	data, err := os.ReadFile(filepath.Join(logger.Dir(), "trace.log"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	trace := string(data)
	for _, want := range []string{"FRAME ", "SSE ", "TRIGGER "} {
		if !strings.Contains(trace, want) {
			t.Fatalf("trace missing %q lines:\n%s", want, trace)
		}
	}
}

func TestStreamStaleTerminalStateIgnored(t *testing.T) {
	t.Parallel()

	client, _ := newFeedServer(t, [][]byte{
		stateFrame(t, false), // before any update: stale, must not end the session
		updateFrame(t, segmentChat, "Hi"),
		stateFrame(t, false),
	}, http.StatusOK)

	contents, _, done := collectStream(t, client.Stream(context.Background(), testSession()))

	joined := strings.Join(contents, "")
	if joined != "Hi" {
		t.Fatalf("expected content %q, got %q", "Hi", joined)
	}
	if !done {
		t.Fatalf("expected completed stream")
	}
}

func TestStreamSkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	badOuter := []byte("{not json")
	badBuffer, _ := json.Marshal(map[string]interface{}{"type": "update", "buffer": "{broken"})

	client, _ := newFeedServer(t, [][]byte{
		badOuter,
		badBuffer,
		updateFrame(t, segmentChat, "ok"),
		stateFrame(t, false),
	}, http.StatusOK)

	contents, finish, done := collectStream(t, client.Stream(context.Background(), testSession()))

	if strings.Join(contents, "") != "ok" {
		t.Fatalf("expected malformed frames skipped, got %v", contents)
	}
	if finish != "stop" || !done {
		t.Fatalf("expected clean completion despite noise")
	}
}

func TestStreamTriggerFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	client, rec := newFeedServer(t, [][]byte{
		updateFrame(t, segmentChat, "still works"),
		stateFrame(t, false),
	}, http.StatusBadGateway)

	contents, finish, done := collectStream(t, client.Stream(context.Background(), testSession()))

	if strings.Join(contents, "") != "still works" {
		t.Fatalf("expected feed content despite trigger failure, got %v", contents)
	}
	if finish != "stop" || !done {
		t.Fatalf("expected well-formed stream end")
	}

	deadline := time.Now().Add(time.Second)
	for {
		called, _, _ := rec.snapshot()
		if called || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if called, _, _ := rec.snapshot(); !called {
		t.Fatalf("expected trigger call to be attempted")
	}
}

func TestStreamConnectionFailureIsInBand(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	client := NewClient(Options{
		APIBaseURL: srv.URL,
		WSBaseURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	})

	contents, finish, done := collectStream(t, client.Stream(context.Background(), testSession()))

	if len(contents) < 2 || !strings.Contains(contents[len(contents)-1], "[error]") {
		t.Fatalf("expected in-band error frame, got %v", contents)
	}
	if finish != "stop" || !done {
		t.Fatalf("stream must stay syntactically complete on failure")
	}
}

func TestTriggerCallHeaders(t *testing.T) {
	t.Parallel()

	client, rec := newFeedServer(t, [][]byte{stateFrame(t, false)}, http.StatusOK)

	sess := testSession()
	sess.Headers.Set("User-Agent", "caller-agent")
	sess.Headers.Set("X-Canvas-Client", "cli")
	sess.Headers.Set("Authorization", "Bearer caller-should-lose")
	sess.Headers.Set("Cookie", "secret")

	if _, err := client.Complete(context.Background(), sess); err != nil {
		t.Fatalf("complete: %v", err)
	}

	called, headers, body := rec.snapshot()
	if !called {
		t.Fatalf("trigger was never called")
	}
	if got := headers.Get("Authorization"); got != "Bearer auth-token" {
		t.Fatalf("mandatory Authorization must win, got %q", got)
	}
	if headers.Get("User-Agent") != "caller-agent" {
		t.Fatalf("allow-listed caller header must forward")
	}
	if headers.Get("X-Canvas-Client") != "cli" {
		t.Fatalf("vendor-prefixed header must forward")
	}
	if headers.Get("Cookie") != "" {
		t.Fatalf("cookie must never forward")
	}

	var req triggerRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("trigger body: %v", err)
	}
	if req.Prompt != "hello there" || req.SessionID != "chat_abc123" || req.AdapterName != "canvas-agent-1" {
		t.Fatalf("unexpected trigger body %+v", req)
	}
}

func TestCompleteMatchesStreamedContent(t *testing.T) {
	t.Parallel()

	frames := [][]byte{
		updateFrame(t, segmentThinking, "th"),
		updateFrame(t, segmentThinking, "think"),
		updateFrame(t, segmentChat, "Hello"),
		updateFrame(t, segmentChat, " world"),
		stateFrame(t, false),
	}

	streamClient, _ := newFeedServer(t, frames, http.StatusOK)
	contents, _, _ := collectStream(t, streamClient.Stream(context.Background(), testSession()))

	aggClient, _ := newFeedServer(t, frames, http.StatusOK)
	aggregate, err := aggClient.Complete(context.Background(), testSession())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if streamed := strings.Join(contents, ""); streamed != aggregate {
		t.Fatalf("aggregate %q must equal streamed text %q", aggregate, streamed)
	}
}

func TestCompleteReturnsOnCleanCloseWithoutTerminalState(t *testing.T) {
	t.Parallel()

	client, _ := newFeedServer(t, [][]byte{
		updateFrame(t, segmentChat, "partial"),
	}, http.StatusOK)

	got, err := client.Complete(context.Background(), testSession())
	if err != nil {
		t.Fatalf("clean close should not be an error, got %v", err)
	}
	if got != "partial" {
		t.Fatalf("expected accumulated text %q, got %q", "partial", got)
	}
}

func TestCompleteSurfacesSocketFailure(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/send", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/chat/ws/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Abort without a close handshake: the consumer sees a failure.
		conn.UnderlyingConn().Close()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(Options{
		APIBaseURL: srv.URL,
		WSBaseURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	})

	if _, err := client.Complete(context.Background(), testSession()); err == nil {
		t.Fatalf("expected socket failure to surface")
	}
}

func TestCompleteConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	client := NewClient(Options{
		APIBaseURL: srv.URL,
		WSBaseURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	})

	_, err := client.Complete(context.Background(), testSession())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

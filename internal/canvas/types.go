// Package canvas implements the chat streaming translation engine for the
// Canvas collaborative agent backend. A session is driven over a stateful
// websocket feed plus one out-of-band HTTP trigger call; the feed's buffer
// updates are reconciled into a coherent incremental text stream and emitted
// either as OpenAI-style event-stream frames or as one aggregated string.
package canvas

import (
	"net/http"

	"canvas-api/internal/debug"
)

// Session carries everything one caller request needs to drive the backend.
// A Session is owned exclusively by the pipeline that consumes it; nothing
// here is shared across requests, so no locking is needed downstream.
type Session struct {
	RequestID     string
	Model         string
	SessionID     string // Canvas chat-history id
	IdentityToken string // parameterizes the socket endpoint
	AuthToken     string // bearer token for the trigger call
	Prompt        string
	Headers       http.Header   // caller headers, filtered before forwarding
	Trace         *debug.Logger // per-request trace sink, may be nil
}

// rawEvent is one decoded frame off the Canvas feed. The outer layer is
// always {"type": ...}; "update" carries a nested JSON string in Buffer and
// "state" carries the progress flag.
type rawEvent struct {
	Type   string `json:"type"`
	Buffer string `json:"buffer,omitempty"`
	State  struct {
		InProgress bool `json:"inProgress"`
	} `json:"state,omitempty"`
}

// bufferPayload is the nested JSON decoded from rawEvent.Buffer.
type bufferPayload struct {
	Type string `json:"type"` // "chat" or "thinking"
	Chat struct {
		Content string `json:"content"`
	} `json:"chat"`
}

const (
	segmentChat     = "chat"
	segmentThinking = "thinking"
)

// Frame is the unit handed to the sinks: either a piece of reconciled text,
// a thinking-block marker, or the finish signal.
type Frame struct {
	Text   string
	Marker bool
	Finish bool
}

package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"canvas-api/internal/debug"
	"canvas-api/internal/metrics"
)

const (
	wsConnectTimeout = 30 * time.Second
	wsReadTimeout    = 120 * time.Second
	triggerTimeout   = 30 * time.Second

	canvasOrigin  = "https://www.canvas.app"
	canvasReferer = "https://www.canvas.app/"
)

// Client holds the transport configuration shared by all sessions. One
// Client serves many concurrent sessions; per-session state lives in
// liveSession.
type Client struct {
	apiBaseURL string
	wsBaseURL  string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *debug.Logger
}

type Options struct {
	APIBaseURL string
	WSBaseURL  string
	HTTPClient *http.Client
	Logger     *debug.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: triggerTimeout}
	}
	return &Client{
		apiBaseURL: strings.TrimRight(opts.APIBaseURL, "/"),
		wsBaseURL:  strings.TrimRight(opts.WSBaseURL, "/"),
		httpClient: httpClient,
		dialer: &websocket.Dialer{
			HandshakeTimeout: wsConnectTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: opts.Logger,
	}
}

// liveSession is one open feed: the socket, its read pump, and the queue the
// pipeline consumes from.
type liveSession struct {
	conn  *websocket.Conn
	queue *eventQueue
}

// trace resolves the per-session trace sink, falling back to the client's
// shared logger. Both may be nil; debug.Logger methods tolerate that.
func (c *Client) trace(sess *Session) *debug.Logger {
	if sess.Trace != nil {
		return sess.Trace
	}
	return c.logger
}

func (c *Client) feedURL(sess *Session) string {
	return fmt.Sprintf("%s/chat/ws/%s?token=%s",
		c.wsBaseURL, url.PathEscape(sess.SessionID), url.QueryEscape(sess.IdentityToken))
}

// open dials the feed endpoint for the session and starts the read pump.
// A dial failure means the socket never reached an open state and is
// reported as ErrConnection.
func (c *Client) open(ctx context.Context, sess *Session) (*liveSession, error) {
	headers := http.Header{
		"Origin": []string{canvasOrigin},
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.feedURL(sess), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial returned %s", ErrConnection, resp.Status)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	ls := &liveSession{conn: conn, queue: newEventQueue()}
	metrics.ActiveSessions.Inc()
	go ls.readPump(c.trace(sess))
	return ls, nil
}

func (ls *liveSession) close() {
	ls.conn.Close()
	metrics.ActiveSessions.Dec()
}

// readPump converts the socket's callback-style reads into queue pushes. It
// queues every message in arrival order and finishes with exactly one
// terminal event: a clean close or a failure.
func (ls *liveSession) readPump(logger *debug.Logger) {
	for {
		if err := ls.conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			ls.queue.push(socketEvent{kind: eventFailed, err: err})
			return
		}
		_, data, err := ls.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ls.queue.push(socketEvent{kind: eventClosed})
			} else {
				ls.queue.push(socketEvent{kind: eventFailed, err: err})
			}
			return
		}
		logger.LogUpstreamFrame(string(data))
		ls.queue.push(socketEvent{kind: eventMessage, data: data})
	}
}

type triggerRequest struct {
	Prompt      string `json:"prompt"`
	SessionID   string `json:"sessionId"`
	AdapterName string `json:"modelAdapterName"`
}

// trigger issues the out-of-band call that asks Canvas to start producing
// output for the session. Server-mandated headers are merged over the
// filtered caller headers and always win on name collision. Failures are
// reported to the caller for logging but never abort feed consumption.
func (c *Client) trigger(ctx context.Context, sess *Session) error {
	body, err := json.Marshal(triggerRequest{
		Prompt:      sess.Prompt,
		SessionID:   sess.SessionID,
		AdapterName: sess.Model,
	})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrUpstreamTrigger, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/chat/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamTrigger, err)
	}

	req.Header = FilterHeaders(sess.Headers)
	req.Header.Set("Authorization", "Bearer "+sess.AuthToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", canvasOrigin)
	req.Header.Set("Referer", canvasReferer)

	c.trace(sess).LogTriggerRequest(c.apiBaseURL+"/chat/send", string(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.TriggerCallsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrUpstreamTrigger, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.TriggerCallsTotal.WithLabelValues("error").Inc()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamTrigger, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	metrics.TriggerCallsTotal.WithLabelValues("ok").Inc()
	return nil
}

// triggerAsync fires the trigger call without ordering it against feed
// consumption; the event-stream path reads whatever the feed yields no
// matter how the trigger fares.
func (c *Client) triggerAsync(ctx context.Context, sess *Session) {
	go func() {
		if err := c.trigger(ctx, sess); err != nil {
			slog.Warn("canvas trigger call failed", "request_id", sess.RequestID, "error", err)
		}
	}()
}

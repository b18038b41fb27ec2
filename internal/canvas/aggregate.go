package canvas

import (
	"context"
	"log/slog"
	"strings"
)

// Complete drives the session to termination and returns the full
// accumulated text, using the same reconciliation and framing logic as the
// streaming path. Unlike Stream, the trigger call is awaited before
// consumption begins; its failure is still non-fatal, the session reads
// whatever the feed yields. A dial failure or socket error before completion
// is returned with the underlying cause preserved, never swallowed.
func (c *Client) Complete(ctx context.Context, sess *Session) (string, error) {
	ls, err := c.open(ctx, sess)
	if err != nil {
		return "", err
	}
	defer ls.close()

	if err := c.trigger(ctx, sess); err != nil {
		slog.Warn("canvas trigger call failed", "request_id", sess.RequestID, "error", err)
	}

	var out strings.Builder
	err = newPipeline().run(ctx, ls, func(f Frame) error {
		out.WriteString(f.Text)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const streamDoneSentinel = "data: [DONE]\n\n"

type chunkDelta struct {
	Role string `json:"role,omitempty"`
	// Content is always emitted so the priming chunk carries an explicit
	// empty string rather than omitting the key.
	Content string `json:"content"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

func encodeChunk(sess *Session, created int64, delta chunkDelta, finish *string) []byte {
	chunk := completionChunk{
		ID:      sess.RequestID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   sess.Model,
		Choices: []chunkChoice{{Delta: delta, FinishReason: finish}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		// The chunk shape is marshal-safe; this only fires on invalid UTF-8
		// surrogates, which json escapes anyway.
		return nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}

// Stream opens the session and returns a lazy, single-pass sequence of
// encoded event-stream frames. The first frame is a priming chunk emitted
// before any backend event so the caller sees immediate activity; the
// sequence always ends with one finish chunk and the [DONE] sentinel, even
// when consumption fails mid-way; failures are converted into an in-band
// error chunk so the HTTP client never observes a truncated stream.
//
// The trigger call is fired concurrently with feed consumption; there is no
// ordering guarantee between its completion and the first frame.
func (c *Client) Stream(ctx context.Context, sess *Session) <-chan []byte {
	out := make(chan []byte, 16)
	created := time.Now().Unix()
	tr := c.trace(sess)

	send := func(frame []byte) bool {
		if frame == nil {
			return true
		}
		select {
		case out <- frame:
			tr.LogOutputSSE(string(frame))
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		finishReason := "stop"
		finishUp := func() {
			send(encodeChunk(sess, created, chunkDelta{}, &finishReason))
			send([]byte(streamDoneSentinel))
		}

		if !send(encodeChunk(sess, created, chunkDelta{Role: "assistant", Content: ""}, nil)) {
			return
		}

		ls, err := c.open(ctx, sess)
		if err != nil {
			send(encodeChunk(sess, created, chunkDelta{Content: fmt.Sprintf("[error] %v", err)}, nil))
			finishUp()
			return
		}
		defer ls.close()

		c.triggerAsync(ctx, sess)

		err = newPipeline().run(ctx, ls, func(f Frame) error {
			if f.Text == "" {
				return nil
			}
			if !send(encodeChunk(sess, created, chunkDelta{Content: f.Text}, nil)) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			send(encodeChunk(sess, created, chunkDelta{Content: fmt.Sprintf("[error] %v", err)}, nil))
		}
		finishUp()
	}()

	return out
}

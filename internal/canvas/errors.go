package canvas

import (
	"errors"
	"fmt"
)

// ErrConnection reports that the socket never reached an open state.
var ErrConnection = errors.New("canvas: connection failed")

// ErrUpstreamTrigger reports a non-success or transport failure on the
// trigger call. It is logged by the pipeline but never aborts consumption.
var ErrUpstreamTrigger = errors.New("canvas: trigger call failed")

// socketError wraps the error a feed terminated with, so the aggregate sink
// can surface the original cause instead of a generic failure.
type socketError struct {
	cause error
}

func (e *socketError) Error() string {
	return fmt.Sprintf("canvas: socket failed before completion: %v", e.cause)
}

func (e *socketError) Unwrap() error { return e.cause }

package llm

import (
	"context"
)

// Client is a provider-neutral streaming LLM client.
type Client interface {
	// Stream sends a request and returns a pull-based event stream. The
	// caller reads events with Next/Event until Next returns false, then
	// checks Err and calls Close.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream is a sequential, single-consumer event stream.
type Stream interface {
	// Next advances to the next event, returning false when the stream is
	// exhausted or failed.
	Next() bool

	// Event returns the current event. Valid only after Next returned true.
	Event() *StreamEvent

	// Err returns the terminal error, if any, once Next returned false.
	Err() error

	// Close releases stream resources. Safe after a partial read.
	Close() error
}

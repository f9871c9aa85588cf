// Package llm invokes text-generation backends through a provider registry,
// with retry and circuit-breaker middleware and a stream buffering transform.
package llm

import (
	"context"
	"time"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one unit of a streamed response. Err and Done are control
// fragments: the buffering transform forwards them immediately and never
// merges them with text.
type Fragment struct {
	Text      string
	Reasoning string
	Err       string
	Done      bool
}

// IsControl reports whether the fragment must bypass buffering.
func (f Fragment) IsControl() bool {
	return f.Err != "" || f.Done
}

// Request is a chat invocation. Stream selects fragment streaming over a
// single complete response.
type Request struct {
	Provider string
	Model    string
	APIKey   string
	Messages []Message
	Stream   bool
	Timeout  time.Duration
}

// Response is the result of an invocation. Exactly one of the three shapes
// is populated: complete text, a fragment stream, or an error message. Err
// is a value, not a Go error: exhausted retries still yield a well-formed
// response the caller can render.
type Response struct {
	Text      string
	Reasoning string
	Stream    <-chan Fragment
	Err       string
}

// Failed reports whether the response is error-shaped.
func (r *Response) Failed() bool {
	return r != nil && r.Err != ""
}

// Provider is the single capability every text-generation vendor exposes.
type Provider interface {
	// Name returns the provider identifier used for registry lookup.
	Name() string

	// Chat performs a complete (non-streaming) chat call.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream performs a streaming chat call. The returned channel is
	// closed after the final fragment. The final fragment is either Done
	// or carries Err.
	ChatStream(ctx context.Context, req Request) (<-chan Fragment, error)
}

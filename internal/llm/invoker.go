package llm

import (
	"context"
	"log/slog"
	"time"
)

// Invoker is the resilient front door to text generation. It resolves the
// provider, runs the middleware chain, buffers streamed output, and converts
// exhausted failures into error-shaped responses so callers always receive a
// well-formed result.
type Invoker struct {
	registry    *Registry
	middlewares []Middleware
	bufferChars int
	logger      *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMiddlewares sets the ordered middleware chain; the first runs
// outermost.
func WithMiddlewares(middlewares ...Middleware) InvokerOption {
	return func(inv *Invoker) { inv.middlewares = middlewares }
}

// WithStreamBuffer sets the stream buffering window in characters. Zero
// disables buffering.
func WithStreamBuffer(chars int) InvokerOption {
	return func(inv *Invoker) { inv.bufferChars = chars }
}

// NewInvoker creates an invoker over the given registry.
func NewInvoker(registry *Registry, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		registry: registry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// DefaultMiddlewares builds the standard chain: optional circuit breaker
// outside, retry inside.
func DefaultMiddlewares(retries int, delay time.Duration, breakerEnabled bool, logger *slog.Logger) []Middleware {
	var chain []Middleware
	if breakerEnabled {
		chain = append(chain, BreakerMiddleware(DefaultBreakerConfig("llm")))
	}
	chain = append(chain, RetryMiddleware(retries, delay, logger))
	return chain
}

// Invoke performs a complete (non-streaming) chat call. It never returns a
// Go error: retry exhaustion, breaker rejection, and cancellation all come
// back as an error-shaped Response.
func (inv *Invoker) Invoke(ctx context.Context, req Request) *Response {
	provider := inv.registry.Get(req.Provider)
	call := Chain(provider.Chat, inv.middlewares...)

	resp, err := call(ctx, req)
	if err != nil {
		inv.logger.Error("llm_call_failed",
			"provider", provider.Name(),
			"model", req.Model,
			"error", err)
		return &Response{Err: err.Error()}
	}
	return resp
}

// InvokeStream performs a streaming chat call. Establishing the stream goes
// through the middleware chain; once established, fragments flow through the
// buffering transform. Failures to establish come back as an error-shaped
// response with no stream.
func (inv *Invoker) InvokeStream(ctx context.Context, req Request) *Response {
	provider := inv.registry.Get(req.Provider)

	open := func(ctx context.Context, req Request) (*Response, error) {
		stream, err := provider.ChatStream(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Response{Stream: stream}, nil
	}
	call := Chain(open, inv.middlewares...)

	resp, err := call(ctx, req)
	if err != nil {
		inv.logger.Error("llm_stream_failed",
			"provider", provider.Name(),
			"model", req.Model,
			"error", err)
		return &Response{Err: err.Error()}
	}
	resp.Stream = BufferFragments(ctx, resp.Stream, inv.bufferChars)
	return resp
}

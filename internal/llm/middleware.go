package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// InvokeFunc performs one invocation attempt against a provider.
type InvokeFunc func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps an InvokeFunc with cross-cutting behavior.
type Middleware func(next InvokeFunc) InvokeFunc

// Chain composes middlewares so the first listed runs outermost.
func Chain(base InvokeFunc, middlewares ...Middleware) InvokeFunc {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// RetryMiddleware retries failed invocations: retries is the number of
// additional attempts after the first, so the underlying call runs at most
// retries+1 times. The delay is a context-aware wait scoped to this request;
// cancellation stops retrying immediately.
func RetryMiddleware(retries int, delay time.Duration, logger *slog.Logger) Middleware {
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, req Request) (*Response, error) {
			var lastErr error
			for attempt := 0; attempt <= retries; attempt++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if attempt == retries {
					break
				}
				logger.Warn("llm_call_retry",
					"attempt", attempt+1,
					"max_attempts", retries+1,
					"delay", delay,
					"error", err)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}
			return nil, lastErr
		}
	}
}

// BreakerConfig tunes the circuit-breaker middleware.
type BreakerConfig struct {
	Name         string
	OpenTimeout  time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig returns conventional breaker settings.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		OpenTimeout:  30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// BreakerMiddleware short-circuits invocations once the backend's failure
// ratio trips the breaker, letting it recover instead of hammering it.
func BreakerMiddleware(cfg BreakerConfig) Middleware {
	breaker := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        cfg.Name,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
	})

	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, req Request) (*Response, error) {
			return breaker.Execute(func() (*Response, error) {
				return next(ctx, req)
			})
		}
	}
}

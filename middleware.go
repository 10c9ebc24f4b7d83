package xbeacon

import (
	"context"
	"fmt"
	"time"
)

// SendFunc delivers one encoded batch. Return error to route the batch to the
// fallback transport or the retry queue.
type SendFunc func(ctx context.Context, req *Request) error

// Middleware composes delivery concerns around a SendFunc.
type Middleware func(next SendFunc) SendFunc

// TimeoutMiddleware bounds every request. When exceeded, it returns
// context.DeadlineExceeded even if the transport ignores ctx, and the
// abandoned request is treated as a failure.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		// No-op if duration invalid.
		return func(next SendFunc) SendFunc { return next }
	}
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, req *Request) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("panic recovered: %v", r)
					}
				}()
				errCh <- next(tctx, req)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware converts transport panics into errors so a send that
// blows up synchronously is handled exactly like one that fails.
func RecoveryMiddleware() Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Chain composes middlewares around a SendFunc in order.
func Chain(h SendFunc, mws ...Middleware) SendFunc {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

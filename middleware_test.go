package xbeacon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Order(t *testing.T) {
	var trace []string
	tag := func(name string) Middleware {
		return func(next SendFunc) SendFunc {
			return func(ctx context.Context, req *Request) error {
				trace = append(trace, name)
				return next(ctx, req)
			}
		}
	}
	send := Chain(func(context.Context, *Request) error {
		trace = append(trace, "send")
		return nil
	}, tag("outer"), nil, tag("inner"))

	require.NoError(t, send(context.Background(), &Request{}))
	assert.Equal(t, []string{"outer", "inner", "send"}, trace)
}

func TestRecoveryMiddleware(t *testing.T) {
	send := Chain(func(context.Context, *Request) error { panic("socket gone") }, RecoveryMiddleware())

	err := send(context.Background(), &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket gone")
}

func TestTimeoutMiddleware(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	slow := Chain(func(context.Context, *Request) error {
		<-block
		return nil
	}, TimeoutMiddleware(20*time.Millisecond))
	assert.ErrorIs(t, slow(context.Background(), &Request{}), context.DeadlineExceeded)

	boom := errors.New("refused")
	fast := Chain(func(context.Context, *Request) error { return boom }, TimeoutMiddleware(time.Second))
	assert.ErrorIs(t, fast(context.Background(), &Request{}), boom)

	panicky := Chain(func(context.Context, *Request) error { panic("x") }, TimeoutMiddleware(time.Second))
	assert.Error(t, panicky(context.Background(), &Request{}))

	calls := 0
	passthrough := TimeoutMiddleware(0)(func(context.Context, *Request) error { calls++; return nil })
	require.NoError(t, passthrough(context.Background(), &Request{}))
	assert.Equal(t, 1, calls)
}

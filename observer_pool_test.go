package xbeacon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverPool_DispatchesAndToleratesPanics(t *testing.T) {
	pool := NewObserverPool(2, 16, nil)

	var got atomic.Int64
	observers := []Observer{
		ObserverFunc(func(LifecycleEvent) { panic("bad observer") }),
		ObserverFunc(func(e LifecycleEvent) { got.Add(int64(e.Events)) }),
		nil,
	}
	for i := 0; i < 5; i++ {
		pool.Notify(LifecycleEvent{Type: EventSendDone, Events: 2}, observers)
	}

	require.NoError(t, pool.Close(context.Background()))
	assert.Equal(t, int64(10), got.Load())
	stats := pool.Stats()
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, uint64(5), stats.Processed)
	assert.Equal(t, uint64(5), stats.Panics)
}

func TestObserverPool_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	blocking := ObserverFunc(func(LifecycleEvent) {
		once.Do(func() { close(started) })
		<-release
	})

	pool := NewObserverPool(1, 1, nil)
	pool.Notify(LifecycleEvent{Type: EventEnqueued}, []Observer{blocking})
	<-started
	// The worker is busy; one event fits in the buffer and the next is dropped.
	pool.Notify(LifecycleEvent{Type: EventEnqueued}, []Observer{blocking})
	pool.Notify(LifecycleEvent{Type: EventEnqueued}, []Observer{blocking})

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.BufferSize)
	close(release)
	require.NoError(t, pool.Close(context.Background()))
}

func TestObserverPool_CloseIsIdempotentAndStopsNotify(t *testing.T) {
	pool := NewObserverPool(0, 0, nil)
	assert.Equal(t, 1, pool.Stats().Workers)
	assert.Equal(t, 256, pool.Stats().BufferSize)

	require.NoError(t, pool.Close(context.Background()))
	require.NoError(t, pool.Close(context.Background()))

	called := false
	pool.Notify(LifecycleEvent{Type: EventDropped}, []Observer{ObserverFunc(func(LifecycleEvent) { called = true })})
	assert.False(t, called)
	assert.Zero(t, pool.Stats().ActiveEvents)
}

func TestObserverPool_CloseTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	pool := NewObserverPool(1, 1, nil)
	pool.Notify(LifecycleEvent{Type: EventEnqueued}, []Observer{ObserverFunc(func(LifecycleEvent) {
		close(started)
		<-release
	})})
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pool.Close(ctx)
	assert.ErrorIs(t, err, ErrObserverPoolShutdownTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

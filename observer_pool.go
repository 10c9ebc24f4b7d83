package xbeacon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// ObserverPool fans lifecycle events out to observers on background workers,
// so a slow observer never stalls Report or a delivery. When the buffer is
// full the event is dropped and counted.
type ObserverPool struct {
	items   chan poolItem
	stop    chan struct{}
	logger  *xlog.Logger
	workers int
	wg      sync.WaitGroup
	closed  atomic.Bool

	dropped   atomic.Uint64
	processed atomic.Uint64
	panics    atomic.Uint64
}

// poolItem pairs an event with the observer list captured when it was raised.
type poolItem struct {
	event     LifecycleEvent
	observers []Observer
}

// NewObserverPool starts workers goroutines reading from a buffer of
// bufferSize events. A nil logger uses xlog.Default().
func NewObserverPool(workers, bufferSize int, logger *xlog.Logger) *ObserverPool {
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = 256
	}
	if logger == nil {
		logger = xlog.Default()
	}

	op := &ObserverPool{
		items:   make(chan poolItem, bufferSize),
		stop:    make(chan struct{}),
		logger:  logger,
		workers: workers,
	}
	op.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go op.run()
	}
	return op
}

// Notify queues e for every observer in observers without blocking. The
// slice is copied, so callers may reuse it.
func (op *ObserverPool) Notify(e LifecycleEvent, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	item := poolItem{event: e, observers: append([]Observer(nil), observers...)}

	select {
	case op.items <- item:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for {
		select {
		case item := <-op.items:
			op.dispatch(item)
		case <-op.stop:
			// Drain what was queued before Close.
			for {
				select {
				case item := <-op.items:
					op.dispatch(item)
				default:
					return
				}
			}
		}
	}
}

func (op *ObserverPool) dispatch(item poolItem) {
	for _, obs := range item.observers {
		if obs != nil {
			op.call(obs, item.event)
		}
	}
	op.processed.Add(1)
}

func (op *ObserverPool) call(obs Observer, e LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			op.panics.Add(1)
			op.logger.Warn().
				Str("lifecycle", string(e.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("xbeacon: observer panicked")
		}
	}()
	obs.OnEvent(e)
}

// Close stops accepting events and waits for queued ones to be dispatched
// until ctx is done. Calling it again returns nil.
func (op *ObserverPool) Close(ctx context.Context) error {
	if op.closed.Swap(true) {
		return nil
	}
	close(op.stop)

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrObserverPoolShutdownTimeout, ctx.Err())
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		Panics:       op.panics.Load(),
		ActiveEvents: len(op.items),
		Workers:      op.workers,
		BufferSize:   cap(op.items),
	}
}

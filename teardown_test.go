package xbeacon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_HideRequeuesWhenBeaconDeliveryFails(t *testing.T) {
	beacon := &fakeBeacon{ok: true, hold: true}
	f := newEngineFixture(t, testConfig(), func(o *engineOptions) { o.beacon = beacon })

	f.engine.Send(event(CategoryBehavior, "a"))
	f.engine.Send(event(CategoryPerformance, "b"))
	f.engine.Hide()
	assert.Equal(t, Status{}, f.engine.Status())

	beacon.complete(errors.New("beacon: network error"))

	assert.Equal(t, Status{Medium: 1, Low: 1, Queued: 2}, f.engine.Status())
	assert.Equal(t, uint64(1), f.metrics.sendFailures.Load())
	assert.Zero(t, f.metrics.eventsSent.Load())
	assert.Len(t, f.engine.store.Restore(), 2)

	require.NoError(t, f.engine.Flush(context.Background()))
	assert.Len(t, f.transport.events(), 2)
	assert.False(t, f.store.has("xbeacon:queue"))
}

func TestEngine_UnconfirmedHideSurvivesReload(t *testing.T) {
	beacon := &fakeBeacon{ok: true, hold: true}
	first := newEngineFixture(t, testConfig(), func(o *engineOptions) { o.beacon = beacon })
	first.engine.Send(event(CategoryBehavior, "a"))
	first.engine.Send(event(CategoryBehavior, "b"))
	first.engine.Hide()

	// The host went away before the beacon reported back.
	second := newEngineFixture(t, testConfig(), func(o *engineOptions) { o.store = first.engine.store })
	second.engine.Start(context.Background())
	defer second.engine.Close(context.Background())

	assert.Equal(t, Status{Low: 2, Queued: 2}, second.engine.Status())
	assert.Equal(t, uint64(2), second.metrics.restored.Load())
}

// hideDuringSend leaves a two-event batch blocked on the primary transport,
// queues a third event and hides. The returned channel releases the send
// with the given outcome.
func hideDuringSend(t *testing.T) (*engineFixture, *fakeBeacon, chan<- error) {
	t.Helper()
	beacon := &fakeBeacon{ok: true, hold: true}
	f := newEngineFixture(t, testConfig(), func(o *engineOptions) { o.beacon = beacon })
	release := make(chan error)
	f.transport.sendFn = func(int, *Request) error { return <-release }

	f.engine.Send(event(CategoryBehavior, "a"))
	f.engine.Send(event(CategoryBehavior, "b"))
	require.Equal(t, 1, f.engine.tick())
	require.Eventually(t, func() bool { return f.transport.callCount() == 1 }, time.Second, time.Millisecond)

	f.engine.Send(event(CategoryBehavior, "c"))
	f.engine.Hide()

	require.Len(t, beacon.batches(), 1)
	assert.Len(t, beacon.batches()[0], 3)
	assert.Len(t, f.engine.store.Restore(), 3)
	assert.Equal(t, Status{InFlight: 1}, f.engine.Status())
	return f, beacon, release
}

func TestEngine_HideCoversBatchOnTheNetwork(t *testing.T) {
	sendErr := errors.New("connection reset")
	beaconErr := errors.New("beacon: network error")

	t.Run("beacon delivers then send fails", func(t *testing.T) {
		f, beacon, release := hideDuringSend(t)
		beacon.complete(nil)
		release <- sendErr
		f.wait(t)

		assert.Equal(t, Status{}, f.engine.Status())
		assert.Zero(t, f.metrics.dropped.Load())
		assert.Equal(t, uint64(3), f.metrics.eventsSent.Load())
		assert.False(t, f.store.has("xbeacon:queue"))
	})

	t.Run("beacon fails then send fails", func(t *testing.T) {
		f, beacon, release := hideDuringSend(t)
		beacon.complete(beaconErr)
		assert.Equal(t, Status{Low: 1, Queued: 1, InFlight: 1}, f.engine.Status())

		release <- sendErr
		f.wait(t)

		assert.Equal(t, Status{Low: 1, Queued: 1, Retry: 1}, f.engine.Status())
		assert.Len(t, f.engine.store.Restore(), 3)
	})

	t.Run("send fails then beacon fails", func(t *testing.T) {
		f, beacon, release := hideDuringSend(t)
		release <- sendErr
		f.wait(t)
		// The hand-off owns the batch now.
		assert.Equal(t, Status{}, f.engine.Status())

		beacon.complete(beaconErr)

		assert.Equal(t, Status{Low: 1, Queued: 1, Retry: 1}, f.engine.Status())
		assert.Len(t, f.engine.store.Restore(), 3)
	})

	t.Run("send succeeds then beacon fails", func(t *testing.T) {
		f, beacon, release := hideDuringSend(t)
		release <- nil
		f.wait(t)

		beacon.complete(beaconErr)

		assert.Equal(t, Status{Low: 1, Queued: 1}, f.engine.Status())
		restored := f.engine.store.Restore()
		require.Len(t, restored, 1)
		assert.Equal(t, "c", restored[0].Name)
	})
}

func TestEngine_UrgentBeaconFailureIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.RetryInterval = time.Second
	beacon := &fakeBeacon{ok: true, hold: true}
	f := newEngineFixture(t, cfg, func(o *engineOptions) { o.beacon = beacon })

	f.engine.Send(event(CategoryError, "TypeError"))
	f.wait(t)
	assert.Equal(t, Status{}, f.engine.Status())

	beacon.complete(errors.New("beacon: network error"))
	assert.Equal(t, Status{Retry: 1}, f.engine.Status())
	assert.Equal(t, uint64(1), f.metrics.sendFailures.Load())

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.engine.retryTick())
	f.wait(t)

	assert.Equal(t, Status{}, f.engine.Status())
	require.Len(t, f.transport.events(), 1)
	assert.Equal(t, "TypeError", f.transport.events()[0].Name)
}

func TestEngine_NoRetriesDropsOnFirstFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = NoRetries
	var reason atomic.Value
	f := newEngineFixture(t, cfg, func(o *engineOptions) {
		o.notify = func(e LifecycleEvent) {
			if e.Type == EventDropped {
				reason.Store(e.Err)
			}
		}
	})
	f.transport.sendFn = func(int, *Request) error { return &StatusError{Code: 503} }

	f.engine.Send(event(CategoryBehavior, "click"))
	f.engine.tick()
	f.wait(t)

	assert.Equal(t, Status{}, f.engine.Status())
	assert.Equal(t, uint64(1), f.metrics.dropped.Load())
	assert.Equal(t, 1, f.transport.callCount())
	err, _ := reason.Load().(error)
	assert.ErrorIs(t, err, errRetriesDisabled)
}

func TestEngine_HideDoesNotHoldQueueDuringStoreWrite(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	f.store.gate = make(chan struct{})

	f.engine.Send(event(CategoryBehavior, "a"))
	hidden := make(chan struct{})
	go func() {
		defer close(hidden)
		f.engine.Hide()
	}()
	require.Eventually(t, func() bool { return f.store.setWaiting.Load() == 1 }, time.Second, time.Millisecond)

	status := make(chan Status, 1)
	go func() {
		f.engine.Send(event(CategoryBehavior, "b"))
		status <- f.engine.Status()
	}()
	select {
	case s := <-status:
		assert.Equal(t, Status{Low: 2, Queued: 2}, s)
	case <-time.After(time.Second):
		t.Fatal("Send blocked behind the store write")
	}

	close(f.store.gate)
	<-hidden
	assert.True(t, f.store.has("xbeacon:queue"))
	assert.Equal(t, uint64(1), f.metrics.persisted.Load())
}

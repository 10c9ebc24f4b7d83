package xbeacon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// Clock is the time source. xclock clocks satisfy it.
type Clock interface {
	Now() time.Time
}

const (
	strategyBeacon   = "beacon"
	strategyPrimary  = "primary"
	strategyFallback = "fallback"
)

// flight is a batch that left the queues and has not been settled yet. While
// a teardown hand-off also carries its events, handedOff is set and a failed
// send leaves recovery to the hand-off.
type flight struct {
	priority  Priority
	events    []Event
	urgent    bool
	handedOff bool
	done      bool
	err       error
}

type engineOptions struct {
	cfg        Config
	codec      Codec
	clock      Clock
	logger     *xlog.Logger
	primary    Transport
	beacon     Beaconer
	fallback   Transport
	store      *QueueStore
	middleware []Middleware
	metrics    *agentMetrics
	notify     func(LifecycleEvent)
}

// Engine owns the priority queues, the retry set and the transports. It is
// the only part of the pipeline that talks to the network.
type Engine struct {
	cfg      Config
	codec    Codec
	clock    Clock
	logger   *xlog.Logger
	primary  SendFunc
	fallback SendFunc
	beacon   Beaconer
	closers  []Transport
	store    *QueueStore
	metrics  *agentMetrics
	notify   func(LifecycleEvent)

	mu       sync.Mutex
	queues   [len(priorities)][]Event
	retries  []*retryRecord
	flights  []*flight
	handoffs []*handoff

	// persistMu orders snapshot writes; store I/O never runs under mu.
	persistMu sync.Mutex
	stored    atomic.Bool

	inFlight atomic.Int32
	pending  sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	cancel    context.CancelFunc
	loops     sync.WaitGroup
}

func newEngine(o engineOptions) *Engine {
	if o.metrics == nil {
		o.metrics = &agentMetrics{}
	}
	if o.notify == nil {
		o.notify = func(LifecycleEvent) {}
	}
	if o.logger == nil {
		o.logger = xlog.Default()
	}
	if o.store == nil {
		o.store = NewQueueStore(nil, o.cfg.Namespace, o.cfg.MaxPersistBytes, o.logger)
	}

	// Recovery always wraps the transport first so a panicking Send is just
	// a failed Send; the timeout aborts requests that outlive RequestTimeout.
	base := []Middleware{RecoveryMiddleware(), TimeoutMiddleware(o.cfg.RequestTimeout)}
	mws := append(base, o.middleware...)

	e := &Engine{
		cfg:     o.cfg,
		codec:   o.codec,
		clock:   o.clock,
		logger:  o.logger,
		beacon:  o.beacon,
		store:   o.store,
		metrics: o.metrics,
		notify:  o.notify,
	}
	if o.primary != nil {
		e.primary = Chain(o.primary.Send, mws...)
		e.closers = append(e.closers, o.primary)
	}
	if o.fallback != nil {
		e.fallback = Chain(o.fallback.Send, mws...)
		e.closers = append(e.closers, o.fallback)
	}
	if e.beacon == nil && o.primary != nil {
		if b, ok := o.primary.(Beaconer); ok {
			e.beacon = b
		}
	}
	return e
}

// Send routes one event: urgent high-priority events go out immediately,
// everything else waits in its priority sequence for the batch timer.
func (e *Engine) Send(ev Event) {
	if e.closed.Load() {
		return
	}
	if !ev.Priority.valid() {
		ev.Priority = ev.Category.DefaultPriority()
	}
	if ev.Priority == PriorityHigh && !e.cfg.DeferHighPriority {
		e.mu.Lock()
		f := e.flyLocked(PriorityHigh, []Event{ev}, true)
		e.mu.Unlock()
		e.dispatch(f)
		return
	}

	e.mu.Lock()
	idx := ev.Priority.index()
	e.queues[idx] = append(e.queues[idx], ev)
	var forced []*flight
	if e.residentLocked() > e.cfg.MaxQueueSize {
		forced = e.drainLocked(e.cfg.BatchSize)
	}
	e.mu.Unlock()

	e.metrics.enqueued.Add(1)
	e.notify(LifecycleEvent{Type: EventEnqueued, Priority: ev.Priority, Events: 1})

	if len(forced) > 0 {
		e.metrics.forcedFlushes.Add(1)
		if e.cfg.Debug {
			e.logger.Debug().Msg("xbeacon: queue ceiling exceeded, forcing flush")
		}
		for _, f := range forced {
			e.dispatch(f)
		}
	}
}

// Status returns resident counts per sequence, retry set size and in-flight
// deliveries. It has no side effects.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{
		High:     len(e.queues[0]),
		Medium:   len(e.queues[1]),
		Low:      len(e.queues[2]),
		Retry:    len(e.retries),
		InFlight: int(e.inFlight.Load()),
	}
	s.Queued = s.High + s.Medium + s.Low
	return s
}

// Flush drains every sequence in BatchSize chunks and waits until all
// in-flight deliveries have finished or ctx is done.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	var flights []*flight
	for {
		next := e.drainLocked(e.cfg.BatchSize)
		if len(next) == 0 {
			break
		}
		flights = append(flights, next...)
	}
	e.mu.Unlock()

	for _, f := range flights {
		e.dispatch(f)
	}
	return e.wait(ctx)
}

// Start restores persisted events and launches the batch and retry loops.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.restore()

		delay := e.store.InitialDelay(e.clock.Now(), e.cfg.ReportInterval)
		lctx, cancel := context.WithCancel(ctx)
		e.cancel = cancel

		e.loops.Add(2)
		go e.batchLoop(lctx, delay)
		go e.retryLoop(lctx)
	})
}

// Close stops the loops, flushes, persists what could not be delivered and
// closes the transports. Idempotent.
func (e *Engine) Close(ctx context.Context) error {
	var closeErr error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.cancel != nil {
			e.cancel()
		}
		e.loops.Wait()

		if err := e.Flush(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("xbeacon: flush on close incomplete")
			closeErr = err
		}

		if n, ok := e.persist(); ok && n > 0 {
			e.persisted(n)
		}

		for _, t := range e.closers {
			if err := t.Close(ctx); err != nil {
				e.logger.Error().Err(err).Msg("xbeacon: transport close failed")
				closeErr = err
			}
		}
	})
	return closeErr
}

// restore re-enqueues the persisted snapshot. The stored copy stays until
// deliveries shrink it, so a crash right after start loses nothing.
func (e *Engine) restore() {
	events := e.store.Restore()
	if len(events) == 0 {
		return
	}
	e.stored.Store(true)

	e.mu.Lock()
	for _, ev := range events {
		if !ev.Priority.valid() {
			ev.Priority = ev.Category.DefaultPriority()
		}
		idx := ev.Priority.index()
		e.queues[idx] = append(e.queues[idx], ev)
	}
	var forced []*flight
	for e.residentLocked() > e.cfg.MaxQueueSize {
		forced = append(forced, e.drainLocked(e.cfg.BatchSize)...)
	}
	e.mu.Unlock()

	e.metrics.restored.Add(uint64(len(events)))
	e.notify(LifecycleEvent{Type: EventRestored, Events: len(events)})
	for _, f := range forced {
		e.dispatch(f)
	}
}

func (e *Engine) batchLoop(ctx context.Context, first time.Duration) {
	defer e.loops.Done()

	timer := time.NewTimer(first)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		e.tick()
	}

	ticker := time.NewTicker(e.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) retryLoop(ctx context.Context) {
	defer e.loops.Done()

	ticker := time.NewTicker(e.cfg.RetryTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.retryTick()
		}
	}
}

// tick drains up to BatchSize events from each sequence, high first, then
// medium, then low. It is skipped while too many sends are in flight.
func (e *Engine) tick() int {
	if int(e.inFlight.Load()) > e.cfg.MaxConcurrentSends {
		if e.cfg.Debug {
			e.logger.Debug().Msg("xbeacon: batch tick skipped, sends in flight")
		}
		return 0
	}
	e.mu.Lock()
	flights := e.drainLocked(e.cfg.BatchSize)
	e.mu.Unlock()

	for _, f := range flights {
		e.dispatch(f)
	}
	return len(flights)
}

// dispatch starts an asynchronous delivery of f and accounts for it as in
// flight before returning.
func (e *Engine) dispatch(f *flight) {
	e.pending.Add(1)
	e.inFlight.Add(1)
	go func() {
		defer e.pending.Done()
		defer e.inFlight.Add(-1)
		e.deliver(f)
	}()
}

func (e *Engine) deliver(f *flight) {
	req, err := e.encode(f.events)
	if err != nil {
		e.mu.Lock()
		f.done = true
		e.removeFlightLocked(f)
		e.mu.Unlock()
		e.drop(f.events, err)
		return
	}

	start := e.clock.Now()
	e.notify(LifecycleEvent{Type: EventSendStart, Priority: f.priority, Events: len(f.events)})

	// A beacon reports the outcome later through req.Done.
	if f.urgent && e.beacon != nil && req.Events <= e.cfg.BatchSize {
		req.Done = func(err error) { e.settle(f, strategyBeacon, start, err) }
		if e.safeBeacon(req) {
			return
		}
		req.Done = nil
		if e.cfg.Debug {
			e.logger.Debug().Msg("xbeacon: beacon unavailable, using primary transport")
		}
	}

	strategy, err := e.transmit(context.Background(), req)
	e.settle(f, strategy, start, err)
}

// settle records the outcome of f. Only the first call counts. A failure
// moves the batch into the retry set unless a teardown hand-off owns it.
func (e *Engine) settle(f *flight, strategy string, start time.Time, err error) {
	e.mu.Lock()
	if f.done {
		e.mu.Unlock()
		return
	}
	f.done, f.err = true, err
	e.removeFlightLocked(f)
	var rec *retryRecord
	var exhausted bool
	if err != nil && !f.handedOff {
		rec = e.retryLocked(f.priority, f.events)
		exhausted = rec == nil
	}
	e.mu.Unlock()

	e.notify(LifecycleEvent{
		Type:     EventSendDone,
		Strategy: strategy,
		Priority: f.priority,
		Events:   len(f.events),
		Duration: e.clock.Now().Sub(start),
		Err:      err,
	})
	switch {
	case err == nil:
		e.delivered(f.events, f.urgent)
	case rec != nil:
		e.metrics.sendFailures.Add(1)
		e.notify(LifecycleEvent{Type: EventRetryScheduled, Priority: f.priority, Events: len(f.events), Err: err})
	default:
		e.metrics.sendFailures.Add(1)
		if exhausted {
			e.drop(f.events, fmt.Errorf("%w: %w", errRetriesDisabled, err))
		}
	}
}

func (e *Engine) delivered(events []Event, urgent bool) {
	e.metrics.batchesSent.Add(1)
	e.metrics.eventsSent.Add(uint64(len(events)))
	if !urgent {
		e.store.RecordLastFlushTime(e.clock.Now())
	}
	e.resync()
}

// transmit runs the network strategies: the primary transport, then the
// fallback transport for transport-level errors.
func (e *Engine) transmit(ctx context.Context, req *Request) (string, error) {
	if e.primary == nil {
		return strategyPrimary, ErrNoTransportConfigured
	}

	err := e.primary(ctx, req)
	if err == nil {
		return strategyPrimary, nil
	}
	var statusErr *StatusError
	if e.fallback == nil || errors.As(err, &statusErr) {
		return strategyPrimary, err
	}
	if e.cfg.Debug {
		e.logger.Debug().Err(err).Msg("xbeacon: primary transport failed, using fallback")
	}
	if err := e.fallback(ctx, req); err != nil {
		return strategyFallback, err
	}
	return strategyFallback, nil
}

func (e *Engine) safeBeacon(req *Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return e.beacon.Beacon(req)
}

func (e *Engine) encode(events []Event) (*Request, error) {
	body, err := e.codec.Marshal(events)
	if err != nil {
		return nil, err
	}
	return &Request{
		Endpoint:    e.cfg.Endpoint,
		ContentType: e.codec.ContentType(),
		Body:        body,
		Events:      len(events),
	}, nil
}

func (e *Engine) drop(events []Event, reason error) {
	e.metrics.dropped.Add(uint64(len(events)))
	e.notify(LifecycleEvent{Type: EventDropped, Events: len(events), Err: reason})
	e.logger.Warn().Err(reason).Msg("xbeacon: batch dropped")
	e.resync()
}

// wait blocks until every dispatched delivery has returned.
func (e *Engine) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) residentLocked() int {
	n := 0
	for i := range e.queues {
		n += len(e.queues[i])
	}
	return n
}

// drainLocked moves up to limit events from the front of every sequence into
// a new flight, in priority order, producing at most one flight per sequence.
func (e *Engine) drainLocked(limit int) []*flight {
	var out []*flight
	for i, p := range priorities {
		q := e.queues[i]
		if len(q) == 0 {
			continue
		}
		n := min(limit, len(q))
		events := make([]Event, n)
		copy(events, q[:n])
		if n == len(q) {
			e.queues[i] = nil
		} else {
			e.queues[i] = q[n:]
		}
		out = append(out, e.flyLocked(p, events, false))
	}
	return out
}

func (e *Engine) flyLocked(p Priority, events []Event, urgent bool) *flight {
	f := &flight{priority: p, events: events, urgent: urgent}
	e.flights = append(e.flights, f)
	return f
}

func (e *Engine) removeFlightLocked(f *flight) {
	for i, x := range e.flights {
		if x == f {
			e.flights = append(e.flights[:i], e.flights[i+1:]...)
			return
		}
	}
}

// snapshotLocked lists every undelivered event: queued ones in priority
// order, then those waiting for a retry, then those on the network or held
// by an unconfirmed teardown hand-off.
func (e *Engine) snapshotLocked() []Event {
	var out []Event
	for i := range e.queues {
		out = append(out, e.queues[i]...)
	}
	for _, r := range e.retries {
		out = append(out, r.events...)
	}
	for _, f := range e.flights {
		if !f.handedOff {
			out = append(out, f.events...)
		}
	}
	for _, h := range e.handoffs {
		out = append(out, h.events...)
	}
	return out
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xbeacon"
)

const TransportName = "memory"

func init() {
	if err := xbeacon.RegisterTransport(TransportName, func(cfg map[string]any) (xbeacon.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xbeacon/memory: failed to register transport: %w", err))
	}
}

// ErrClosed is returned by Send and Subscribe after Close.
var ErrClosed = errors.New("memory transport is closed")

// Config controls memory transport behavior.
type Config struct {
	// BufferSize is the per-subscriber queue size (default: 1024).
	BufferSize int
	// Concurrency is the number of worker goroutines per subscription (default: 1).
	Concurrency int
	// Latency delays every Send to emulate a round trip (default: 0).
	Latency time.Duration
	// DisableBeacon makes Beacon refuse every request, forcing the agent onto
	// the primary strategy.
	DisableBeacon bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	return Config{
		BufferSize:    max(1, getInt("buffer_size", 1024)),
		Concurrency:   max(1, getInt("concurrency", 1)),
		Latency:       getDur("latency", 0),
		DisableBeacon: getBool("disable_beacon", false),
	}
}

// Batch is one request as seen by the in-process collector.
type Batch struct {
	Seq        uint64
	Events     []xbeacon.Event
	Beacon     bool
	ReceivedAt time.Time
}

// Transport is an in-process collector. It decodes every batch it receives
// and fans it out to subscribers (dev/testing).
type Transport struct {
	cfg Config

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64

	closed atomic.Bool
	seq    atomic.Uint64

	// Metrics for observability
	metrics *transportMetrics
}

type transportMetrics struct {
	received        atomic.Uint64
	events          atomic.Uint64
	beacons         atomic.Uint64
	beaconsRejected atomic.Uint64
	delivered       atomic.Uint64
	decodeErrors    atomic.Uint64
}

var (
	_ xbeacon.Transport = (*Transport)(nil)
	_ xbeacon.Beaconer  = (*Transport)(nil)
)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Transport{
		cfg:     cfg,
		subs:    make(map[uint64]*subscriber),
		metrics: &transportMetrics{},
	}
}

// Send decodes req and queues it for every subscriber, blocking while a
// subscriber queue is full.
func (t *Transport) Send(ctx context.Context, req *xbeacon.Request) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.cfg.Latency > 0 {
		timer := time.NewTimer(t.cfg.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	b, err := t.decode(req, false)
	if err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.subs {
		select {
		case s.queue <- b:
		default:
			// Queue full: block to preserve ordering
			select {
			case s.queue <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Beacon queues req without blocking. It reports false when disabled, closed,
// undecodable, or when any subscriber queue is full.
func (t *Transport) Beacon(req *xbeacon.Request) bool {
	if t.cfg.DisableBeacon || t.closed.Load() {
		t.metrics.beaconsRejected.Add(1)
		return false
	}
	b, err := t.decode(req, true)
	if err != nil {
		t.metrics.beaconsRejected.Add(1)
		return false
	}

	if !t.fanOut(b) {
		t.metrics.beaconsRejected.Add(1)
		return false
	}
	t.metrics.beacons.Add(1)
	if req.Done != nil {
		// Queued for every subscriber counts as delivered in process.
		req.Done(nil)
	}
	return true
}

// fanOut queues b for every subscriber, or for none when any queue is full.
func (t *Transport) fanOut(b *Batch) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.subs {
		if len(s.queue) == cap(s.queue) {
			return false
		}
	}
	for _, s := range t.subs {
		select {
		case s.queue <- b:
		default:
		}
	}
	return true
}

func (t *Transport) decode(req *xbeacon.Request, beacon bool) (*Batch, error) {
	codec, err := xbeacon.CodecForContentType(req.ContentType)
	if err != nil {
		t.metrics.decodeErrors.Add(1)
		return nil, err
	}
	events, err := xbeacon.DecodeBatch(codec, req.Body)
	if err != nil {
		t.metrics.decodeErrors.Add(1)
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	t.metrics.received.Add(1)
	t.metrics.events.Add(uint64(len(events)))
	return &Batch{
		Seq:        t.seq.Add(1),
		Events:     events,
		Beacon:     beacon,
		ReceivedAt: time.Now(),
	}, nil
}

// Subscription stops a handler registered with Subscribe.
type Subscription interface {
	Close() error
}

// Subscribe registers handler for every batch received from now on.
func (t *Transport) Subscribe(ctx context.Context, handler func(Batch)) (Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	s := &subscriber{queue: make(chan *Batch, t.cfg.BufferSize)}
	t.mu.Lock()
	t.next++
	id := t.next
	t.subs[id] = s
	t.mu.Unlock()

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	for i := 0; i < t.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.worker(innerCtx, s, handler)
		}()
	}

	return &subscription{
		close: func() error {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			cancel()
			wg.Wait()
			return nil
		},
	}, nil
}

// worker hands queued batches to the handler.
func (t *Transport) worker(ctx context.Context, s *subscriber, handler func(Batch)) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-s.queue:
			if b == nil {
				continue
			}
			t.metrics.delivered.Add(1)
			handler(*b)
		}
	}
}

// Close stops accepting requests. Existing subscriptions keep draining until
// they are closed.
func (t *Transport) Close(_ context.Context) error {
	t.closed.Store(true)
	return nil
}

// Stats returns transport telemetry.
type Stats struct {
	Received        uint64
	Events          uint64
	Beacons         uint64
	BeaconsRejected uint64
	Delivered       uint64
	DecodeErrors    uint64
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	return Stats{
		Received:        t.metrics.received.Load(),
		Events:          t.metrics.events.Load(),
		Beacons:         t.metrics.beacons.Load(),
		BeaconsRejected: t.metrics.beaconsRejected.Load(),
		Delivered:       t.metrics.delivered.Load(),
		DecodeErrors:    t.metrics.decodeErrors.Load(),
	}
}

// Internal types

type subscription struct {
	close func() error
	once  sync.Once
	err   error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		if s.close != nil {
			s.err = s.close()
		}
	})
	return s.err
}

type subscriber struct {
	queue chan *Batch
}

package xbeacon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTransport records decoded batches. sendFn, when set, runs before the
// batch is recorded; a non-nil error fails the send.
type fakeTransport struct {
	mu     sync.Mutex
	calls  int
	sendFn func(call int, req *Request) error
	sent   [][]Event
	closed bool
}

func (f *fakeTransport) Send(_ context.Context, req *Request) error {
	f.mu.Lock()
	call := f.calls
	f.calls++
	fn := f.sendFn
	f.mu.Unlock()

	if fn != nil {
		if err := fn(call, req); err != nil {
			return err
		}
	}
	events, err := DecodeBatch(JSONCodec{}, req.Body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, events)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) batches() [][]Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]Event(nil), f.sent...)
}

func (f *fakeTransport) events() []Event {
	var out []Event
	for _, b := range f.batches() {
		out = append(out, b...)
	}
	return out
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeBeacon accepts requests while ok is true. Accepted requests report
// success through req.Done at once unless hold is set; held callbacks run on
// complete.
type fakeBeacon struct {
	mu   sync.Mutex
	ok   bool
	hold bool
	sent [][]Event
	hits int
	held []func(error)
}

func (b *fakeBeacon) Beacon(req *Request) bool {
	b.mu.Lock()
	b.hits++
	if !b.ok {
		b.mu.Unlock()
		return false
	}
	events, err := DecodeBatch(JSONCodec{}, req.Body)
	if err != nil {
		b.mu.Unlock()
		return false
	}
	b.sent = append(b.sent, events)
	hold := b.hold
	if hold && req.Done != nil {
		b.held = append(b.held, req.Done)
	}
	b.mu.Unlock()

	if !hold && req.Done != nil {
		req.Done(nil)
	}
	return true
}

// complete reports err for every held request.
func (b *fakeBeacon) complete(err error) {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.mu.Unlock()
	for _, done := range held {
		done(err)
	}
}

func (b *fakeBeacon) batches() [][]Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]Event(nil), b.sent...)
}

// fakeStore is an in-memory PersistentStore. When gate is set, Set counts
// itself in setWaiting and blocks until gate is closed.
type fakeStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	failSet    bool
	panics     bool
	gate       chan struct{}
	setWaiting atomic.Int32
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][]byte{}} }

func (s *fakeStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("storage access denied")
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) Set(key string, value []byte) error {
	if s.gate != nil {
		s.setWaiting.Add(1)
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("storage access denied")
	}
	if s.failSet {
		return ErrQuotaExceeded
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *fakeStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("storage access denied")
	}
	delete(s.data, key)
	return nil
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func testConfig() Config {
	cfg := Defaults()
	cfg.AppID = "app"
	cfg.Endpoint = "https://collector.example.com/v1/events"
	return cfg
}

type engineFixture struct {
	engine    *Engine
	clock     *fakeClock
	transport *fakeTransport
	store     *fakeStore
	metrics   *agentMetrics
}

func newEngineFixture(t *testing.T, cfg Config, mutate func(*engineOptions)) *engineFixture {
	t.Helper()
	cfg = cfg.normalize()
	require.NoError(t, cfg.Validate())

	f := &engineFixture{
		clock:     newFakeClock(),
		transport: &fakeTransport{},
		store:     newFakeStore(),
		metrics:   &agentMetrics{},
	}
	o := engineOptions{
		cfg:     cfg,
		codec:   JSONCodec{},
		clock:   f.clock,
		primary: f.transport,
		store:   NewQueueStore(f.store, cfg.Namespace, cfg.MaxPersistBytes, nil),
		metrics: f.metrics,
	}
	if mutate != nil {
		mutate(&o)
	}
	f.engine = newEngine(o)
	return f
}

func (f *engineFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.wait(ctx))
}

func event(cat Category, name string) Event {
	return Event{AppID: "app", Category: cat, Name: name, Priority: cat.DefaultPriority()}
}

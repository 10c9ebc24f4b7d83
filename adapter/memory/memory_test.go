package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xbeacon"
)

func request(t *testing.T, c xbeacon.Codec, events ...xbeacon.Event) *xbeacon.Request {
	body, err := c.Marshal(events)
	require.NoError(t, err)
	return &xbeacon.Request{
		Endpoint:    "http://collector.local/v1/events",
		ContentType: c.ContentType(),
		Body:        body,
		Events:      len(events),
	}
}

func collect(t *testing.T, tr *Transport) (func() []Batch, func()) {
	var (
		mu  sync.Mutex
		got []Batch
	)
	sub, err := tr.Subscribe(context.Background(), func(b Batch) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})
	require.NoError(t, err)

	snapshot := func() []Batch {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Batch, len(got))
		copy(out, got)
		return out
	}
	return snapshot, func() { _ = sub.Close() }
}

func TestTransport_SendDecodesForSubscribers(t *testing.T) {
	for _, c := range []xbeacon.Codec{xbeacon.JSONCodec{}, xbeacon.CBORCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			tr := NewTransport(Config{})
			got, stop := collect(t, tr)
			defer stop()

			ev := xbeacon.Event{
				AppID:    "app",
				Category: xbeacon.CategoryBehavior,
				Name:     "click",
				Payload:  map[string]any{"target": "#buy"},
				Priority: xbeacon.PriorityLow,
			}
			require.NoError(t, tr.Send(context.Background(), request(t, c, ev)))

			require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)
			b := got()[0]
			assert.False(t, b.Beacon)
			require.Len(t, b.Events, 1)
			assert.Equal(t, "click", b.Events[0].Name)
			assert.Equal(t, "#buy", b.Events[0].Payload.(map[string]any)["target"])
			assert.Equal(t, uint64(1), tr.Stats().Events)
		})
	}
}

func TestTransport_SendRejectsUnknownContentType(t *testing.T) {
	tr := NewTransport(Config{})
	req := &xbeacon.Request{ContentType: "text/plain", Body: []byte("x")}

	require.Error(t, tr.Send(context.Background(), req))
	assert.Equal(t, uint64(1), tr.Stats().DecodeErrors)
}

func TestTransport_SendHonorsContextDuringLatency(t *testing.T) {
	tr := NewTransport(Config{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := tr.Send(ctx, request(t, xbeacon.JSONCodec{}, xbeacon.Event{Name: "slow"}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransport_Beacon(t *testing.T) {
	tr := NewTransport(Config{BufferSize: 1})
	got, stop := collect(t, tr)
	defer stop()

	req := request(t, xbeacon.JSONCodec{}, xbeacon.Event{Name: "a"})
	var outcomes []error
	req.Done = func(err error) { outcomes = append(outcomes, err) }
	assert.True(t, tr.Beacon(req))
	require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, got()[0].Beacon)
	assert.Equal(t, []error{nil}, outcomes)

	disabled := NewTransport(Config{DisableBeacon: true})
	assert.False(t, disabled.Beacon(request(t, xbeacon.JSONCodec{}, xbeacon.Event{Name: "b"})))
	assert.Equal(t, uint64(1), disabled.Stats().BeaconsRejected)
}

func TestTransport_Closed(t *testing.T) {
	tr := NewTransport(Config{})
	require.NoError(t, tr.Close(context.Background()))

	assert.ErrorIs(t, tr.Send(context.Background(), request(t, xbeacon.JSONCodec{})), ErrClosed)
	assert.False(t, tr.Beacon(request(t, xbeacon.JSONCodec{})))
	_, err := tr.Subscribe(context.Background(), func(Batch) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"buffer_size":    16,
		"concurrency":    float64(4),
		"latency":        "25ms",
		"disable_beacon": true,
	})
	assert.Equal(t, 16, cfg.BufferSize)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 25*time.Millisecond, cfg.Latency)
	assert.True(t, cfg.DisableBeacon)

	def := ConfigFromMap(nil)
	assert.Equal(t, 1024, def.BufferSize)
	assert.Equal(t, 1, def.Concurrency)
}

func TestStore_Quota(t *testing.T) {
	s := NewStore(8)

	_, err := s.Get("k")
	assert.ErrorIs(t, err, xbeacon.ErrNotFound)

	require.NoError(t, s.Set("k", []byte("12345")))
	assert.ErrorIs(t, s.Set("j", []byte("12345")), xbeacon.ErrQuotaExceeded)
	// Replacing a value only counts the difference.
	require.NoError(t, s.Set("k", []byte("12345678")))

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(v))

	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Set("j", []byte("12345")))
	assert.Equal(t, 1, s.Len())
}

func TestUse_EndToEnd(t *testing.T) {
	cfg := xbeacon.Defaults()
	cfg.AppID = "shop"
	cfg.Endpoint = "http://collector.local/v1/events"

	store := NewStore(0)
	agent, tr := Use(cfg, Config{}, WithStore(store))
	defer xbeacon.SetDefault(nil)
	got, stop := collect(t, tr)
	defer stop()

	require.Same(t, agent, xbeacon.Default())

	xbeacon.AddBreadcrumb(xbeacon.Breadcrumb{Category: "nav", Message: "opened cart"})
	xbeacon.Report(xbeacon.Observation{Category: xbeacon.CategoryBehavior, Name: "add_to_cart"})
	xbeacon.Report(xbeacon.Observation{Category: xbeacon.CategoryError, Name: "TypeError"})

	require.NoError(t, agent.Teardown(context.Background()))

	require.Eventually(t, func() bool {
		n := 0
		for _, b := range got() {
			n += len(b.Events)
		}
		return n == 2
	}, time.Second, 5*time.Millisecond)

	for _, b := range got() {
		for _, ev := range b.Events {
			assert.Equal(t, "shop", ev.AppID)
			assert.Equal(t, agent.SessionID(), ev.SessionID)
			require.Len(t, ev.Breadcrumbs, 1)
			assert.Equal(t, "opened cart", ev.Breadcrumbs[0].Message)
		}
	}
	_, err := store.Get(cfg.Namespace + ":queue")
	assert.ErrorIs(t, err, xbeacon.ErrNotFound)
}

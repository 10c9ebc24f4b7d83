package httpsender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xbeacon"
)

var errClosed = errors.New("httpsender: transport is closed")

// Transport POSTs encoded batches to the collector. Its Beacon hands a batch
// to a background sender and returns without waiting on the network.
type Transport struct {
	cfg    Config
	client *http.Client

	beacons chan *xbeacon.Request
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	requests        atomic.Uint64
	failures        atomic.Uint64
	beacons         atomic.Uint64
	beaconsRejected atomic.Uint64
	bytesSent       atomic.Uint64
}

var (
	_ xbeacon.Transport = (*Transport)(nil)
	_ xbeacon.Beaconer  = (*Transport)(nil)
)

// NewTransport creates the primary HTTP transport.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConns = cfg.MaxIdleConns
	base.MaxIdleConnsPerHost = cfg.MaxIdleConns
	base.IdleConnTimeout = cfg.IdleConnTimeout

	t := &Transport{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: base},
		beacons: make(chan *xbeacon.Request, cfg.BeaconQueue),
		metrics: &transportMetrics{},
	}
	t.wg.Add(1)
	go t.beaconLoop()
	return t, nil
}

// NewLegacyTransport creates the compatibility transport used as the last
// resort: a fresh connection per request and no body compression. It does
// not accept beacons.
func NewLegacyTransport(cfg Config) (*LegacyTransport, error) {
	cfg.Compression = CompressionNone
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LegacyTransport{inner: &Transport{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{DisableKeepAlives: true, Proxy: http.ProxyFromEnvironment},
		},
		metrics: &transportMetrics{},
	}}, nil
}

// Send performs one POST. Any 2xx status is success; other statuses are
// returned as *xbeacon.StatusError.
func (t *Transport) Send(ctx context.Context, req *xbeacon.Request) error {
	if t.closed.Load() {
		return errClosed
	}
	t.metrics.requests.Add(1)
	if err := t.post(ctx, req); err != nil {
		t.metrics.failures.Add(1)
		return err
	}
	return nil
}

func (t *Transport) post(ctx context.Context, req *xbeacon.Request) error {
	body, encoding, err := compress(t.cfg.Compression, req.Body, t.cfg.MinCompressBytes)
	if err != nil {
		return err
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpsender: %w", err)
	}
	hr.Header.Set("Content-Type", req.ContentType)
	if encoding != "" {
		hr.Header.Set("Content-Encoding", encoding)
	}
	if t.cfg.UserAgent != "" {
		hr.Header.Set("User-Agent", t.cfg.UserAgent)
	}
	for k, v := range t.cfg.Headers {
		hr.Header.Set(k, v)
	}

	resp, err := t.client.Do(hr)
	if err != nil {
		return fmt.Errorf("httpsender: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	t.metrics.bytesSent.Add(uint64(len(body)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &xbeacon.StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Beacon queues req for background delivery. It returns false when the
// queue is full or the transport is closed. req.Done receives the result of
// the background POST.
func (t *Transport) Beacon(req *xbeacon.Request) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() || t.beacons == nil {
		t.metrics.beaconsRejected.Add(1)
		return false
	}
	select {
	case t.beacons <- req:
		t.metrics.beacons.Add(1)
		return true
	default:
		t.metrics.beaconsRejected.Add(1)
		return false
	}
}

func (t *Transport) beaconLoop() {
	defer t.wg.Done()
	for req := range t.beacons {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.BeaconTimeout)
		t.metrics.requests.Add(1)
		err := t.post(ctx, req)
		cancel()
		if err != nil {
			t.metrics.failures.Add(1)
		}
		if req.Done != nil {
			req.Done(err)
		}
	}
}

// Close stops accepting requests and waits, bounded by ctx, for queued
// beacons to go out.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed.Swap(true) {
		t.mu.Unlock()
		return nil
	}
	if t.beacons != nil {
		close(t.beacons)
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	defer t.client.CloseIdleConnections()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns transport telemetry.
type Stats struct {
	Requests        uint64
	Failures        uint64
	Beacons         uint64
	BeaconsRejected uint64
	BytesSent       uint64
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	return Stats{
		Requests:        t.metrics.requests.Load(),
		Failures:        t.metrics.failures.Load(),
		Beacons:         t.metrics.beacons.Load(),
		BeaconsRejected: t.metrics.beaconsRejected.Load(),
		BytesSent:       t.metrics.bytesSent.Load(),
	}
}

// LegacyTransport is the fallback strategy. It exposes Send and Close only,
// so the engine never picks it as a beacon.
type LegacyTransport struct {
	inner *Transport
}

var _ xbeacon.Transport = (*LegacyTransport)(nil)

func (l *LegacyTransport) Send(ctx context.Context, req *xbeacon.Request) error {
	return l.inner.Send(ctx, req)
}

func (l *LegacyTransport) Close(ctx context.Context) error { return l.inner.Close(ctx) }

// Stats returns transport telemetry.
func (l *LegacyTransport) Stats() Stats { return l.inner.Stats() }

package xbeacon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// Agent is the event coordinator. It samples the session, enriches reported
// observations into Events and hands them to its Engine. Nothing it does
// surfaces an error or a panic to the producer.
type Agent struct {
	cfg       Config
	sampled   bool
	sessionID string

	userMu sync.RWMutex
	userID string

	crumbs   *breadcrumbTrail
	engine   *Engine
	registry *Registry
	clock    Clock
	logger   *xlog.Logger
	metrics  *agentMetrics

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	closed    atomic.Bool
	closeOnce sync.Once
}

// Report turns obs into an Event and forwards it for delivery. It never
// panics: failures in producers, URLFunc or BeforeSend are swallowed and
// logged in debug mode.
func (a *Agent) Report(obs Observation) {
	defer a.isolate("report")

	if a.closed.Load() {
		return
	}
	if !a.sampled {
		a.metrics.sampledOut.Add(1)
		return
	}
	if !obs.Category.Valid() {
		if a.cfg.Debug {
			a.logger.Debug().Str("category", string(obs.Category)).Msg("xbeacon: unknown category, event dropped")
		}
		return
	}
	if !a.cfg.categoryEnabled(obs.Category) {
		return
	}
	a.metrics.reported.Add(1)

	ev := a.buildEvent(obs)
	if a.cfg.BeforeSend != nil {
		out := a.cfg.BeforeSend(ev)
		if out == nil {
			a.metrics.suppressed.Add(1)
			a.notifyAsync(LifecycleEvent{Type: EventSuppressed, Priority: ev.Priority, Events: 1})
			return
		}
		ev = *out
	}
	a.engine.Send(ev)
}

func (a *Agent) buildEvent(obs Observation) Event {
	priority := obs.Priority
	if !priority.valid() {
		priority = obs.Category.DefaultPriority()
	}
	var url string
	if a.cfg.URLFunc != nil {
		url = a.cfg.URLFunc()
	}
	a.userMu.RLock()
	user := a.userID
	a.userMu.RUnlock()

	return Event{
		AppID:       a.cfg.AppID,
		Timestamp:   a.clock.Now().UnixMilli(),
		Category:    obs.Category,
		Name:        obs.Name,
		Payload:     obs.Payload,
		SessionID:   a.sessionID,
		UserID:      user,
		URL:         url,
		Environment: a.cfg.Environment,
		Breadcrumbs: a.crumbs.snapshot(),
		Priority:    priority,
	}
}

// AddBreadcrumb appends b to the trail, evicting the oldest entry when full.
// A zero Timestamp is stamped from the clock and a zero Level becomes info.
func (a *Agent) AddBreadcrumb(b Breadcrumb) {
	defer a.isolate("breadcrumb")

	if a.closed.Load() || !a.sampled {
		return
	}
	if b.Timestamp == 0 {
		b.Timestamp = a.clock.Now().UnixMilli()
	}
	if b.Level == "" {
		b.Level = LevelInfo
	}
	a.crumbs.add(b)
}

// SetUser attaches a user identifier to subsequent events.
func (a *Agent) SetUser(id string) {
	a.userMu.Lock()
	a.userID = id
	a.userMu.Unlock()
}

// SessionID returns the identifier stamped on every event of this Agent.
func (a *Agent) SessionID() string { return a.sessionID }

// Sampled reports whether this session is monitored.
func (a *Agent) Sampled() bool { return a.sampled }

// Config returns the effective configuration.
func (a *Agent) Config() Config { return a.cfg }

// Logger returns the agent logger for extensions.
func (a *Agent) Logger() *xlog.Logger { return a.logger }

// Use installs an extension on this Agent.
func (a *Agent) Use(ext Extension) error {
	if a.closed.Load() {
		return ErrAgentClosed
	}
	return a.registry.Install(ext)
}

// Unuse uninstalls the named extension.
func (a *Agent) Unuse(name string) bool {
	return a.registry.Uninstall(name)
}

// Extensions lists installed extension names.
func (a *Agent) Extensions() []string { return a.registry.List() }

// HasExtension reports whether name is installed.
func (a *Agent) HasExtension(name string) bool { return a.registry.Has(name) }

// Flush forces queued events out and waits for in-flight deliveries.
func (a *Agent) Flush(ctx context.Context) error {
	if a.engine == nil {
		return nil
	}
	return a.engine.Flush(ctx)
}

// Hide signals that the host is going away. It persists and beacons pending
// events without blocking on the network.
func (a *Agent) Hide() {
	defer a.isolate("hide")
	if a.engine == nil {
		return
	}
	a.engine.Hide()
}

// Status reports engine queue depths. Unsampled agents report zeros.
func (a *Agent) Status() Status {
	if a.engine == nil {
		return Status{}
	}
	return a.engine.Status()
}

// Teardown stops accepting events, flushes the engine, uninstalls every
// extension and clears the breadcrumb trail. Calling it again does nothing.
func (a *Agent) Teardown(ctx context.Context) error {
	var closeErr error

	a.closeOnce.Do(func() {
		a.closed.Store(true)

		if a.engine != nil {
			if err := a.engine.Close(ctx); err != nil {
				closeErr = err
			}
		}

		a.registry.UninstallAll()
		a.crumbs.clear()

		if a.observerPool != nil {
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err := a.observerPool.Close(pctx)
			cancel()
			if err != nil {
				a.logger.Warn().Err(err).Msg("xbeacon: observer pool shutdown timeout")
			}
		}
	})

	return closeErr
}

// GetMetrics returns current agent metrics.
func (a *Agent) GetMetrics() Metrics {
	m := a.metrics.snapshot()
	if a.observerPool != nil {
		m.LifecycleDropped = a.observerPool.Stats().Dropped
	}
	return m
}

// Health summarizes delivery health.
func (a *Agent) Health(_ context.Context) HealthStatus {
	now := a.clock.Now()
	if a.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "agent is closed"}
	}

	metrics := a.GetMetrics()
	if !a.sampled {
		return HealthStatus{Status: "healthy", Metrics: metrics, Timestamp: now, Message: "session not sampled"}
	}

	status := "healthy"
	var msg string
	attempts := metrics.BatchesSent + metrics.SendFailures
	if metrics.Dropped > 0 {
		status = "degraded"
		msg = fmt.Sprintf("%d events dropped", metrics.Dropped)
	} else if attempts > 0 && float64(metrics.SendFailures)/float64(attempts) > 0.05 {
		status = "degraded"
		msg = "send failure rate above 5%"
	}

	return HealthStatus{Status: status, Metrics: metrics, Timestamp: now, Message: msg}
}

// AddObserver registers an observer (thread-safe).
func (a *Agent) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	a.observersMu.Lock()
	a.observers = append(a.observers, obs)
	a.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (a *Agent) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	a.observersMu.Lock()
	defer a.observersMu.Unlock()

	for i, o := range a.observers {
		if o == obs {
			a.observers = append(a.observers[:i], a.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches lifecycle events without blocking the caller.
func (a *Agent) notifyAsync(e LifecycleEvent) {
	if a.observerPool == nil {
		return
	}

	a.observersMu.RLock()
	if len(a.observers) == 0 {
		a.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(a.observers))
	copy(observers, a.observers)
	a.observersMu.RUnlock()

	a.observerPool.Notify(e, observers)
}

// isolate recovers any panic raised below a public entry point.
func (a *Agent) isolate(op string) {
	if r := recover(); r != nil && a.cfg.Debug {
		a.logger.Debug().Err(fmt.Errorf("panic recovered: %v", r)).Str("op", op).Msg("xbeacon: producer failure swallowed")
	}
}

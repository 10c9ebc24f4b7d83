package memory

import (
	"fmt"

	"github.com/trickstertwo/xbeacon"
	"github.com/trickstertwo/xlog"
)

// Use builds an Agent that delivers to an in-process collector and sets it
// as the default. The transport is returned so callers can Subscribe to what
// the agent sends.
//
// Example:
//
//	agent, tr := memory.Use(cfg, memory.Config{Concurrency: 2},
//	    memory.WithLogger(logger),
//	    memory.WithStore(memory.NewStore(0)),
//	)
//
// The returned agent is installed as the process-wide default.
func Use(agentCfg xbeacon.Config, cfg Config, opts ...Option) (*xbeacon.Agent, *Transport) {
	t, err := xbeacon.NewTransport(TransportName, cfg.toMap())
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	tr := t.(*Transport)
	bb := xbeacon.NewAgentBuilder(agentCfg).
		WithTransportInstance(tr)

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}

	agent, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	// Install as process-wide default
	xbeacon.SetDefault(agent)
	return agent, tr
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size":    c.BufferSize,
		"concurrency":    c.Concurrency,
		"latency":        c.Latency,
		"disable_beacon": c.DisableBeacon,
	}
}

// Option configures the xbeacon.AgentBuilder when calling Use.
type Option func(*xbeacon.AgentBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom clock.
func WithClock(c xbeacon.Clock) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithClock(c) }
}

// WithStore attaches persistence for the durable queue.
func WithStore(s xbeacon.PersistentStore) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithStore(s) }
}

// WithMiddleware adds delivery middlewares.
func WithMiddleware(mw ...xbeacon.Middleware) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xbeacon.Observer) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithObserverPool(workers, bufferSize) }
}

// WithExtension installs extensions on the built agent.
func WithExtension(ext ...xbeacon.Extension) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithExtension(ext...) }
}

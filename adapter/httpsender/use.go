package httpsender

import (
	"fmt"

	"github.com/trickstertwo/xbeacon"
	"github.com/trickstertwo/xlog"
)

// Adapter: HTTP transports (Strategy + Adapter patterns)

const (
	TransportName       = "http"
	LegacyTransportName = "http-legacy"
)

func init() {
	if err := xbeacon.RegisterTransport(TransportName, func(cfg map[string]any) (xbeacon.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xbeacon: failed to register transport %q: %w", TransportName, err))
	}
	if err := xbeacon.RegisterTransport(LegacyTransportName, func(cfg map[string]any) (xbeacon.Transport, error) {
		return NewLegacyTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xbeacon: failed to register transport %q: %w", LegacyTransportName, err))
	}
}

// Use builds an Agent delivering over HTTP, with the legacy transport as
// fallback, and sets it as the default Agent, then returns it.
func Use(agentCfg xbeacon.Config, cfg Config, opts ...Option) *xbeacon.Agent {
	fallback, err := NewLegacyTransport(cfg)
	if err != nil {
		panic(fmt.Errorf("httpsender.Use: %w", err))
	}
	bb := xbeacon.NewAgentBuilder(agentCfg).
		WithTransport(TransportName, cfg.toMap()).
		WithFallback(fallback)

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	agent, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("httpsender.Use: %w", err))
	}

	// Install as process-wide default (replaces any existing default).
	xbeacon.SetDefault(agent)
	return agent
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

// WithExtension installs extensions on the built agent.
func WithExtension(ext ...xbeacon.Extension) Option {
	return func(b *xbeacon.AgentBuilder) { b.WithExtension(ext...) }
}

package xbeacon

import (
	"context"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// AgentBuilder constructs Agent instances (Builder pattern).
type AgentBuilder struct {
	cfg Config

	transportName string
	transportCfg  map[string]any
	transportInst Transport
	beacon        Beaconer
	fallback      Transport

	store     PersistentStore
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	extensions  []Extension
	logger      *xlog.Logger
	clock       Clock
	sampler     func() float64

	poolWorkers int
	poolBuffer  int
}

// NewAgentBuilder returns a builder for cfg. Zero-valued sizes and intervals
// in cfg take their defaults.
func NewAgentBuilder(cfg Config) *AgentBuilder {
	return &AgentBuilder{
		cfg:         cfg,
		poolWorkers: 1,
		poolBuffer:  256,
	}
}

// WithTransport selects a registered transport by name.
func (bb *AgentBuilder) WithTransport(name string, cfg map[string]any) *AgentBuilder {
	bb.transportName = name
	bb.transportCfg = cfg
	return bb
}

// WithTransportInstance accepts a ready primary Transport. If it also
// implements Beaconer it is used as the beacon unless WithBeacon overrides it.
func (bb *AgentBuilder) WithTransportInstance(t Transport) *AgentBuilder {
	bb.transportInst = t
	return bb
}

// WithBeacon sets the fire-and-forget primitive used for urgent and teardown
// deliveries.
func (bb *AgentBuilder) WithBeacon(b Beaconer) *AgentBuilder {
	bb.beacon = b
	return bb
}

// WithFallback sets the compatibility transport tried when the primary
// transport fails at the transport level.
func (bb *AgentBuilder) WithFallback(t Transport) *AgentBuilder {
	bb.fallback = t
	return bb
}

// WithStore attaches the host persistence used by the durable queue.
func (bb *AgentBuilder) WithStore(s PersistentStore) *AgentBuilder {
	bb.store = s
	return bb
}

// WithCodecInstance overrides Config.Codec with a ready Codec.
func (bb *AgentBuilder) WithCodecInstance(c Codec) *AgentBuilder {
	bb.codecInst = c
	return bb
}

func (bb *AgentBuilder) WithMiddleware(mw ...Middleware) *AgentBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *AgentBuilder) WithObserver(obs ...Observer) *AgentBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithObserverPool configures the async lifecycle observer pool.
func (bb *AgentBuilder) WithObserverPool(workers, bufferSize int) *AgentBuilder {
	bb.poolWorkers = workers
	bb.poolBuffer = bufferSize
	return bb
}

// WithExtension installs extensions once the Agent is built.
func (bb *AgentBuilder) WithExtension(ext ...Extension) *AgentBuilder {
	bb.extensions = append(bb.extensions, ext...)
	return bb
}

func (bb *AgentBuilder) WithLogger(l *xlog.Logger) *AgentBuilder {
	bb.logger = l
	return bb
}

func (bb *AgentBuilder) WithClock(c Clock) *AgentBuilder {
	bb.clock = c
	return bb
}

// WithSampler replaces the uniform [0,1) source used for the session
// sampling decision.
func (bb *AgentBuilder) WithSampler(f func() float64) *AgentBuilder {
	bb.sampler = f
	return bb
}

// Build validates the configuration, makes the sampling decision and, for a
// sampled session, starts the delivery engine.
func (bb *AgentBuilder) Build() (*Agent, error) {
	cfg := bb.cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bb.transportInst == nil && bb.transportName == "" {
		return nil, ErrNoTransportConfigured
	}

	var clk Clock
	if bb.clock != nil {
		clk = bb.clock
	} else {
		clk = xclock.Default()
	}
	var lg *xlog.Logger
	if bb.logger != nil {
		lg = bb.logger
	} else {
		lg = xlog.Default()
	}
	sample := bb.sampler
	if sample == nil {
		sample = rand.Float64
	}

	a := &Agent{
		cfg:       cfg,
		sampled:   sample() < cfg.SampleRate,
		sessionID: uuid.NewString(),
		crumbs:    newBreadcrumbTrail(cfg.MaxBreadcrumbs),
		clock:     clk,
		logger:    lg,
		metrics:   &agentMetrics{},
	}
	a.registry = newRegistry(a, lg)
	a.observerPool = NewObserverPool(bb.poolWorkers, bb.poolBuffer, lg)

	if cfg.Debug {
		a.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		a.AddObserver(o)
	}

	if a.sampled {
		engine, err := bb.buildEngine(cfg, clk, lg, a)
		if err != nil {
			_ = a.observerPool.Close(context.Background())
			return nil, err
		}
		a.engine = engine
		engine.Start(context.Background())
	} else if cfg.Debug {
		lg.Debug().Str("session", a.sessionID).Msg("xbeacon: session not sampled, monitoring disabled")
	}

	for _, ext := range bb.extensions {
		_ = a.Use(ext)
	}
	return a, nil
}

func (bb *AgentBuilder) buildEngine(cfg Config, clk Clock, lg *xlog.Logger, a *Agent) (*Engine, error) {
	var tr Transport
	var err error
	switch {
	case bb.transportInst != nil:
		tr = bb.transportInst
	default:
		tr, err = NewTransport(bb.transportName, bb.transportCfg)
		if err != nil {
			return nil, err
		}
	}

	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		cd, err = NewCodec(cfg.Codec)
		if err != nil {
			return nil, err
		}
	}

	return newEngine(engineOptions{
		cfg:        cfg,
		codec:      cd,
		clock:      clk,
		logger:     lg,
		primary:    tr,
		beacon:     bb.beacon,
		fallback:   bb.fallback,
		store:      NewQueueStore(bb.store, cfg.Namespace, cfg.MaxPersistBytes, lg),
		middleware: bb.middlewares,
		metrics:    a.metrics,
		notify:     a.notifyAsync,
	}), nil
}

// New constructs an Agent via Builder and returns a teardown func for
// convenience.
func New(cfg Config, init func(b *AgentBuilder)) (*Agent, func() error, error) {
	b := NewAgentBuilder(cfg)
	if init != nil {
		init(b)
	}
	a, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return a.Teardown(context.Background()) }
	return a, closeFn, nil
}

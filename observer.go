package xbeacon

import (
	"strconv"

	"github.com/trickstertwo/xlog"
)

// Observer receives pipeline lifecycle events. Implementations should be
// non-blocking.
type Observer interface {
	OnEvent(e LifecycleEvent)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e LifecycleEvent)

func (f ObserverFunc) OnEvent(e LifecycleEvent) { f(e) }

// LoggingObserver is an Adapter that emits lifecycle events via xlog. The
// builder attaches one when Config.Debug is set.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e LifecycleEvent) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("strategy", e.Strategy),
		xlog.Str("priority", string(e.Priority)),
		xlog.Str("events", strconv.Itoa(e.Events)),
	)
	switch e.Type {
	case EventDropped:
		ev.Warn().Err(e.Err).Msg("xbeacon event")
	case EventSendDone, EventRetryScheduled:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		if e.Err != nil {
			ev.Warn().Err(e.Err).Str("attempt", strconv.Itoa(e.Attempt)).Msg("xbeacon event")
			return
		}
		ev.Debug().Msg("xbeacon event")
	default:
		ev.Debug().Msg("xbeacon event")
	}
}

// Package nethttp is an xbeacon extension that instruments net/http servers:
// each request leaves a breadcrumb, server errors and handler panics are
// reported as error events, and request timings as performance events.
package nethttp

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xbeacon"
)

// ExtensionName is the registry name of the extension.
const ExtensionName = "nethttp"

// Option configures the Extension.
type Option func(*Extension)

// WithTimings reports a performance event for every request.
func WithTimings() Option {
	return func(e *Extension) { e.timings = true }
}

// WithSlowThreshold reports only requests slower than d as performance
// events. It implies WithTimings.
func WithSlowThreshold(d time.Duration) Option {
	return func(e *Extension) {
		e.timings = true
		e.slow = d
	}
}

// WithStack attaches the goroutine stack to panic reports.
func WithStack() Option {
	return func(e *Extension) { e.stack = true }
}

// Extension instruments handlers wrapped by Middleware while installed.
// Handlers keep working unchanged once it is uninstalled.
type Extension struct {
	agent atomic.Pointer[xbeacon.Agent]

	timings bool
	slow    time.Duration
	stack   bool
}

var (
	_ xbeacon.Extension   = (*Extension)(nil)
	_ xbeacon.Uninstaller = (*Extension)(nil)
)

// New returns an uninstalled Extension.
func New(opts ...Option) *Extension {
	e := &Extension{}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

func (e *Extension) Name() string { return ExtensionName }

func (e *Extension) Install(a *xbeacon.Agent) error {
	if a == nil {
		return fmt.Errorf("nethttp: nil agent")
	}
	e.agent.Store(a)
	return nil
}

func (e *Extension) Uninstall(_ *xbeacon.Agent) error {
	e.agent.Store(nil)
	return nil
}

// Middleware wraps next. Panics are reported and then re-raised so the
// server's own recovery still runs.
func (e *Extension) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := e.agent.Load()
		if a == nil {
			next.ServeHTTP(w, r)
			return
		}

		a.AddBreadcrumb(xbeacon.Breadcrumb{
			Category: "http",
			Message:  r.Method + " " + r.URL.Path,
			Level:    xbeacon.LevelInfo,
			Data:     map[string]any{"method": r.Method, "path": r.URL.Path},
		})

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				payload := map[string]any{
					"error":  fmt.Sprint(p),
					"method": r.Method,
					"path":   r.URL.Path,
				}
				if e.stack {
					payload["stack"] = string(debug.Stack())
				}
				a.Report(xbeacon.Observation{Category: xbeacon.CategoryError, Name: "http.panic", Payload: payload})
				panic(p)
			}
			e.finish(a, r, rec.status, time.Since(start))
		}()

		next.ServeHTTP(rec, r.WithContext(xbeacon.WithAgent(r.Context(), a)))
	})
}

func (e *Extension) finish(a *xbeacon.Agent, r *http.Request, status int, elapsed time.Duration) {
	if status >= http.StatusInternalServerError {
		a.Report(xbeacon.Observation{
			Category: xbeacon.CategoryError,
			Name:     "http.server_error",
			Payload:  map[string]any{"method": r.Method, "path": r.URL.Path, "status": status},
		})
	}
	if e.timings && elapsed >= e.slow {
		a.Report(xbeacon.Observation{
			Category: xbeacon.CategoryPerformance,
			Name:     "http.request",
			Payload: map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": float64(elapsed) / float64(time.Millisecond),
			},
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

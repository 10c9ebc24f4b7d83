package xbeacon

import (
	"errors"
	"fmt"
	"sync"

	"github.com/trickstertwo/xlog"
)

// Extension is an independently installable producer or adapter. Install
// receives the owning Agent.
type Extension interface {
	Name() string
	Install(a *Agent) error
}

// Uninstaller is implemented by extensions that hold resources.
type Uninstaller interface {
	Uninstall(a *Agent) error
}

// NewExtension is an Adapter that builds an Extension from plain functions.
// uninstall may be nil.
func NewExtension(name string, install func(a *Agent) error, uninstall func(a *Agent) error) Extension {
	return &funcExtension{name: name, install: install, uninstall: uninstall}
}

type funcExtension struct {
	name      string
	install   func(a *Agent) error
	uninstall func(a *Agent) error
}

func (f *funcExtension) Name() string { return f.name }

func (f *funcExtension) Install(a *Agent) error {
	if f.install == nil {
		return nil
	}
	return f.install(a)
}

func (f *funcExtension) Uninstall(a *Agent) error {
	if f.uninstall == nil {
		return nil
	}
	return f.uninstall(a)
}

// Registry tracks the extensions installed on one Agent.
type Registry struct {
	agent  *Agent
	logger *xlog.Logger

	mu    sync.Mutex
	order []string
	exts  map[string]Extension
}

func newRegistry(a *Agent, logger *xlog.Logger) *Registry {
	return &Registry{
		agent:  a,
		logger: logger,
		exts:   make(map[string]Extension),
	}
}

// Install runs the extension's install hook and records it. A duplicate name
// is a warning and a no-op. A failing or panicking hook leaves the extension
// unregistered.
func (r *Registry) Install(ext Extension) error {
	if ext == nil {
		return errors.New("xbeacon: nil extension")
	}
	name := ext.Name()
	if name == "" {
		return errors.New("xbeacon: extension name must not be empty")
	}

	r.mu.Lock()
	if _, dup := r.exts[name]; dup {
		r.mu.Unlock()
		r.logger.Warn().Str("extension", name).Msg("xbeacon: extension already installed")
		return nil
	}
	r.mu.Unlock()

	if err := callHook(func() error { return ext.Install(r.agent) }); err != nil {
		r.logger.Warn().Err(err).Str("extension", name).Msg("xbeacon: extension install failed")
		return fmt.Errorf("install %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.exts[name]; dup {
		return nil
	}
	r.exts[name] = ext
	r.order = append(r.order, name)
	return nil
}

// Uninstall calls the optional uninstall hook, then removes the record even
// if the hook failed.
func (r *Registry) Uninstall(name string) bool {
	r.mu.Lock()
	ext, ok := r.exts[name]
	if ok {
		delete(r.exts, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if u, ok := ext.(Uninstaller); ok {
		if err := callHook(func() error { return u.Uninstall(r.agent) }); err != nil {
			r.logger.Warn().Err(err).Str("extension", name).Msg("xbeacon: extension uninstall failed")
		}
	}
	return true
}

// UninstallAll removes every extension. One broken hook does not stop the
// others.
func (r *Registry) UninstallAll() {
	for _, name := range r.List() {
		r.Uninstall(name)
	}
}

// List returns installed extension names in install order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether name is installed.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.exts[name]
	return ok
}

func callHook(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic recovered: %v", rec)
		}
	}()
	return fn()
}

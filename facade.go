package xbeacon

import (
	"sync"
)

var (
	defaultAgent   *Agent
	defaultAgentMu sync.RWMutex
)

// Default returns the process-wide Agent, or nil when none is installed.
func Default() *Agent {
	defaultAgentMu.RLock()
	defer defaultAgentMu.RUnlock()
	return defaultAgent
}

// SetDefault replaces the process-wide Agent. Passing nil uninstalls it.
func SetDefault(a *Agent) {
	defaultAgentMu.Lock()
	defaultAgent = a
	defaultAgentMu.Unlock()
}

// Report is the Facade using the default agent. It is a no-op when no
// default is installed.
func Report(obs Observation) {
	if a := Default(); a != nil {
		a.Report(obs)
	}
}

// AddBreadcrumb is the Facade using the default agent.
func AddBreadcrumb(b Breadcrumb) {
	if a := Default(); a != nil {
		a.AddBreadcrumb(b)
	}
}

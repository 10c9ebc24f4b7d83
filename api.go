package xbeacon

import (
	"context"
)

// API represents the complete xbeacon surface for producers and hosts.
type API interface {
	Report(obs Observation)
	AddBreadcrumb(b Breadcrumb)
	SetUser(id string)
	Use(ext Extension) error
	Unuse(name string) bool
	Flush(ctx context.Context) error
	Hide()
	Status() Status
	Teardown(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

// HealthChecker provides health status for host monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

var _ API = (*Agent)(nil)
var _ HealthChecker = (*Agent)(nil)

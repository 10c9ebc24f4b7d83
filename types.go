package xbeacon

import (
	"time"
)

// Category classifies what an Event observed.
type Category string

const (
	CategoryPerformance Category = "performance"
	CategoryError       Category = "error"
	CategoryBehavior    Category = "behavior"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPerformance, CategoryError, CategoryBehavior:
		return true
	}
	return false
}

// DefaultPriority maps a category to its delivery priority.
func (c Category) DefaultPriority() Priority {
	switch c {
	case CategoryError:
		return PriorityHigh
	case CategoryPerformance:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Priority is the delivery urgency class of an Event.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) index() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

func (p Priority) valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// priorities lists the queue drain order.
var priorities = [...]Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Event is one captured observation ready for delivery. It is built once by
// the Agent and never mutated afterwards.
type Event struct {
	AppID       string       `json:"appId" cbor:"appId"`
	Timestamp   int64        `json:"timestamp" cbor:"timestamp"` // epoch millis
	Category    Category     `json:"category" cbor:"category"`
	Name        string       `json:"name,omitempty" cbor:"name,omitempty"`
	Payload     any          `json:"payload" cbor:"payload"`
	SessionID   string       `json:"sessionId" cbor:"sessionId"`
	UserID      string       `json:"userId,omitempty" cbor:"userId,omitempty"`
	URL         string       `json:"url" cbor:"url"`
	Environment string       `json:"environment" cbor:"environment"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs,omitempty" cbor:"breadcrumbs,omitempty"`
	Priority    Priority     `json:"priority" cbor:"priority"`
}

// Observation is the producer-supplied part of an Event. A zero Priority
// means "derive from Category".
type Observation struct {
	Category Category
	Name     string
	Payload  any
	Priority Priority
}

// Level is the severity of a Breadcrumb.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Breadcrumb is a lightweight trail entry attached to later events.
type Breadcrumb struct {
	Timestamp int64          `json:"timestamp" cbor:"timestamp"`
	Category  string         `json:"category" cbor:"category"`
	Message   string         `json:"message" cbor:"message"`
	Level     Level          `json:"level" cbor:"level"`
	Data      map[string]any `json:"data,omitempty" cbor:"data,omitempty"`
}

// Status is a read-only snapshot of the delivery engine.
type Status struct {
	High     int
	Medium   int
	Low      int
	Queued   int
	Retry    int
	InFlight int
}

// LifecycleType enumerates internal pipeline events for the Observer pattern.
type LifecycleType string

const (
	EventEnqueued       LifecycleType = "enqueued"
	EventSuppressed     LifecycleType = "suppressed"
	EventSendStart      LifecycleType = "send_start"
	EventSendDone       LifecycleType = "send_done"
	EventRetryScheduled LifecycleType = "retry_scheduled"
	EventDropped        LifecycleType = "dropped"
	EventPersisted      LifecycleType = "persisted"
	EventRestored       LifecycleType = "restored"
)

// LifecycleEvent carries telemetry about the pipeline itself for observers.
type LifecycleEvent struct {
	Type     LifecycleType
	Strategy string
	Priority Priority
	Events   int
	Attempt  int
	Duration time.Duration
	Err      error
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events handed to every observer
	Panics       uint64 // Observer calls that panicked
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the agent.
type Metrics struct {
	Reported         uint64
	Suppressed       uint64
	SampledOut       uint64
	Enqueued         uint64
	BatchesSent      uint64
	EventsSent       uint64
	SendFailures     uint64
	Retried          uint64
	Dropped          uint64
	ForcedFlushes    uint64
	Persisted        uint64
	Restored         uint64
	LifecycleDropped uint64
}

// HealthStatus indicates agent health for host dashboards and probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

package xbeacon

import (
	"errors"
	"fmt"
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

var (
	ErrAgentClosed           = errors.New("xbeacon: agent is closed")
	ErrNoTransportConfigured = errors.New("xbeacon: no transport configured")
	ErrInvalidConfig         = errors.New("xbeacon: invalid config")
	ErrQuotaExceeded         = errors.New("xbeacon: storage quota exceeded")
	ErrNotFound              = errors.New("xbeacon: key not found")
	ErrBeaconRejected        = errors.New("xbeacon: beacon rejected")

	ErrObserverPoolShutdownTimeout = errors.New("xbeacon: observer pool shutdown timeout")

	errRetriesDisabled = errors.New("retries disabled")
)

// StatusError reports a completed request that the collector answered with a
// non-success status. It is a delivery failure but not a transport failure, so
// the engine retries it without trying the fallback transport.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("xbeacon: collector responded HTTP %d", e.Code) }

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

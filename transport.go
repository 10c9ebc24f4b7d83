package xbeacon

import (
	"context"
)

// Transport is the Strategy interface for the network. Send performs one
// request carrying an encoded batch and returns nil only when the collector
// accepted it.
type Transport interface {
	Send(ctx context.Context, req *Request) error
	// Close releases resources.
	Close(ctx context.Context) error
}

// Beaconer is the fire-and-forget primitive that survives teardown. Beacon
// must not block on the network: it returns true once the body has been
// handed off for delivery and false when it could not be queued. After
// returning true it calls req.Done, when set, once with the delivery outcome.
type Beaconer interface {
	Beacon(req *Request) bool
}

// Request is one encoded batch addressed to the collector.
type Request struct {
	Endpoint    string
	ContentType string
	Body        []byte
	Events      int

	// Done receives the outcome of an accepted beacon. Send ignores it.
	Done func(error)
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

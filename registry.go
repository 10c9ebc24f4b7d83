package xbeacon

import (
	"errors"
	"fmt"
	"mime"
	"sync"
)

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}

	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
		"cbor": func() Codec { return CBORCodec{} },
	}
)

// RegisterTransport registers a network adapter under name.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// CodecForContentType returns the registered codec whose ContentType matches
// ct, ignoring media type parameters. Collectors use it to decode batches.
func CodecForContentType(ct string) (Codec, error) {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, fmt.Errorf("content type %q: %w", ct, err)
	}
	codecRegistryMu.RLock()
	defer codecRegistryMu.RUnlock()
	for _, f := range codecRegistry {
		if c := f(); c.ContentType() == mt {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no codec registered for content type %q", mt)
}

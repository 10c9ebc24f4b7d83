package httpsender

import (
	"fmt"
	"time"
)

// Compression names accepted by Config.Compression.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Config for the HTTP transports.
type Config struct {
	// Request
	Timeout   time.Duration
	Headers   map[string]string
	UserAgent string

	// Body encoding
	Compression      string
	MinCompressBytes int

	// Connection pool
	MaxIdleConns    int
	IdleConnTimeout time.Duration

	// Beacon
	BeaconQueue   int
	BeaconTimeout time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Timeout:          10 * time.Second,
		UserAgent:        "xbeacon/http",
		Compression:      CompressionNone,
		MinCompressBytes: 1024,
		MaxIdleConns:     4,
		IdleConnTimeout:  90 * time.Second,
		BeaconQueue:      64,
		BeaconTimeout:    5 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be > 0, got %v", c.Timeout)
	}
	switch c.Compression {
	case CompressionNone, CompressionGzip, CompressionZstd:
	default:
		return fmt.Errorf("config: unknown compression %q", c.Compression)
	}
	if c.MinCompressBytes < 0 {
		return fmt.Errorf("config: min_compress_bytes must be >= 0, got %d", c.MinCompressBytes)
	}
	if c.BeaconQueue < 1 {
		return fmt.Errorf("config: beacon_queue must be >= 1, got %d", c.BeaconQueue)
	}
	if c.BeaconTimeout <= 0 {
		return fmt.Errorf("config: beacon_timeout must be > 0, got %v", c.BeaconTimeout)
	}
	return nil
}

// toMap converts Config to generic map for transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"timeout":            c.Timeout,
		"headers":            c.Headers,
		"user_agent":         c.UserAgent,
		"compression":        c.Compression,
		"min_compress_bytes": c.MinCompressBytes,
		"max_idle_conns":     c.MaxIdleConns,
		"idle_conn_timeout":  c.IdleConnTimeout,
		"beacon_queue":       c.BeaconQueue,
		"beacon_timeout":     c.BeaconTimeout,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
// Durations may be time.Duration, a string or milliseconds.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := m[k].(type) {
		case time.Duration:
			if v > 0 {
				return v
			}
		case string:
			if p, err := time.ParseDuration(v); err == nil && p > 0 {
				return p
			}
		case int:
			if v > 0 {
				return time.Duration(v) * time.Millisecond
			}
		case float64:
			if v > 0 {
				return time.Duration(v * float64(time.Millisecond))
			}
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := m[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}

	c.Timeout = getDur("timeout", c.Timeout)
	c.IdleConnTimeout = getDur("idle_conn_timeout", c.IdleConnTimeout)
	c.BeaconTimeout = getDur("beacon_timeout", c.BeaconTimeout)

	if v, ok := m["user_agent"].(string); ok && v != "" {
		c.UserAgent = v
	}
	if v, ok := m["compression"].(string); ok && v != "" {
		c.Compression = v
	}
	switch v := m["headers"].(type) {
	case map[string]string:
		c.Headers = v
	case map[string]any:
		c.Headers = make(map[string]string, len(v))
		for k, x := range v {
			if s, ok := x.(string); ok {
				c.Headers[k] = s
			}
		}
	}
	if v := getInt("min_compress_bytes", -1); v >= 0 {
		c.MinCompressBytes = v
	}
	if v := getInt("max_idle_conns", 0); v > 0 {
		c.MaxIdleConns = v
	}
	if v := getInt("beacon_queue", 0); v > 0 {
		c.BeaconQueue = v
	}

	return c
}

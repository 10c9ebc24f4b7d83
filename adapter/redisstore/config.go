package redisstore

import (
	"fmt"
	"time"
)

// Config for the Redis store.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Keys
	KeyPrefix     string
	TTL           time.Duration
	MaxValueBytes int

	// Every command is bounded so persisting on teardown cannot hang.
	OpTimeout time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:          "127.0.0.1:6379",
		KeyPrefix:     defaultKeyPrefix,
		TTL:           24 * time.Hour,
		MaxValueBytes: 1 << 20,
		OpTimeout:     500 * time.Millisecond,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("config: ttl must be >= 0, got %v", c.TTL)
	}
	if c.MaxValueBytes < 1 {
		return fmt.Errorf("config: max_value_bytes must be >= 1, got %d", c.MaxValueBytes)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("config: op_timeout must be > 0, got %v", c.OpTimeout)
	}
	return nil
}

// ConfigFromMap safely converts generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := m[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case int:
			return time.Duration(v) * time.Millisecond
		}
		return d
	}

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := m["db"].(int); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["key_prefix"].(string); ok {
		c.KeyPrefix = v
	}
	if v, ok := m["max_value_bytes"].(int); ok && v > 0 {
		c.MaxValueBytes = v
	}
	c.TTL = getDur("ttl", c.TTL)
	if d := getDur("op_timeout", 0); d > 0 {
		c.OpTimeout = d
	}

	return c
}

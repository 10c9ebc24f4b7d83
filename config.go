package xbeacon

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// SampleNone as Config.SampleRate disables monitoring for every session.
// NoRetries as Config.MaxRetries drops a batch after its first failed send.
const (
	SampleNone = -1
	NoRetries  = -1
)

// Config controls sampling, enrichment and delivery. AppID and Endpoint are
// required; every zero-valued field takes its default from Defaults, so the
// toggles below are phrased as opt-outs.
type Config struct {
	// Identity
	AppID    string
	Endpoint string

	// Sampling and diagnostics
	SampleRate float64
	Debug      bool

	// Per-category switches
	DisablePerformance bool
	DisableError       bool
	DisableBehavior    bool

	// Enrichment
	MaxBreadcrumbs int
	Environment    string
	URLFunc        func() string
	BeforeSend     func(Event) *Event

	// Batching
	ReportInterval        time.Duration
	BatchSize             int
	MaxQueueSize          int
	DeferHighPriority  bool
	MaxConcurrentSends int
	RequestTimeout     time.Duration
	Codec              string

	// Retry
	MaxRetries        int
	RetryInterval     time.Duration
	RetryTickInterval time.Duration

	// Persistence
	Namespace       string
	MaxPersistBytes int
}

// Defaults returns a Config with the documented defaults.
func Defaults() Config {
	return Config{
		SampleRate:         1.0,
		MaxBreadcrumbs:     20,
		Environment:        defaultEnvironment(),
		ReportInterval:     60 * time.Second,
		BatchSize:          10,
		MaxQueueSize:       100,
		MaxConcurrentSends: 3,
		RequestTimeout:     10 * time.Second,
		Codec:              "json",
		MaxRetries:         3,
		RetryInterval:      5 * time.Second,
		RetryTickInterval:  5 * time.Second,
		Namespace:          "xbeacon",
		MaxPersistBytes:    512 << 10,
	}
}

func defaultEnvironment() string {
	return fmt.Sprintf("go/%s (%s; %s)", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// normalize fills zero-valued fields with their defaults. Negative values
// other than the SampleNone and NoRetries sentinels are left for Validate to
// reject.
func (c Config) normalize() Config {
	d := Defaults()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.MaxBreadcrumbs == 0 {
		c.MaxBreadcrumbs = d.MaxBreadcrumbs
	}
	if c.Environment == "" {
		c.Environment = d.Environment
	}
	if c.ReportInterval == 0 {
		c.ReportInterval = d.ReportInterval
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxConcurrentSends == 0 {
		c.MaxConcurrentSends = d.MaxConcurrentSends
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Codec == "" {
		c.Codec = d.Codec
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.RetryTickInterval == 0 {
		c.RetryTickInterval = d.RetryTickInterval
	}
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.MaxPersistBytes == 0 {
		c.MaxPersistBytes = d.MaxPersistBytes
	}
	return c
}

// Validate checks the fields that must be correct before an Agent starts.
func (c Config) Validate() error {
	if c.AppID == "" {
		return invalidConfig("app_id required")
	}
	if c.Endpoint == "" {
		return invalidConfig("endpoint required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return invalidConfig("endpoint: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidConfig("endpoint must be an absolute http(s) URL, got %q", c.Endpoint)
	}
	if c.SampleRate != SampleNone && (math.IsNaN(c.SampleRate) || c.SampleRate < 0 || c.SampleRate > 1) {
		return invalidConfig("sample_rate must be within [0,1], got %v", c.SampleRate)
	}
	if c.MaxBreadcrumbs < 1 {
		return invalidConfig("max_breadcrumbs must be >= 1, got %d", c.MaxBreadcrumbs)
	}
	if c.BatchSize < 1 {
		return invalidConfig("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxQueueSize < 1 {
		return invalidConfig("max_queue_size must be >= 1, got %d", c.MaxQueueSize)
	}
	if c.MaxConcurrentSends < 1 {
		return invalidConfig("max_concurrent_sends must be >= 1, got %d", c.MaxConcurrentSends)
	}
	if c.MaxRetries < 0 && c.MaxRetries != NoRetries {
		return invalidConfig("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.ReportInterval <= 0 {
		return invalidConfig("report_interval must be > 0, got %v", c.ReportInterval)
	}
	if c.RetryInterval <= 0 {
		return invalidConfig("retry_interval must be > 0, got %v", c.RetryInterval)
	}
	if c.RetryTickInterval <= 0 {
		return invalidConfig("retry_tick_interval must be > 0, got %v", c.RetryTickInterval)
	}
	if c.RequestTimeout <= 0 {
		return invalidConfig("request_timeout must be > 0, got %v", c.RequestTimeout)
	}
	if c.MaxPersistBytes < 1 {
		return invalidConfig("max_persist_bytes must be >= 1, got %d", c.MaxPersistBytes)
	}
	return nil
}

// categoryEnabled reports whether events of category c are accepted.
func (c Config) categoryEnabled(cat Category) bool {
	switch cat {
	case CategoryPerformance:
		return !c.DisablePerformance
	case CategoryError:
		return !c.DisableError
	case CategoryBehavior:
		return !c.DisableBehavior
	}
	return false
}

// ConfigFromMap safely converts a generic map into Config with defaults.
// Numeric durations are interpreted as milliseconds. An explicit
// sample_rate or max_retries of 0 means off, and enable_<category> and
// immediate accept false as the inverse of the Disable flags.
func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getFloat := func(k string, d float64) float64 {
		switch v := cfg[k].(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case int:
			return time.Duration(v) * time.Millisecond
		case int64:
			return time.Duration(v) * time.Millisecond
		case float64:
			return time.Duration(v * float64(time.Millisecond))
		}
		return d
	}

	d := Defaults()
	return Config{
		AppID:    getString("app_id", ""),
		Endpoint: getString("endpoint", ""),

		SampleRate: zeroMeans(getFloat("sample_rate", d.SampleRate), SampleNone),
		Debug:      getBool("debug", d.Debug),

		DisablePerformance: getBool("disable_performance", !getBool("enable_performance", true)),
		DisableError:       getBool("disable_error", !getBool("enable_error", true)),
		DisableBehavior:    getBool("disable_behavior", !getBool("enable_behavior", true)),

		MaxBreadcrumbs: getInt("max_breadcrumbs", d.MaxBreadcrumbs),
		Environment:    getString("environment", d.Environment),

		ReportInterval:        getDur("report_interval", d.ReportInterval),
		BatchSize:             getInt("batch_size", d.BatchSize),
		MaxQueueSize:          getInt("max_queue_size", d.MaxQueueSize),
		DeferHighPriority:  getBool("defer_high_priority", !getBool("immediate", true)),
		MaxConcurrentSends: getInt("max_concurrent_sends", d.MaxConcurrentSends),
		RequestTimeout:     getDur("request_timeout", d.RequestTimeout),
		Codec:              getString("codec", d.Codec),

		MaxRetries:        zeroMeans(getInt("max_retries", d.MaxRetries), NoRetries),
		RetryInterval:     getDur("retry_interval", d.RetryInterval),
		RetryTickInterval: getDur("retry_tick_interval", d.RetryTickInterval),

		Namespace:       getString("namespace", d.Namespace),
		MaxPersistBytes: getInt("max_persist_bytes", d.MaxPersistBytes),
	}
}

// zeroMeans maps an explicit zero from a config file to the off sentinel.
func zeroMeans[T int | float64](v, off T) T {
	if v == 0 {
		return off
	}
	return v
}

// ConfigFromYAML parses a flat YAML document using the ConfigFromMap keys.
func ConfigFromYAML(data []byte) (Config, error) {
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("xbeacon: parse config: %w", err)
	}
	return ConfigFromMap(m), nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("xbeacon: read config: %w", err)
	}
	return ConfigFromYAML(data)
}

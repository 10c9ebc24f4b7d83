// Package redisstore provides a Redis-backed xbeacon.PersistentStore, so a
// restarted process (or a replacement instance sharing the same key prefix)
// recovers the queue snapshot left by its predecessor.
//
// Minimal config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - key_prefix: prepended to every key (default "xbeacon:")
// - ttl: expiry of stored snapshots, 0 keeps them (default 24h)
// - max_value_bytes: larger values fail with xbeacon.ErrQuotaExceeded (default 1 MiB)
// - op_timeout: bound on every command (default 500ms)
//
// Example builder usage:
//
//	store, err := redisstore.New(redisstore.ConfigFromMap(map[string]any{
//	    "addr":       "localhost:6379",
//	    "key_prefix": "checkout:",
//	    "ttl":        "12h",
//	}))
//	if err != nil { ... }
//	agent, _ := xbeacon.NewAgentBuilder(cfg).
//	    WithTransport(httpsender.TransportName, nil).
//	    WithStore(store).
//	    Build()
package redisstore

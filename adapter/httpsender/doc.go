// Package httpsender provides the HTTP transports for xbeacon.
//
// Transport names: "http" (primary, also implements xbeacon.Beaconer) and
// "http-legacy" (fallback: no keep-alives, no compression).
//
// Minimal config keys:
// - timeout: per-request client timeout (default 10s)
// - compression: "none", "gzip" or "zstd" (default "none")
// - min_compress_bytes: bodies smaller than this are sent as-is (default 1024)
// - headers: map[string]string added to every request
// - user_agent: User-Agent header (default "xbeacon/http")
// - beacon_queue: pending beacon requests (default 64)
// - beacon_timeout: bound on a beacon request (default 5s)
//
// Example builder usage:
//
//	agent, _ := xbeacon.NewAgentBuilder(cfg).
//	    WithTransport(httpsender.TransportName, map[string]any{
//	        "timeout":     "5s",
//	        "compression": "gzip",
//	        "headers":     map[string]string{"X-Api-Key": key},
//	    }).
//	    Build()
package httpsender

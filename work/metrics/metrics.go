package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Requests counts inbound player requests by HTTP method and by how they
// were served ("segment", "manifest", "passthrough", "rejected").
var Requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_proxy_requests_total",
	Help: "Inbound requests handled by the proxy",
}, []string{"method", "kind"})

// UpstreamResponses counts upstream responses by status class (2xx, 3xx, ...)
// with "error" for transport failures.
var UpstreamResponses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_proxy_upstream_responses_total",
	Help: "Upstream responses by status class",
}, []string{"class"})

// BytesTransferred tracks bytes written to players and to the disk cache.
// The "direction" label is "downstream" or "cache".
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_proxy_bytes_transferred_total",
	Help: "Total bytes transferred",
}, []string{"direction"})

// ManifestRewrites counts manifest rewrites by format (dash, hls) and result
// (ok, parse_error).
var ManifestRewrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_proxy_manifest_rewrites_total",
	Help: "Manifest rewrites by format and result",
}, []string{"format", "result"})

// SegmentFailovers counts segment fetches that succeeded on a base URL other
// than the first one tried.
var SegmentFailovers = promauto.NewCounter(prometheus.CounterOpts{
	Name: "media_proxy_segment_failovers_total",
	Help: "Segment fetches recovered by trying an alternate base URL",
})

// SegmentCache counts cache outcomes: hit, miss, store, fail, prefetch.
var SegmentCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_proxy_segment_cache_total",
	Help: "Segment cache outcomes",
}, []string{"result"})

// UpstreamSessions tracks the number of live per-host upstream sessions.
var UpstreamSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "media_proxy_upstream_sessions",
	Help: "Persistent upstream sessions, one per host",
})

// Package otmmetrics defines the prometheus collectors served by the
// admin listener, modelled on caddy's metrics.go (promauto-registered
// CounterVecs on an explicit namespace/subsystem) and
// internal/metrics.go's SanitizeMethod/SanitizeCode label-cardinality
// guards.
package otmmetrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the package-level registry the admin listener serves.
// Kept distinct from prometheus.DefaultRegisterer so tests can spin up
// throwaway registries without colliding with process-global state.
var Registry = prometheus.NewRegistry()

const namespace = "otm_proxy"

var factory = promauto.With(Registry)

var (
	// RequestsTotal counts proxied requests by version-policy branch
	// and outcome status.
	RequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of proxied requests by ontoVersion branch and response status.",
	}, []string{"onto_version", "method", "code"})

	// UpstreamFetchDuration measures Upstream Fetcher latency.
	UpstreamFetchDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetcher",
		Name:      "upstream_duration_seconds",
		Help:      "Latency of upstream/archive fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// ArchiveRefreshTotal counts Archive Refresher runs by outcome.
	ArchiveRefreshTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "archive_index",
		Name:      "refresh_total",
		Help:      "Count of archive index refresh attempts by outcome.",
	}, []string{"outcome"})

	// ArchiveIndexSize reports the current size of the loaded archive
	// index, sampled on every successful refresh.
	ArchiveIndexSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "archive_index",
		Name:      "entries",
		Help:      "Number of IRIs currently held in the archive index.",
	})
)

// SanitizeCode normalizes a status code for use as a metric label,
// collapsing the zero-value (not-yet-written) case to 200.
func SanitizeCode(s int) string {
	switch s {
	case 0, http.StatusOK:
		return "200"
	default:
		return strconv.Itoa(s)
	}
}

var methodMap = map[string]string{
	"GET": http.MethodGet, "get": http.MethodGet,
	"HEAD": http.MethodHead, "head": http.MethodHead,
	"POST": http.MethodPost, "post": http.MethodPost,
	"CONNECT": http.MethodConnect, "connect": http.MethodConnect,
}

// SanitizeMethod bounds method-label cardinality the same way caddy's
// internal/metrics.SanitizeMethod does.
func SanitizeMethod(m string) string {
	if m, ok := methodMap[m]; ok {
		return m
	}
	return "OTHER"
}

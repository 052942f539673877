package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across the control plane.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "marchproxy",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// FleetActiveProxies reports the current non-retired proxy count per cluster.
var FleetActiveProxies = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "marchproxy",
		Subsystem: "fleet",
		Name:      "active_proxies",
		Help:      "Number of non-retired proxies (registering, active or stale), per cluster.",
	},
	[]string{"cluster_id"},
)

// FleetReapedTotal counts proxies transitioned to stale/retired by the reaper.
var FleetReapedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marchproxy",
		Subsystem: "fleet",
		Name:      "reaped_total",
		Help:      "Total number of proxies transitioned to stale or retired by the reaper.",
	},
	[]string{"transition"},
)

// ConfigVersionsServedTotal counts config snapshot deliveries by outcome.
var ConfigVersionsServedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marchproxy",
		Subsystem: "configdist",
		Name:      "snapshots_served_total",
		Help:      "Total number of config snapshots served, by cause.",
	},
	[]string{"cause"},
)

// LicenseKeepaliveFailuresTotal counts failed keepalive attempts to the issuer.
var LicenseKeepaliveFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "marchproxy",
		Subsystem: "license",
		Name:      "keepalive_failures_total",
		Help:      "Total number of failed license keepalive attempts.",
	},
)

// LicenseState reports the current license state as a label gauge (1 for the
// active state, 0 otherwise): uninitialized, validating, valid, invalid, grace.
var LicenseState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "marchproxy",
		Subsystem: "license",
		Name:      "state",
		Help:      "Current license state machine value (1 = active state).",
	},
	[]string{"state"},
)

// All returns all MarchProxy-specific collectors for registration, excluding
// the breaker and mTLS collectors which are registered per-instance because
// they're created by proxy-side components, not the control-plane singleton.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		FleetActiveProxies,
		FleetReapedTotal,
		ConfigVersionsServedTotal,
		LicenseKeepaliveFailuresTotal,
		LicenseState,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTP metric, and any additional collectors passed in.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

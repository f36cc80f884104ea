package telemetry

import "github.com/prometheus/client_golang/prometheus"

var RateLimitChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "ratelimit",
		Name:      "checks_total",
		Help:      "Total number of rate-limit checks by outcome.",
	},
	[]string{"outcome"}, // allowed, denied
)

var BlocklistHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "blocklist",
		Name:      "hits_total",
		Help:      "Total number of requests rejected by the IP blocklist.",
	},
	[]string{"reason_code"},
)

var BlocksWrittenTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "blocklist",
		Name:      "writes_total",
		Help:      "Total number of block writes made by the auto-block controller, by actor.",
	},
	[]string{"actor", "action"}, // actor: auto_block, one_click; action: block. Admin API block/unblock writes are not counted.
)

var AutoBlockSkippedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "autoblock",
		Name:      "skipped_total",
		Help:      "Total number of suspect IPs skipped by the auto-block controller.",
	},
	[]string{"reason"},
)

var UsageEventsWrittenTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "usage",
		Name:      "events_written_total",
		Help:      "Total number of usage events successfully persisted.",
	},
)

var UsageEventsDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "usage",
		Name:      "events_dropped_total",
		Help:      "Total number of usage events dropped because the writer buffer was full.",
	},
)

var UsageEventsFailedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "usage",
		Name:      "events_failed_total",
		Help:      "Total number of usage events that failed to persist.",
	},
)

var CredentialResolutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keystone",
		Subsystem: "credential",
		Name:      "resolutions_total",
		Help:      "Total number of credential resolution attempts by outcome.",
	},
	[]string{"outcome"}, // ok, missing, invalid, revoked, rate_limited
)

// All returns the gateway's own metrics for registration, in addition to the
// shared HTTPRequestDuration histogram registered by NewMetricsRegistry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RateLimitChecksTotal,
		BlocklistHitsTotal,
		BlocksWrittenTotal,
		AutoBlockSkippedTotal,
		UsageEventsWrittenTotal,
		UsageEventsDroppedTotal,
		UsageEventsFailedTotal,
		CredentialResolutionsTotal,
	}
}

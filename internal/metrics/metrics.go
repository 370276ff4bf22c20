// Package metrics defines the Prometheus collectors shared by the
// commenter services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector behind one scrape endpoint. Each
// service constructs its own Registry, so tests can build as many as
// they like without duplicate-registration panics.
type Registry struct {
	registry *prometheus.Registry

	// Edge: connection plane.
	ActiveConnections prometheus.Gauge
	Subscriptions     prometheus.Gauge
	FramesIn          prometheus.Counter
	FramesOut         prometheus.Counter
	ParseFailures     prometheus.Counter
	RateLimited       prometheus.Counter

	// Edge: bus plane.
	ProduceFailures   prometheus.Counter
	BusRecordsIn      prometheus.Counter
	BusDecodeFailures prometheus.Counter
	BroadcastEnqueued prometheus.Counter
	BroadcastDropped  prometheus.Counter

	// Edge: resolver, by outcome (ok / not_found / error).
	ResolverLookups *prometheus.CounterVec

	// Projector.
	ProjectorUpserts        prometheus.Counter
	ProjectorCommitFailures prometheus.Counter

	// Lookup API.
	LookupHits   prometheus.Counter
	LookupMisses prometheus.Counter

	// Process health, fed by the monitoring sampler.
	ProcessRSSBytes   prometheus.Gauge
	ProcessCPUPercent prometheus.Gauge
}

// NewRegistry creates the collectors on a fresh Prometheus registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "commenter_connections_active",
			Help: "Number of active WebSocket connections on this edge",
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "commenter_subscriptions_active",
			Help: "Number of live (connection, group) subscriptions",
		}),
		FramesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_frames_in_total",
			Help: "Client frames received over WebSocket",
		}),
		FramesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_frames_out_total",
			Help: "Server frames written to WebSocket clients",
		}),
		ParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_frame_parse_failures_total",
			Help: "Inbound frames dropped as unparseable",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_frames_rate_limited_total",
			Help: "Inbound frames dropped by the per-connection rate limit",
		}),

		ProduceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_produce_failures_total",
			Help: "Comment publishes that failed or timed out",
		}),
		BusRecordsIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_bus_records_in_total",
			Help: "Records consumed from the comments topic",
		}),
		BusDecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_bus_decode_failures_total",
			Help: "Consumed records skipped because the payload did not decode",
		}),
		BroadcastEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_broadcast_enqueued_total",
			Help: "Frames enqueued on subscriber queues by fan-out",
		}),
		BroadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_broadcast_dropped_total",
			Help: "Frames evicted from slow subscriber queues (oldest first)",
		}),

		ResolverLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commenter_resolver_lookups_total",
			Help: "Prior-state lookups by outcome",
		}, []string{"outcome"}),

		ProjectorUpserts: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_projector_upserts_total",
			Help: "Rows upserted into hot storage",
		}),
		ProjectorCommitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_projector_commit_failures_total",
			Help: "Offset commits that failed after a durable write",
		}),

		LookupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_lookup_hits_total",
			Help: "Lookup API requests answered with a row",
		}),
		LookupMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "commenter_lookup_misses_total",
			Help: "Lookup API requests for unknown comment ids",
		}),

		ProcessRSSBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "commenter_process_rss_bytes",
			Help: "Resident set size of this process",
		}),
		ProcessCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "commenter_process_cpu_percent",
			Help: "CPU usage of this process as a percentage of one core",
		}),
	}
}

// Handler returns the scrape handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Package metrics holds the prometheus collectors of the advertiser.
// All collectors live on a private registry served under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "avahi_advertiser"

var registry = prometheus.NewRegistry()

var (
	// WatchEvents counts events taken off the cluster watch stream,
	// labelled by event type (sync, added, modified, deleted).
	WatchEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "watch_events_total",
		Help:      "Cluster watch events processed, by event type.",
	}, []string{"type"})

	// Relists counts transitions back to the re-listing state,
	// labelled by what forced them.
	Relists = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "relists_total",
		Help:      "Full re-lists of the cluster, by reason.",
	}, []string{"reason"})

	// Reconciles counts per-ref reconcile outcomes.
	Reconciles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "reconciles_total",
		Help:      "Reconcile outcomes, by result (applied, removed, noop, error).",
	}, []string{"result"})

	// RecordsAdvertised tracks how many records are currently applied,
	// by record kind (host, service).
	RecordsAdvertised = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "records_advertised",
		Help:      "Records currently advertised, by kind.",
	}, []string{"kind"})

	// SurfaceWrites counts writes that actually changed bytes on an
	// Avahi surface, by surface (hosts, services).
	SurfaceWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "surface_writes_total",
		Help:      "Surface writes that changed bytes on disk, by surface.",
	}, []string{"surface"})

	// SurfaceWriteErrors counts failed surface writes or removals.
	SurfaceWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "surface_write_errors_total",
		Help:      "Failed writes or removals on the Avahi surfaces.",
	})

	// AvahiReloads counts reload requests sent to the Avahi unit.
	AvahiReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "avahi_reloads_total",
		Help:      "Avahi daemon reloads, by result (ok, error).",
	}, []string{"result"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		WatchEvents,
		Relists,
		Reconciles,
		RecordsAdvertised,
		SurfaceWrites,
		SurfaceWriteErrors,
		AvahiReloads,
	)
}

// Handler serves the private registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	catalogOps *prometheus.CounterVec

	queueDepth    *prometheus.GaugeVec
	queueEnqueued *prometheus.CounterVec
	deadLetters   prometheus.Counter
	batchSize     prometheus.Histogram
	backendWrites *prometheus.CounterVec
	backendVerify *prometheus.CounterVec
	retryAttempts *prometheus.CounterVec

	reconcileRuns     *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	reconcileOrphans  prometheus.Counter
	reconcileHeals    prometheus.Counter
	reconcileBackfill prometheus.Counter
	reconcileMigrate  prometheus.Counter
	panelUnreachable  *prometheus.CounterVec

	peerSyncRuns *prometheus.CounterVec
	peerHealthy  *prometheus.GaugeVec
	peerSynced   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
}

// Public interface for metrics operations

func (m *Metrics) IncCatalogOp(op string, success bool) {
	m.catalogOps.WithLabelValues(op, boolToResult(success)).Inc()
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) IncEnqueued(queue, source string) {
	m.queueEnqueued.WithLabelValues(queue, source).Inc()
}

func (m *Metrics) IncDeadLetter() { m.deadLetters.Inc() }

func (m *Metrics) ObserveBatch(size int) { m.batchSize.Observe(float64(size)) }

func (m *Metrics) IncBackendWrite(backend, op string, success bool) {
	m.backendWrites.WithLabelValues(backend, op, boolToResult(success)).Inc()
}

// IncBackendVerify records a record-count verification outcome: "match",
// "extra" (backend holds rows we don't know about), or "fewer".
func (m *Metrics) IncBackendVerify(backend, result string) {
	m.backendVerify.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) IncRetryAttempt(outcome string) {
	m.retryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncReconcileRun(success bool) {
	m.reconcileRuns.WithLabelValues(boolToResult(success)).Inc()
}

func (m *Metrics) SetReconcileDuration(duration time.Duration) {
	m.reconcileDuration.Observe(duration.Seconds())
}

func (m *Metrics) AddReconcileOrphans(n int)  { m.reconcileOrphans.Add(float64(n)) }
func (m *Metrics) AddReconcileHeals(n int)    { m.reconcileHeals.Add(float64(n)) }
func (m *Metrics) AddReconcileBackfill(n int) { m.reconcileBackfill.Add(float64(n)) }
func (m *Metrics) AddReconcileMigrate(n int)  { m.reconcileMigrate.Add(float64(n)) }

func (m *Metrics) IncPanelUnreachable(host string) { m.panelUnreachable.WithLabelValues(host).Inc() }

func (m *Metrics) IncPeerSyncRun(peer string, success bool) {
	m.peerSyncRuns.WithLabelValues(peer, boolToResult(success)).Inc()
}

func (m *Metrics) SetPeerHealthy(peer string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.peerHealthy.WithLabelValues(peer).Set(v)
}

func (m *Metrics) IncPeerSynced(peer string, n int) {
	m.peerSynced.WithLabelValues(peer).Add(float64(n))
}

func (m *Metrics) IncHTTPRequest(route, status string) {
	m.httpRequests.WithLabelValues(route, status).Inc()
}

// Validation helpers
func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "directdnsonly"

	m := &Metrics{
		registry: registry,

		catalogOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_operations_total",
			Help:      "Total catalog store operations",
		}, []string{"op", "status"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current depth of each durable queue",
		}, []string{"queue"}),

		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Items enqueued by queue and source",
		}, []string{"queue", "source"}),

		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Items that exceeded the retry ceiling",
		}),

		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_batch_size",
			Help:      "Items processed per save batch window",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),

		backendWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_writes_total",
			Help:      "Backend write/delete outcomes",
		}, []string{"backend", "operation", "status"}),

		backendVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_verify_total",
			Help:      "Record-count verification outcomes",
		}, []string{"backend", "result"}),

		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retry scheduling outcomes (scheduled or dead_letter)",
		}, []string{"outcome"}),

		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_runs_total",
			Help:      "Reconciler passes by outcome",
		}, []string{"status"}),

		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciler_duration_seconds",
			Help:      "Duration of reconciler passes",
			Buckets:   prometheus.DefBuckets,
		}),

		reconcileOrphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciler_orphans_queued_total", Help: "Orphan deletes queued by the reconciler",
		}),
		reconcileHeals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciler_heals_queued_total", Help: "Heal saves queued by the reconciler",
		}),
		reconcileBackfill: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciler_backfills_total", Help: "Catalog owner backfills applied",
		}),
		reconcileMigrate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciler_migrations_total", Help: "Catalog owner migrations applied",
		}),

		panelUnreachable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panel_unreachable_total",
			Help:      "Control-panel fetch failures by host",
		}, []string{"host"}),

		peerSyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_sync_runs_total",
			Help:      "Peer sync passes by outcome",
		}, []string{"peer", "status"}),

		peerHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_healthy",
			Help:      "1 if a peer is currently healthy, 0 if degraded",
		}, []string{"peer"}),

		peerSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_zones_synced_total",
			Help:      "Zones pulled in from a peer",
		}, []string{"peer"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Ingress and internal HTTP requests",
		}, []string{"route", "status"}),
	}

	if register {
		registry.MustRegister(
			m.catalogOps,
			m.queueDepth,
			m.queueEnqueued,
			m.deadLetters,
			m.batchSize,
			m.backendWrites,
			m.backendVerify,
			m.retryAttempts,
			m.reconcileRuns,
			m.reconcileDuration,
			m.reconcileOrphans,
			m.reconcileHeals,
			m.reconcileBackfill,
			m.reconcileMigrate,
			m.panelUnreachable,
			m.peerSyncRuns,
			m.peerHealthy,
			m.peerSynced,
			m.httpRequests,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

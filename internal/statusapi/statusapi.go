// Package statusapi implements the operational health-and-status surface
// (spec.md section 6): GET /status, an aggregated JSON document combining
// queue depths, worker liveness, reconciler and peer-sync state, and a
// live zone count; and GET /health, a per-backend availability probe.
// Grounded on original_source's app/api/status.py and app/api/health.py.
package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/reconciler"
)

// Pipeline is the subset of dispatch.Pipeline this package depends on.
type Pipeline interface {
	SaveWorkerAlive() bool
	DeleteWorkerAlive() bool
	RetryWorkerAlive() bool
	DeadLetters() int64
}

// Queues is the subset of queue.Queues this package depends on.
type Queues interface {
	Depths() (save, del, retry int, err error)
}

// Reconciler is the subset of reconciler.Reconciler this package depends on.
type Reconciler interface {
	Alive() bool
	LastRun() reconciler.Stats
}

// PeerSync is the subset of peersync.Worker this package depends on.
type PeerSync interface {
	Alive() bool
	KnownPeers() []string
	PeerHealth() map[string]bool
}

type Handler struct {
	catalog    catalog.Store
	backends   *backend.Registry
	pipeline   Pipeline
	queues     Queues
	reconciler Reconciler
	peerSync   PeerSync
}

func New(cat catalog.Store, backends *backend.Registry, pipeline Pipeline, queues Queues, rec Reconciler, ps PeerSync) *Handler {
	return &Handler{
		catalog:    cat,
		backends:   backends,
		pipeline:   pipeline,
		queues:     queues,
		reconciler: rec,
		peerSync:   ps,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/status", h.status)
	mux.HandleFunc("/health", h.health)
}

type statusDoc struct {
	Status     string        `json:"status"`
	Queues     queueCounts   `json:"queues"`
	Workers    workerStatus  `json:"workers"`
	Reconciler reconcilerDoc `json:"reconciler"`
	PeerSync   peerSyncDoc   `json:"peer_sync"`
	Zones      zoneCounts    `json:"zones"`
}

type queueCounts struct {
	Save        int   `json:"save"`
	Delete      int   `json:"delete"`
	Retry       int   `json:"retry"`
	DeadLetters int64 `json:"dead_letters"`
}

type workerStatus struct {
	Save       bool `json:"save"`
	Delete     bool `json:"delete"`
	RetryDrain bool `json:"retry_drain"`
}

type reconcilerDoc struct {
	Alive      bool `json:"alive"`
	Orphans    int  `json:"orphans"`
	Backfills  int  `json:"backfills"`
	Migrations int  `json:"migrations"`
	Heals      int  `json:"heals"`
}

type peerSyncDoc struct {
	Alive    bool            `json:"alive"`
	Peers    []string        `json:"peers"`
	Healthy  map[string]bool `json:"healthy"`
	Degraded int             `json:"degraded"`
}

type zoneCounts struct {
	Total int `json:"total"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var save, del, retry int
	var deadLetters int64
	var saveAlive, deleteAlive, retryAlive bool
	if h.queues != nil {
		save, del, retry, _ = h.queues.Depths()
	}
	if h.pipeline != nil {
		deadLetters = h.pipeline.DeadLetters()
		saveAlive = h.pipeline.SaveWorkerAlive()
		deleteAlive = h.pipeline.DeleteWorkerAlive()
		retryAlive = h.pipeline.RetryWorkerAlive()
	}

	var recDoc reconcilerDoc
	if h.reconciler != nil {
		recDoc.Alive = h.reconciler.Alive()
		stats := h.reconciler.LastRun()
		recDoc.Orphans = stats.Orphans
		recDoc.Backfills = stats.Backfills
		recDoc.Migrations = stats.Migrations
		recDoc.Heals = stats.Heals
	}

	var psDoc peerSyncDoc
	if h.peerSync != nil {
		psDoc.Alive = h.peerSync.Alive()
		psDoc.Peers = h.peerSync.KnownPeers()
		psDoc.Healthy = h.peerSync.PeerHealth()
		for _, healthy := range psDoc.Healthy {
			if !healthy {
				psDoc.Degraded++
			}
		}
	}

	zoneTotal := 0
	if h.catalog != nil {
		if n, err := h.catalog.Count(ctx); err == nil {
			zoneTotal = n
		}
	}

	doc := statusDoc{
		Queues:     queueCounts{Save: save, Delete: del, Retry: retry, DeadLetters: deadLetters},
		Workers:    workerStatus{Save: saveAlive, Delete: deleteAlive, RetryDrain: retryAlive},
		Reconciler: recDoc,
		PeerSync:   psDoc,
		Zones:      zoneCounts{Total: zoneTotal},
	}
	doc.Status = computeOverall(saveAlive, deleteAlive, retryAlive, retry, deadLetters, psDoc.Degraded)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// computeOverall mirrors status.py's _compute_overall precedence exactly:
// a dead core worker always wins, then pending retries/dead-letters/peer
// degradation, else ok.
func computeOverall(saveAlive, deleteAlive, retryAlive bool, retryQueueSize int, deadLetters int64, degradedPeers int) string {
	if !saveAlive || !deleteAlive || !retryAlive {
		return "error"
	}
	if retryQueueSize > 0 || deadLetters > 0 || degradedPeers > 0 {
		return "degraded"
	}
	return "ok"
}

type healthDoc struct {
	Status   string          `json:"status"`
	Backends []backendHealth `json:"backends"`
}

type backendHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// health probes every registered backend's reachability by checking a
// fixed probe zone, the Go equivalent of health.py's zone_exists("test").
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	doc := healthDoc{Status: "OK"}
	if h.backends != nil {
		for _, b := range h.backends.All() {
			status := "unavailable"
			if b.Available() && probeBackend(r.Context(), b) {
				status = "active"
			}
			doc.Backends = append(doc.Backends, backendHealth{Name: b.Name(), Status: status})
		}
	}

	slog.Debug("health check performed")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func probeBackend(ctx context.Context, b backend.Backend) bool {
	ok, err := b.ZoneExists(ctx, "test")
	return err == nil && ok
}

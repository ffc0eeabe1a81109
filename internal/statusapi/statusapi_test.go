package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/reconciler"
)

type fakeCatalog struct{ count int }

func (c fakeCatalog) Get(ctx context.Context, domain string) (*catalog.Record, error) { return nil, nil }
func (c fakeCatalog) GetParent(ctx context.Context, domain string) (*catalog.Record, error) {
	return nil, nil
}
func (c fakeCatalog) PutIfAbsent(ctx context.Context, rec catalog.Record) error { return nil }
func (c fakeCatalog) UpdateOwner(ctx context.Context, domain, ownerHost, ownerUser string) error {
	return nil
}
func (c fakeCatalog) UpdatePayload(ctx context.Context, domain, payload string, ts time.Time) error {
	return nil
}
func (c fakeCatalog) Delete(ctx context.Context, domain string) error               { return nil }
func (c fakeCatalog) ListAll(ctx context.Context) ([]catalog.Record, error)         { return nil, nil }
func (c fakeCatalog) ListWithPayload(ctx context.Context) ([]catalog.Record, error) { return nil, nil }
func (c fakeCatalog) Count(ctx context.Context) (int, error)                       { return c.count, nil }
func (c fakeCatalog) Close() error                                                 { return nil }

type fakePipeline struct {
	save, del, retry bool
	deadLetters      int64
}

func (p fakePipeline) SaveWorkerAlive() bool   { return p.save }
func (p fakePipeline) DeleteWorkerAlive() bool { return p.del }
func (p fakePipeline) RetryWorkerAlive() bool  { return p.retry }
func (p fakePipeline) DeadLetters() int64      { return p.deadLetters }

type fakeQueues struct{ save, del, retry int }

func (q fakeQueues) Depths() (int, int, int, error) { return q.save, q.del, q.retry, nil }

type fakeReconciler struct {
	alive bool
	stats reconciler.Stats
}

func (r fakeReconciler) Alive() bool              { return r.alive }
func (r fakeReconciler) LastRun() reconciler.Stats { return r.stats }

type fakePeerSync struct {
	alive   bool
	peers   []string
	healthy map[string]bool
}

func (p fakePeerSync) Alive() bool                { return p.alive }
func (p fakePeerSync) KnownPeers() []string        { return p.peers }
func (p fakePeerSync) PeerHealth() map[string]bool { return p.healthy }

func TestStatusReportsOKWhenAllHealthy(t *testing.T) {
	h := New(
		fakeCatalog{count: 5},
		backend.NewRegistry(),
		fakePipeline{save: true, del: true, retry: true},
		fakeQueues{},
		fakeReconciler{alive: true},
		fakePeerSync{alive: true, healthy: map[string]bool{"http://peer1": true}},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var doc statusDoc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != "ok" {
		t.Fatalf("expected ok, got %s", doc.Status)
	}
	if doc.Zones.Total != 5 {
		t.Fatalf("expected zone total 5, got %d", doc.Zones.Total)
	}
}

func TestStatusReportsErrorWhenCoreWorkerDead(t *testing.T) {
	h := New(
		fakeCatalog{},
		backend.NewRegistry(),
		fakePipeline{save: false, del: true},
		fakeQueues{},
		fakeReconciler{},
		fakePeerSync{},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var doc statusDoc
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc.Status != "error" {
		t.Fatalf("expected error, got %s", doc.Status)
	}
}

func TestStatusReportsErrorWhenRetryWorkerDeadAlone(t *testing.T) {
	h := New(
		fakeCatalog{},
		backend.NewRegistry(),
		fakePipeline{save: true, del: true, retry: false},
		fakeQueues{},
		fakeReconciler{},
		fakePeerSync{},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var doc statusDoc
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc.Status != "error" {
		t.Fatalf("expected error when retry worker is dead, got %s", doc.Status)
	}
}

func TestStatusReportsDegradedOnRetryBacklog(t *testing.T) {
	h := New(
		fakeCatalog{},
		backend.NewRegistry(),
		fakePipeline{save: true, del: true, retry: true},
		fakeQueues{retry: 3},
		fakeReconciler{},
		fakePeerSync{},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var doc statusDoc
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", doc.Status)
	}
}

func TestStatusReportsDegradedOnUnhealthyPeer(t *testing.T) {
	h := New(
		fakeCatalog{},
		backend.NewRegistry(),
		fakePipeline{save: true, del: true, retry: true},
		fakeQueues{},
		fakeReconciler{},
		fakePeerSync{healthy: map[string]bool{"http://peer1": false}},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var doc statusDoc
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", doc.Status)
	}
}

func TestHealthReportsBackendAvailability(t *testing.T) {
	registry := backend.NewRegistry()
	h := New(fakeCatalog{}, registry, fakePipeline{}, fakeQueues{}, fakeReconciler{}, fakePeerSync{})
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var doc healthDoc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != "OK" {
		t.Fatalf("expected OK, got %s", doc.Status)
	}
}

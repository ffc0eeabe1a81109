package peersync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
)

// fakeCatalog is a minimal in-memory catalog.Store double.
type fakeCatalog struct {
	mu      sync.Mutex
	records map[string]catalog.Record
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{records: make(map[string]catalog.Record)}
}

func (c *fakeCatalog) Get(ctx context.Context, domain string) (*catalog.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[domain]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (c *fakeCatalog) GetParent(ctx context.Context, domain string) (*catalog.Record, error) {
	return nil, nil
}

func (c *fakeCatalog) PutIfAbsent(ctx context.Context, rec catalog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[rec.Domain]; ok {
		return nil
	}
	c.records[rec.Domain] = rec
	return nil
}

func (c *fakeCatalog) UpdateOwner(ctx context.Context, domain, ownerHost, ownerUser string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[domain]
	rec.Domain = domain
	rec.OwnerHost = &ownerHost
	rec.OwnerUser = &ownerUser
	c.records[domain] = rec
	return nil
}

func (c *fakeCatalog) UpdatePayload(ctx context.Context, domain, payload string, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[domain]
	rec.Domain = domain
	rec.Payload = &payload
	rec.PayloadTS = &ts
	c.records[domain] = rec
	return nil
}

func (c *fakeCatalog) Delete(ctx context.Context, domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, domain)
	return nil
}

func (c *fakeCatalog) ListAll(ctx context.Context) ([]catalog.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out, nil
}

func (c *fakeCatalog) ListWithPayload(ctx context.Context) ([]catalog.Record, error) {
	return c.ListAll(ctx)
}

func (c *fakeCatalog) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records), nil
}

func (c *fakeCatalog) Close() error { return nil }

var _ catalog.Store = (*fakeCatalog)(nil)

func newTestWorker(peers []Peer, cat *fakeCatalog) *Worker {
	cfg := Config{Enabled: true, Interval: time.Hour, Peers: peers}
	return New(cfg, cat, metrics.New(false))
}

func TestSyncFromPeerPullsMissingZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/internal/zones" && r.URL.Query().Get("domain") != "":
			fmt.Fprint(w, `{"payload":"$ORIGIN example.com.\n","payload_ts":"2026-01-01T00:00:00Z"}`)
		case r.URL.Path == "/internal/zones":
			fmt.Fprint(w, `[{"domain":"example.com","owner_host":"peer1","owner_user":"u1"}]`)
		case r.URL.Path == "/internal/peers":
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	cat := newFakeCatalog()
	w := newTestWorker([]Peer{{URL: srv.URL}}, cat)

	if err := w.syncFromPeer(context.Background(), Peer{URL: srv.URL}); err != nil {
		t.Fatalf("syncFromPeer: %v", err)
	}

	rec, _ := cat.Get(context.Background(), "example.com")
	if rec == nil || rec.Payload == nil {
		t.Fatalf("expected zone payload synced, got %+v", rec)
	}
}

func TestNeedsSyncSkipsWhenLocalIsNewer(t *testing.T) {
	cat := newFakeCatalog()
	w := newTestWorker(nil, cat)

	newTS := time.Now()
	payload := "zone"
	cat.records["example.com"] = catalog.Record{Domain: "example.com", Payload: &payload, PayloadTS: &newTS}

	olderTS := newTS.Add(-time.Hour)
	entry := zoneListEntry{Domain: "example.com", PayloadTS: &olderTS}

	if w.needsSync(context.Background(), entry) {
		t.Fatal("expected no sync needed when local payload is newer")
	}
}

func TestNeedsSyncWhenLocalMissing(t *testing.T) {
	cat := newFakeCatalog()
	w := newTestWorker(nil, cat)

	entry := zoneListEntry{Domain: "example.com"}
	if !w.needsSync(context.Background(), entry) {
		t.Fatal("expected sync needed when local record is absent")
	}
}

func TestDiscoverPeersAddsNewURL(t *testing.T) {
	var gossipSrv *httptest.Server
	gossipSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["http://newpeer.example.com:2222"]`)
	}))
	defer gossipSrv.Close()

	cat := newFakeCatalog()
	w := newTestWorker([]Peer{{URL: gossipSrv.URL}}, cat)

	w.discoverPeers(context.Background(), Peer{URL: gossipSrv.URL}, gossipSrv.URL)

	known := w.KnownPeers()
	found := false
	for _, p := range known {
		if p == "http://newpeer.example.com:2222" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected discovered peer in known list, got %v", known)
	}
	_ = gossipSrv
}

func TestRecordFailureDegradesAfterThreshold(t *testing.T) {
	cat := newFakeCatalog()
	w := newTestWorker([]Peer{{URL: "http://down.example.com"}}, cat)

	for i := 0; i < degradeThreshold-1; i++ {
		w.recordFailure("http://down.example.com")
	}
	if w.PeerHealth()["http://down.example.com"] != true {
		t.Fatal("expected peer still healthy before threshold reached")
	}

	w.recordFailure("http://down.example.com")
	if w.PeerHealth()["http://down.example.com"] != false {
		t.Fatal("expected peer degraded after reaching threshold")
	}
}

func TestRecordSuccessRecoversPeer(t *testing.T) {
	cat := newFakeCatalog()
	w := newTestWorker([]Peer{{URL: "http://flaky.example.com"}}, cat)

	for i := 0; i < degradeThreshold; i++ {
		w.recordFailure("http://flaky.example.com")
	}
	if w.PeerHealth()["http://flaky.example.com"] != false {
		t.Fatal("expected peer degraded")
	}

	w.recordSuccess("http://flaky.example.com")
	if w.PeerHealth()["http://flaky.example.com"] != true {
		t.Fatal("expected peer recovered after a successful contact")
	}
}

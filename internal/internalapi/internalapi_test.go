package internalapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
)

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
	c.records[rec.Domain] = rec
	return nil
}

func (c *fakeCatalog) UpdateOwner(ctx context.Context, domain, ownerHost, ownerUser string) error {
	return nil
}

func (c *fakeCatalog) UpdatePayload(ctx context.Context, domain, payload string, ts time.Time) error {
	return nil
}

func (c *fakeCatalog) Delete(ctx context.Context, domain string) error { return nil }

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
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []catalog.Record
	for _, r := range c.records {
		if r.Payload != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Count(ctx context.Context) (int, error) { return len(c.records), nil }
func (c *fakeCatalog) Close() error                           { return nil }

var _ catalog.Store = (*fakeCatalog)(nil)

type fakePeerLister struct{ urls []string }

func (f fakePeerLister) KnownPeers() []string { return f.urls }

func newTestHandler(cat *fakeCatalog, peers PeerLister) *Handler {
	cfg := Config{AuthUsername: "peersync", AuthPassword: "secret"}
	return New(cfg, cat, peers, metrics.New(false))
}

func doRequest(h *Handler, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.SetBasicAuth("peersync", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestZonesListReturnsOnlyZonesWithPayload(t *testing.T) {
	cat := newFakeCatalog()
	payload := "zonedata"
	cat.records["has-payload.com"] = catalog.Record{Domain: "has-payload.com", Payload: &payload}
	cat.records["no-payload.com"] = catalog.Record{Domain: "no-payload.com"}

	h := newTestHandler(cat, nil)
	rec := doRequest(h, "/internal/zones")

	var entries []zoneListEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Domain != "has-payload.com" {
		t.Fatalf("expected only has-payload.com, got %+v", entries)
	}
}

func TestZoneDetailReturns404WhenMissing(t *testing.T) {
	h := newTestHandler(newFakeCatalog(), nil)
	rec := doRequest(h, "/internal/zones?domain=nope.com")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestZoneDetailReturnsPayload(t *testing.T) {
	cat := newFakeCatalog()
	payload := "zonedata"
	cat.records["example.com"] = catalog.Record{Domain: "example.com", Payload: &payload}
	h := newTestHandler(cat, nil)

	rec := doRequest(h, "/internal/zones?domain=example.com")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var detail zoneDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Payload != "zonedata" {
		t.Fatalf("expected payload zonedata, got %s", detail.Payload)
	}
}

func TestPeerListReturnsKnownPeers(t *testing.T) {
	h := newTestHandler(newFakeCatalog(), fakePeerLister{urls: []string{"http://peer1:2222"}})
	rec := doRequest(h, "/internal/peers")

	var urls []string
	if err := json.Unmarshal(rec.Body.Bytes(), &urls); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(urls) != 1 || urls[0] != "http://peer1:2222" {
		t.Fatalf("expected one known peer, got %v", urls)
	}
}

func TestInternalAPIRejectsMissingAuth(t *testing.T) {
	h := newTestHandler(newFakeCatalog(), nil)
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodGet, "/internal/zones", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

package ingressapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
	"github.com/cybercinch/directdnsonly/internal/queue"
)

const sampleZone = "$ORIGIN example.com.\n$TTL 300\n@ IN A 1.2.3.4\n"

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
	idx := strings.Index(domain, ".")
	if idx < 0 {
		return nil, nil
	}
	return c.Get(ctx, domain[idx+1:])
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
	return nil
}

func (c *fakeCatalog) UpdatePayload(ctx context.Context, domain, payload string, ts time.Time) error {
	return nil
}

func (c *fakeCatalog) Delete(ctx context.Context, domain string) error { return nil }

func (c *fakeCatalog) ListAll(ctx context.Context) ([]catalog.Record, error) { return nil, nil }

func (c *fakeCatalog) ListWithPayload(ctx context.Context) ([]catalog.Record, error) { return nil, nil }

func (c *fakeCatalog) Count(ctx context.Context) (int, error) { return len(c.records), nil }

func (c *fakeCatalog) Close() error { return nil }

var _ catalog.Store = (*fakeCatalog)(nil)

func newTestHandler(t *testing.T, cat *fakeCatalog) (*Handler, *queue.Queues) {
	t.Helper()
	m := metrics.New(false)
	q, err := queue.Open(t.TempDir(), m)
	if err != nil {
		t.Fatalf("open queues: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	cfg := Config{AuthUsername: "directdnsonly", AuthPassword: "secret"}
	return New(cfg, cat, q, m), q
}

func doRequest(h *Handler, method, path, body, contentType string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.SetBasicAuth("directdnsonly", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestLoginTestReturnsOK(t *testing.T) {
	h, _ := newTestHandler(t, newFakeCatalog())
	rec := doRequest(h, http.MethodGet, "/CMD_API_LOGIN_TEST", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	vals, _ := url.ParseQuery(rec.Body.String())
	if vals.Get("error") != "0" {
		t.Fatalf("expected error=0, got %s", rec.Body.String())
	}
}

func TestRejectsMissingAuth(t *testing.T) {
	h, _ := newTestHandler(t, newFakeCatalog())
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodGet, "/CMD_API_LOGIN_TEST", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestExistsReturnsZeroForUnknownDomain(t *testing.T) {
	h, _ := newTestHandler(t, newFakeCatalog())
	rec := doRequest(h, http.MethodGet, "/CMD_API_DNS_ADMIN?action=exists&domain=nope.example.com", "", "")
	vals, _ := url.ParseQuery(rec.Body.String())
	if vals.Get("exists") != "0" {
		t.Fatalf("expected exists=0, got %s", rec.Body.String())
	}
}

func TestExistsReturnsOneForKnownDomain(t *testing.T) {
	cat := newFakeCatalog()
	host := "host1"
	cat.records["example.com"] = catalog.Record{Domain: "example.com", OwnerHost: &host}
	h, _ := newTestHandler(t, cat)

	rec := doRequest(h, http.MethodGet, "/CMD_API_DNS_ADMIN?action=exists&domain=example.com", "", "")
	vals, _ := url.ParseQuery(rec.Body.String())
	if vals.Get("exists") != "1" {
		t.Fatalf("expected exists=1, got %s", rec.Body.String())
	}
}

func TestExistsReturnsTwoForParentDomain(t *testing.T) {
	cat := newFakeCatalog()
	host := "host1"
	cat.records["example.com"] = catalog.Record{Domain: "example.com", OwnerHost: &host}
	h, _ := newTestHandler(t, cat)

	rec := doRequest(h, http.MethodGet, "/CMD_API_DNS_ADMIN?action=exists&domain=sub.example.com&check_for_parent_domain=1", "", "")
	vals, _ := url.ParseQuery(rec.Body.String())
	if vals.Get("exists") != "2" {
		t.Fatalf("expected exists=2, got %s", rec.Body.String())
	}
}

func TestPostWithNoActionIsConnectivityCheck(t *testing.T) {
	h, _ := newTestHandler(t, newFakeCatalog())
	rec := doRequest(h, http.MethodPost, "/CMD_API_DNS_ADMIN", "", "application/x-www-form-urlencoded")
	vals, _ := url.ParseQuery(rec.Body.String())
	if vals.Get("error") != "0" {
		t.Fatalf("expected error=0 connectivity check, got %s", rec.Body.String())
	}
}

func TestPostRawsaveQueuesSaveItem(t *testing.T) {
	h, q := newTestHandler(t, newFakeCatalog())
	form := url.Values{
		"action":    {"rawsave"},
		"domain":    {"example.com"},
		"zone_file": {sampleZone},
		"hostname":  {"host1"},
	}
	rec := doRequest(h, http.MethodPost, "/CMD_API_DNS_ADMIN", form.Encode(), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	n, err := q.Save.Len()
	if err != nil {
		t.Fatalf("save queue len: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 save item queued, got %d", n)
	}
}

func TestPostDeleteQueuesDeleteItem(t *testing.T) {
	h, q := newTestHandler(t, newFakeCatalog())
	form := url.Values{"action": {"delete"}, "domain": {"example.com"}}
	rec := doRequest(h, http.MethodPost, "/CMD_API_DNS_ADMIN", form.Encode(), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	n, err := q.Delete.Len()
	if err != nil {
		t.Fatalf("delete queue len: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 delete item queued, got %d", n)
	}
}

func TestPostRawsaveRejectsInvalidZone(t *testing.T) {
	h, _ := newTestHandler(t, newFakeCatalog())
	form := url.Values{"action": {"rawsave"}, "domain": {"example.com"}, "zone_file": {"$ORIGIN example.com.\n$TTL 300\nbadline\n"}}
	rec := doRequest(h, http.MethodPost, "/CMD_API_DNS_ADMIN", form.Encode(), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid zone, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueueStatusReportsDepths(t *testing.T) {
	h, q := newTestHandler(t, newFakeCatalog())
	if err := q.Save.Put(queue.Item{Domain: "example.com"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec := doRequest(h, http.MethodGet, "/queue_status", "", "")
	if !strings.Contains(rec.Body.String(), `"save_queue_size":1`) {
		t.Fatalf("expected save_queue_size 1, got %s", rec.Body.String())
	}
}

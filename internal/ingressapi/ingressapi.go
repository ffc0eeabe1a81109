// Package ingressapi implements the DirectAdmin-facing "cluster DNS" HTTP
// API (spec.md section 6): CMD_API_LOGIN_TEST, CMD_API_DNS_ADMIN (exists
// check + rawsave/delete), and /queue_status. Grounded on original_source's
// app/api/admin.py almost verbatim, translated from CherryPy's
// urlencode-response convention to net/http, matching the teacher's
// stdlib-only HTTP layer (no router library).
package ingressapi

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
	"github.com/cybercinch/directdnsonly/internal/queue"
	"github.com/cybercinch/directdnsonly/internal/zoneparser"
)

// Config controls behavior that is read from the running app config rather
// than hardcoded, per spec.md section 6's enumerated keys.
type Config struct {
	AuthUsername                             string
	AuthPassword                             string
	CheckSubdomainOwnerInClusterDomainowners int
}

// Handler serves the DirectAdmin-facing HTTP API.
type Handler struct {
	cfg     Config
	catalog catalog.Store
	queues  *queue.Queues
	metrics *metrics.Metrics
}

func New(cfg Config, cat catalog.Store, queues *queue.Queues, m *metrics.Metrics) *Handler {
	return &Handler{cfg: cfg, catalog: cat, queues: queues, metrics: m}
}

// Register attaches every route this handler serves onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/CMD_API_LOGIN_TEST", h.withAuth(h.loginTest))
	mux.HandleFunc("/CMD_API_DNS_ADMIN", h.withAuth(h.dnsAdmin))
	mux.HandleFunc("/queue_status", h.withAuth(h.queueStatus))
}

// withAuth enforces the main DirectAdmin-facing Basic-Auth credential pair
// (app.auth_username/auth_password), distinct from the internal-peer pair.
func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.cfg.AuthUsername || pass != h.cfg.AuthPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="directdnsonly"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			h.observe(r, http.StatusUnauthorized)
			return
		}
		next(w, r)
		h.observe(r, http.StatusOK)
	}
}

func (h *Handler) observe(r *http.Request, status int) {
	if h.metrics != nil {
		h.metrics.IncHTTPRequest(r.URL.Path, strconv.Itoa(status))
	}
}

func (h *Handler) loginTest(w http.ResponseWriter, r *http.Request) {
	writeURLEncoded(w, http.StatusOK, url.Values{"error": {"0"}, "text": {"Login OK"}})
}

// dnsAdmin dispatches GET (existence check) vs POST (rawsave/delete/
// connectivity-check) exactly as admin.py's CMD_API_DNS_ADMIN does.
func (h *Handler) dnsAdmin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleExists(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		writeURLEncoded(w, http.StatusMethodNotAllowed, url.Values{"error": {"1"}, "text": {"Method not allowed"}})
	}
}

func (h *Handler) handleExists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("action") != "exists" {
		writeURLEncoded(w, http.StatusBadRequest, url.Values{"error": {"1"}, "text": {"Unsupported GET action: " + q.Get("action")}})
		return
	}

	domain := q.Get("domain")
	if domain == "" {
		writeURLEncoded(w, http.StatusBadRequest, url.Values{"error": {"1"}, "text": {"Missing 'domain' parameter"}})
		return
	}

	checkParent := isTruthyCheck(q.Get("check_for_parent_domain"))

	ctx := r.Context()
	rec, err := h.catalog.Get(ctx, domain)
	if err != nil {
		writeURLEncoded(w, http.StatusInternalServerError, url.Values{"error": {"1"}, "text": {err.Error()}})
		return
	}
	domainExists := rec != nil

	var parentRec *catalog.Record
	if checkParent && !domainExists {
		parentRec, err = h.catalog.GetParent(ctx, domain)
		if err != nil {
			writeURLEncoded(w, http.StatusInternalServerError, url.Values{"error": {"1"}, "text": {err.Error()}})
			return
		}
	}

	if !domainExists && parentRec == nil {
		writeURLEncoded(w, http.StatusOK, url.Values{"error": {"0"}, "exists": {"0"}})
		return
	}

	if domainExists {
		host := ""
		if rec.OwnerHost != nil {
			host = *rec.OwnerHost
		}
		writeURLEncoded(w, http.StatusOK, url.Values{
			"error":   {"0"},
			"exists":  {"1"},
			"details": {fmt.Sprintf("Domain exists on %s", host)},
		})
		return
	}

	// Parent domain match. exists=2 is the basic DA 1.53.0 check; exists=3
	// is the DA 1.59.0+ cluster check that also returns hostname/username
	// so the master can validate the requesting user owns the parent.
	if h.cfg.CheckSubdomainOwnerInClusterDomainowners >= 1 {
		hostname, username := "", ""
		if parentRec.OwnerHost != nil {
			hostname = *parentRec.OwnerHost
		}
		if parentRec.OwnerUser != nil {
			username = *parentRec.OwnerUser
		}
		writeURLEncoded(w, http.StatusOK, url.Values{
			"error":    {"0"},
			"exists":   {"3"},
			"hostname": {hostname},
			"username": {username},
		})
		return
	}

	hostname := ""
	if parentRec.OwnerHost != nil {
		hostname = *parentRec.OwnerHost
	}
	writeURLEncoded(w, http.StatusOK, url.Values{
		"error":   {"0"},
		"exists":  {"2"},
		"details": {fmt.Sprintf("Parent Domain exists on %s", hostname)},
	})
}

// isTruthyCheck implements Open Question 2's decided reading: any non-empty,
// non-"0" value is truthy.
func isTruthyCheck(v string) bool {
	return v != "" && v != "0"
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	params, err := parseAllParams(r)
	if err != nil {
		writeURLEncoded(w, http.StatusBadRequest, url.Values{"error": {"1"}, "text": {err.Error()}})
		return
	}

	action := params.Get("action")
	domain := params.Get("domain")

	if action == "" {
		// DirectAdmin sends an initial request with no action as a
		// connectivity check.
		writeURLEncoded(w, http.StatusOK, url.Values{"error": {"0"}, "text": {"OK"}})
		return
	}
	if domain == "" {
		writeURLEncoded(w, http.StatusBadRequest, url.Values{"error": {"1"}, "text": {"Missing 'domain' parameter"}})
		return
	}

	switch action {
	case "rawsave":
		h.handleRawsave(w, r, domain, params)
	case "delete":
		h.handleDelete(w, r, domain, params)
	default:
		writeURLEncoded(w, http.StatusBadRequest, url.Values{"error": {"1"}, "text": {"Unsupported action: " + action}})
	}
}

func (h *Handler) handleRawsave(w http.ResponseWriter, r *http.Request, domain string, params url.Values) {
	zoneData := params.Get("zone_file")
	if zoneData == "" {
		writeURLEncoded(w, http.StatusBadRequest, url.Values{"error": {"1"}, "text": {"Missing zone file content"}})
		return
	}

	normalized, err := zoneparser.ValidateAndNormalize(zoneData, domain)
	if err != nil {
		writeURLEncoded(w, http.StatusBadRequest, url.Values{"error": {"1"}, "text": {err.Error()}})
		return
	}
	slog.Info("validated zone", "domain", domain)

	item := queue.Item{
		Domain:    domain,
		Payload:   normalized,
		OwnerHost: params.Get("hostname"),
		OwnerUser: params.Get("username"),
		Kind:      queue.KindSave,
		Source:    queue.SourceIngress,
	}
	if err := h.queues.Save.Put(item); err != nil {
		writeURLEncoded(w, http.StatusInternalServerError, url.Values{"error": {"1"}, "text": {err.Error()}})
		return
	}

	slog.Info("queued zone update", "domain", domain)
	writeURLEncoded(w, http.StatusOK, url.Values{"error": {"0"}})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, domain string, params url.Values) {
	item := queue.Item{
		Domain:    domain,
		OwnerHost: params.Get("hostname"),
		OwnerUser: params.Get("username"),
		Kind:      queue.KindDelete,
		Source:    queue.SourceIngress,
	}
	if err := h.queues.Delete.Put(item); err != nil {
		writeURLEncoded(w, http.StatusInternalServerError, url.Values{"error": {"1"}, "text": {err.Error()}})
		return
	}

	slog.Info("queued deletion", "domain", domain)
	writeURLEncoded(w, http.StatusOK, url.Values{"error": {"0"}})
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	save, del, retry, err := h.queues.Depths()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"save_queue_size":%d,"delete_queue_size":%d,"retry_queue_size":%d}`, save, del, retry)
}

// parseAllParams merges the query string with the request body — form-
// encoded or raw zone-file text — body values override query values,
// matching admin.py's `{**params, **body_params}`.
func parseAllParams(r *http.Request) (url.Values, error) {
	params := url.Values{}
	for k, v := range r.URL.Query() {
		params[k] = v
	}

	contentType := r.Header.Get("Content-Type")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if len(body) > 0 {
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return nil, err
			}
			for k, v := range form {
				params[k] = v
			}
		}
	case strings.Contains(contentType, "text/plain"):
		params.Set("zone_file", string(body))
	default:
		if params.Get("zone_file") == "" && len(body) > 0 {
			params.Set("zone_file", string(body))
		}
	}
	return params, nil
}

func writeURLEncoded(w http.ResponseWriter, status int, values url.Values) {
	w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
	w.WriteHeader(status)
	io.WriteString(w, values.Encode())
}

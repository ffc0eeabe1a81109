// Package internalapi implements the peer-to-peer zone-payload exchange
// endpoints (spec.md section 6): GET /internal/zones, GET
// /internal/zones?domain=, and GET /internal/peers. Protected by a distinct
// Basic-Auth credential pair (peer_sync.auth_username/auth_password) from
// the DirectAdmin-facing API. Grounded on original_source's
// app/api/internal.py almost verbatim.
package internalapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
)

// PeerLister is implemented by internal/peersync.Worker; kept as a narrow
// interface so this package never imports peersync directly.
type PeerLister interface {
	KnownPeers() []string
}

type Config struct {
	AuthUsername string
	AuthPassword string
}

type Handler struct {
	cfg     Config
	catalog catalog.Store
	peers   PeerLister
	metrics *metrics.Metrics
}

func New(cfg Config, cat catalog.Store, peers PeerLister, m *metrics.Metrics) *Handler {
	return &Handler{cfg: cfg, catalog: cat, peers: peers, metrics: m}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/internal/zones", h.withAuth(h.zones))
	mux.HandleFunc("/internal/peers", h.withAuth(h.peerList))
}

func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.cfg.AuthUsername || pass != h.cfg.AuthPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="directdnsonly-internal"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			h.observe(r, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Handler) observe(r *http.Request, status int) {
	if h.metrics != nil {
		h.metrics.IncHTTPRequest(r.URL.Path, strconv.Itoa(status))
	}
}

type zoneListEntry struct {
	Domain    string  `json:"domain"`
	PayloadTS *string `json:"payload_ts"`
	Hostname  *string `json:"owner_host"`
	Username  *string `json:"owner_user"`
}

type zoneDetail struct {
	Domain    string  `json:"domain"`
	Payload   string  `json:"payload"`
	PayloadTS *string `json:"payload_ts"`
	Hostname  *string `json:"owner_host"`
	Username  *string `json:"owner_user"`
}

// zones serves both the full zone-metadata list and a single domain's full
// payload, selected by the presence of ?domain=.
func (h *Handler) zones(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	domain := r.URL.Query().Get("domain")
	if domain != "" {
		h.zoneDetail(w, r, domain)
		return
	}
	h.zoneList(w, r)
}

func (h *Handler) zoneDetail(w http.ResponseWriter, r *http.Request, domain string) {
	rec, err := h.catalog.Get(r.Context(), domain)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		return
	}
	if rec == nil || rec.Payload == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		return
	}

	detail := zoneDetail{Domain: rec.Domain, Payload: *rec.Payload}
	if rec.PayloadTS != nil {
		ts := rec.PayloadTS.Format("2006-01-02T15:04:05Z07:00")
		detail.PayloadTS = &ts
	}
	detail.Hostname = rec.OwnerHost
	detail.Username = rec.OwnerUser
	json.NewEncoder(w).Encode(detail)
}

func (h *Handler) zoneList(w http.ResponseWriter, r *http.Request) {
	records, err := h.catalog.ListWithPayload(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		return
	}

	out := make([]zoneListEntry, 0, len(records))
	for _, rec := range records {
		entry := zoneListEntry{Domain: rec.Domain, Hostname: rec.OwnerHost, Username: rec.OwnerUser}
		if rec.PayloadTS != nil {
			ts := rec.PayloadTS.Format("2006-01-02T15:04:05Z07:00")
			entry.PayloadTS = &ts
		}
		out = append(out, entry)
	}
	json.NewEncoder(w).Encode(out)
}

// peerList returns every peer URL this node currently knows, the gossip
// mesh-expansion endpoint other nodes' peer-sync workers poll.
func (h *Handler) peerList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var urls []string
	if h.peers != nil {
		urls = h.peers.KnownPeers()
	}
	json.NewEncoder(w).Encode(urls)
}

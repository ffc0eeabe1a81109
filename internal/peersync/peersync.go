// Package peersync implements the gossip-lite pull of newer zone payloads
// between sibling nodes (spec.md section 4.E). It only ever writes to the
// catalog; backend writes remain the save worker's job — the reconciler's
// heal pass picks up newly-synced payloads on its next run. Grounded on
// original_source's app/peer_sync.py almost verbatim.
package peersync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
)

const (
	requestTimeout   = 10 * time.Second
	degradeThreshold = 3
)

// Peer is one configured sibling node.
type Peer struct {
	URL      string
	Username string
	Password string
}

// Config controls how the peer-sync worker runs.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Peers    []Peer
}

type peerState struct {
	peer             Peer
	consecutiveFails int
	degraded         bool
}

// Worker periodically pulls zone payloads from every configured peer and
// discovers new peers via gossip.
type Worker struct {
	cfg     Config
	catalog catalog.Store
	metrics *metrics.Metrics
	client  *retryablehttp.Client

	mu    sync.Mutex
	peers map[string]*peerState

	alive bool
}

func New(cfg Config, cat catalog.Store, m *metrics.Metrics) *Worker {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = requestTimeout

	w := &Worker{cfg: cfg, catalog: cat, metrics: m, client: client, peers: make(map[string]*peerState)}
	for _, p := range cfg.Peers {
		w.peers[p.URL] = &peerState{peer: p}
	}
	return w
}

func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// KnownPeers returns every peer URL this node currently knows, for the
// `/internal/peers` gossip endpoint.
func (w *Worker) KnownPeers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.peers))
	for url := range w.peers {
		out = append(out, url)
	}
	return out
}

// PeerHealth reports {url: healthy} for every known peer, for /status.
func (w *Worker) PeerHealth() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]bool, len(w.peers))
	for url, st := range w.peers {
		out[url] = !st.degraded
	}
	return out
}

// Run blocks until ctx is cancelled, syncing immediately and then once per
// Interval.
func (w *Worker) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		slog.Info("peer sync disabled — skipping")
		return
	}
	if len(w.cfg.Peers) == 0 {
		slog.Warn("peer sync enabled but no peers configured")
		return
	}

	w.mu.Lock()
	w.alive = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.alive = false
		w.mu.Unlock()
	}()

	slog.Info("peer sync worker starting — running initial sync now")
	w.syncAll(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll iterates a snapshot of known peers — syncFromPeer may append newly
// discovered peers mid-pass, which are picked up on the next pass rather than
// this one, avoiding unbounded growth within a single run.
func (w *Worker) syncAll(ctx context.Context) {
	w.mu.Lock()
	states := make([]*peerState, 0, len(w.peers))
	for _, st := range w.peers {
		states = append(states, st)
	}
	w.mu.Unlock()

	slog.Debug("peer sync pass starting", "peers", len(states))
	for _, st := range states {
		if err := w.syncFromPeer(ctx, st.peer); err != nil {
			slog.Warn("peer sync: skipping unreachable peer", "url", st.peer.URL, "error", err)
			w.recordFailure(st.peer.URL)
			continue
		}
		w.recordSuccess(st.peer.URL)
	}
}

func (w *Worker) recordFailure(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.peers[url]
	if !ok {
		return
	}
	st.consecutiveFails++
	if st.consecutiveFails >= degradeThreshold && !st.degraded {
		st.degraded = true
		slog.Warn("peer marked degraded", "url", url, "consecutive_failures", st.consecutiveFails)
		if w.metrics != nil {
			w.metrics.SetPeerHealthy(url, false)
		}
	}
}

func (w *Worker) recordSuccess(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.peers[url]
	if !ok {
		return
	}
	wasDegraded := st.degraded
	st.consecutiveFails = 0
	st.degraded = false
	if wasDegraded {
		slog.Info("peer recovered", "url", url)
	}
	if w.metrics != nil {
		w.metrics.SetPeerHealthy(url, true)
	}
}

type zoneListEntry struct {
	Domain    string     `json:"domain"`
	PayloadTS *time.Time `json:"payload_ts"`
	OwnerHost string     `json:"owner_host"`
	OwnerUser string     `json:"owner_user"`
}

type zoneDetail struct {
	Payload   string     `json:"payload"`
	PayloadTS *time.Time `json:"payload_ts"`
}

// syncFromPeer fetches url's zone list, pulls any entry newer or absent
// locally, and gossips for newly-known peer URLs.
func (w *Worker) syncFromPeer(ctx context.Context, peer Peer) error {
	base := strings.TrimRight(peer.URL, "/")

	entries, err := w.fetchZoneList(ctx, peer, base)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		slog.Debug("peer sync: no zone data on peer yet", "url", base)
	} else {
		synced := 0
		for _, entry := range entries {
			if entry.Domain == "" {
				continue
			}
			if !w.needsSync(ctx, entry) {
				continue
			}
			if err := w.pullZone(ctx, peer, base, entry); err != nil {
				slog.Warn("peer sync: could not fetch zone payload", "url", base, "domain", entry.Domain, "error", err)
				continue
			}
			synced++
		}
		if synced > 0 {
			slog.Info("peer sync: synced zones from peer", "url", base, "count", synced)
			if w.metrics != nil {
				w.metrics.IncPeerSynced(base, synced)
			}
		} else {
			slog.Debug("peer sync: already up to date", "url", base)
		}
	}

	w.discoverPeers(ctx, peer, base)
	if w.metrics != nil {
		w.metrics.IncPeerSyncRun(base, true)
	}
	return nil
}

func (w *Worker) needsSync(ctx context.Context, entry zoneListEntry) bool {
	local, err := w.catalog.Get(ctx, entry.Domain)
	if err != nil {
		slog.Warn("peer sync: local catalog lookup failed", "domain", entry.Domain, "error", err)
		return false
	}
	if local == nil || local.Payload == nil {
		return true
	}
	if entry.PayloadTS == nil {
		return false
	}
	if local.PayloadTS == nil {
		return true
	}
	return entry.PayloadTS.After(*local.PayloadTS)
}

func (w *Worker) pullZone(ctx context.Context, peer Peer, base string, entry zoneListEntry) error {
	resp, err := w.get(ctx, peer, fmt.Sprintf("%s/internal/zones?domain=%s", base, entry.Domain))
	if err != nil {
		return err
	}
	body, err := readAndClose(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d fetching zone detail", resp.StatusCode)
	}

	var detail zoneDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return fmt.Errorf("decode zone detail: %w", err)
	}
	if detail.Payload == "" {
		return nil
	}

	ts := time.Now()
	if detail.PayloadTS != nil {
		ts = *detail.PayloadTS
	}

	existing, err := w.catalog.Get(ctx, entry.Domain)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := w.catalog.PutIfAbsent(ctx, catalog.Record{
			Domain:    entry.Domain,
			OwnerHost: nonEmptyPtr(entry.OwnerHost),
			OwnerUser: nonEmptyPtr(entry.OwnerUser),
		}); err != nil {
			return err
		}
	}
	return w.catalog.UpdatePayload(ctx, entry.Domain, detail.Payload, ts)
}

func (w *Worker) fetchZoneList(ctx context.Context, peer Peer, base string) ([]zoneListEntry, error) {
	resp, err := w.get(ctx, peer, base+"/internal/zones")
	if err != nil {
		return nil, err
	}
	body, err := readAndClose(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d listing zones", resp.StatusCode)
	}
	var entries []zoneListEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode zone list: %w", err)
	}
	return entries, nil
}

// discoverPeers appends any peer URL reported by peer's /internal/peers that
// we don't already know, inheriting peer's own credentials (spec.md section
// 4.E: "gossip-lite"). Failures here never escalate to a sync failure.
func (w *Worker) discoverPeers(ctx context.Context, peer Peer, base string) {
	resp, err := w.get(ctx, peer, base+"/internal/peers")
	if err != nil {
		slog.Debug("peer sync: discovery request failed", "url", base, "error", err)
		return
	}
	body, err := readAndClose(resp)
	if err != nil || resp.StatusCode != http.StatusOK {
		return
	}
	var urls []string
	if err := json.Unmarshal(body, &urls); err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, url := range urls {
		url = strings.TrimRight(url, "/")
		if url == "" {
			continue
		}
		if _, known := w.peers[url]; known {
			continue
		}
		w.peers[url] = &peerState{peer: Peer{URL: url, Username: peer.Username, Password: peer.Password}}
		slog.Info("peer sync: discovered new peer", "url", url, "via", base)
	}
}

func (w *Worker) get(ctx context.Context, peer Peer, rawURL string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if peer.Username != "" {
		req.SetBasicAuth(peer.Username, peer.Password)
	}
	return w.client.Do(req)
}

func readAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

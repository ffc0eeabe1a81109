// Package reconciler implements the periodic consistency pass (spec.md
// section 4.D): cross-checking the catalog against every configured
// upstream control panel, backfilling/migrating ownership, orphan
// deletion, and healing backends missing a zone they should carry.
// Grounded on original_source's app/reconciler.py almost verbatim, with
// the heal sub-pass added per spec.md section 4.D.4 (not present in the
// retrieved reconciler.py excerpt).
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
	"github.com/cybercinch/directdnsonly/internal/panelclient"
	"github.com/cybercinch/directdnsonly/internal/queue"
)

// Panel is one configured upstream control panel to poll.
type Panel struct {
	Hostname string
	Client   *panelclient.Client
}

// Config controls how the reconciler runs.
type Config struct {
	Enabled      bool
	DryRun       bool
	Interval     time.Duration
	InitialDelay time.Duration
	ItemsPerPage int
	Panels       []Panel
}

// Stats captures the outcome of the most recently completed pass, surfaced
// via /status (spec.md section 6).
type Stats struct {
	StartedAt         time.Time
	Duration          time.Duration
	PanelsQueried     int
	PanelsUnreachable int
	ZonesInCatalog    int
	ZonesInPanels     int
	Orphans           int
	Backfills         int
	Migrations        int
	Heals             int
}

// Reconciler drives the periodic pass against a catalog, a backend
// registry, and the delete/save queues.
type Reconciler struct {
	cfg      Config
	catalog  catalog.Store
	backends *backend.Registry
	queues   *queue.Queues
	metrics  *metrics.Metrics

	alive    atomic.Bool
	mu       sync.RWMutex
	lastRun  Stats
}

func New(cfg Config, cat catalog.Store, backends *backend.Registry, queues *queue.Queues, m *metrics.Metrics) *Reconciler {
	return &Reconciler{cfg: cfg, catalog: cat, backends: backends, queues: queues, metrics: m}
}

func (r *Reconciler) Alive() bool { return r.alive.Load() }

func (r *Reconciler) LastRun() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun
}

// Run blocks until ctx is cancelled, running an initial pass (after the
// configured delay) and then one pass per Interval.
func (r *Reconciler) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		slog.Info("reconciler disabled — skipping")
		return
	}
	if len(r.cfg.Panels) == 0 {
		slog.Warn("reconciler enabled but no panels configured")
		return
	}

	r.alive.Store(true)
	defer r.alive.Store(false)

	if r.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.InitialDelay):
		}
	}

	r.runPass(ctx)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	start := time.Now()
	mode := "LIVE"
	if r.cfg.DryRun {
		mode = "DRY-RUN"
	}
	slog.Info("reconciliation pass starting", "mode", mode, "panels", len(r.cfg.Panels))

	panelDomains, unreachable := r.fetchPanelDomains(ctx)

	stats := Stats{
		StartedAt:         start,
		PanelsQueried:     len(r.cfg.Panels),
		PanelsUnreachable: unreachable,
		ZonesInPanels:     len(panelDomains),
	}

	backfills, migrations, orphans := r.reconcileCatalog(ctx, panelDomains, &stats)
	stats.Backfills = backfills
	stats.Migrations = migrations
	stats.Orphans = orphans

	if r.backends != nil && r.queues != nil {
		stats.Heals = r.healMissingZones(ctx)
	}

	stats.Duration = time.Since(start)
	r.mu.Lock()
	r.lastRun = stats
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.IncReconcileRun(true)
		r.metrics.SetReconcileDuration(stats.Duration)
		r.metrics.AddReconcileOrphans(orphans)
		r.metrics.AddReconcileHeals(stats.Heals)
		r.metrics.AddReconcileBackfill(backfills)
		r.metrics.AddReconcileMigrate(migrations)
	}

	slog.Info("reconciliation pass complete",
		"mode", mode,
		"duration", stats.Duration,
		"orphans", orphans,
		"backfills", backfills,
		"migrations", migrations,
		"heals", stats.Heals,
		"panels_unreachable", unreachable,
	)
}

// fetchPanelDomains queries every configured panel, building a
// domain -> reporting-host map. Unreachable panels are counted but do not
// stop the pass — their domains simply never enter the map (spec.md
// section 4.D's safety rule).
func (r *Reconciler) fetchPanelDomains(ctx context.Context) (map[string]string, int) {
	panelDomains := make(map[string]string)
	var mu sync.Mutex
	var unreachable int64
	var errs *multierror.Error
	var wg sync.WaitGroup

	for _, p := range r.cfg.Panels {
		wg.Add(1)
		go func(p Panel) {
			defer wg.Done()
			domains, err := p.Client.ListDomains(ctx, r.itemsPerPage())
			if err != nil {
				slog.Error("reconciler: panel unreachable", "host", p.Hostname, "error", err)
				if r.metrics != nil {
					r.metrics.IncPanelUnreachable(p.Hostname)
				}
				atomic.AddInt64(&unreachable, 1)
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return
			}
			mu.Lock()
			for _, d := range domains {
				panelDomains[d] = p.Hostname
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if errs != nil {
		slog.Warn("reconciler: some panels were unreachable this pass", "count", unreachable, "errors", errs.ErrorOrNil())
	}
	return panelDomains, int(unreachable)
}

func (r *Reconciler) itemsPerPage() int {
	if r.cfg.ItemsPerPage <= 0 {
		return 1000
	}
	return r.cfg.ItemsPerPage
}

// knownHosts is the set of hostnames we actively poll — orphan deletion
// only fires for domains whose recorded owner is one of these (spec.md
// section 4.D step 3: "and the recorded owner is in our configured panel
// set").
func (r *Reconciler) knownHosts() map[string]struct{} {
	hosts := make(map[string]struct{}, len(r.cfg.Panels))
	for _, p := range r.cfg.Panels {
		hosts[p.Hostname] = struct{}{}
	}
	return hosts
}

// reconcileCatalog walks every catalog record, backfilling/migrating
// ownership and emitting orphan deletes for domains no panel reports
// anymore. Backfills/migrations are data repairs and always applied, even
// in dry-run; only orphan deletes are gated on dry-run.
func (r *Reconciler) reconcileCatalog(ctx context.Context, panelDomains map[string]string, stats *Stats) (backfills, migrations, orphans int) {
	records, err := r.catalog.ListAll(ctx)
	if err != nil {
		slog.Error("reconciler: list catalog failed", "error", err)
		return 0, 0, 0
	}
	stats.ZonesInCatalog = len(records)
	known := r.knownHosts()

	for _, rec := range records {
		actualHost, seenByPanel := panelDomains[rec.Domain]
		if seenByPanel {
			switch {
			case rec.OwnerHost == nil:
				slog.Info("reconciler: backfilling owner", "domain", rec.Domain, "host", actualHost)
				if err := r.catalog.UpdateOwner(ctx, rec.Domain, actualHost, ""); err != nil {
					slog.Error("reconciler: backfill failed", "domain", rec.Domain, "error", err)
					continue
				}
				backfills++
			case *rec.OwnerHost != actualHost:
				slog.Warn("reconciler: owner migrated", "domain", rec.Domain, "from", *rec.OwnerHost, "to", actualHost)
				ownerUser := ""
				if rec.OwnerUser != nil {
					ownerUser = *rec.OwnerUser
				}
				if err := r.catalog.UpdateOwner(ctx, rec.Domain, actualHost, ownerUser); err != nil {
					slog.Error("reconciler: migration failed", "domain", rec.Domain, "error", err)
					continue
				}
				migrations++
			}
			continue
		}

		if rec.OwnerHost == nil {
			continue
		}
		if _, ownedByKnownPanel := known[*rec.OwnerHost]; !ownedByKnownPanel {
			continue
		}

		if r.cfg.DryRun {
			slog.Warn("reconciler: [DRY-RUN] would delete orphan", "domain", rec.Domain, "owner", *rec.OwnerHost)
			orphans++
			continue
		}

		ownerUser := ""
		if rec.OwnerUser != nil {
			ownerUser = *rec.OwnerUser
		}
		item := queue.Item{
			Domain:    rec.Domain,
			OwnerHost: *rec.OwnerHost,
			OwnerUser: ownerUser,
			Kind:      queue.KindDelete,
			Source:    queue.SourceReconcilerOrphan,
		}
		if err := r.queues.Delete.Put(item); err != nil {
			slog.Error("reconciler: failed to enqueue orphan delete", "domain", rec.Domain, "error", err)
			continue
		}
		orphans++
	}
	return backfills, migrations, orphans
}

// healMissingZones checks every zone with a known payload against each
// enabled backend; a zone missing from one or more backends gets one heal
// save item whose targets are only the missing backends' names, so a healthy
// backend is never re-written unnecessarily (spec.md section 4.D.4).
func (r *Reconciler) healMissingZones(ctx context.Context) int {
	records, err := r.catalog.ListWithPayload(ctx)
	if err != nil {
		slog.Error("reconciler: list zones with payload failed", "error", err)
		return 0
	}

	healed := 0
	for _, rec := range records {
		var missing []string
		for _, b := range r.backends.All() {
			exists, err := b.ZoneExists(ctx, rec.Domain)
			if err != nil {
				slog.Error("reconciler: zone_exists check failed", "backend", b.Name(), "domain", rec.Domain, "error", err)
				continue
			}
			if !exists {
				missing = append(missing, b.Name())
			}
		}
		if len(missing) == 0 {
			continue
		}

		if r.cfg.DryRun {
			slog.Warn("reconciler: [DRY-RUN] would heal zone", "domain", rec.Domain, "backends", missing)
			healed++
			continue
		}

		item := queue.Item{
			Domain:         rec.Domain,
			Payload:        derefString(rec.Payload),
			TargetBackends: missing,
			Kind:           queue.KindSave,
			Source:         queue.SourceReconcilerHeal,
		}
		if err := r.queues.Save.Put(item); err != nil {
			slog.Error("reconciler: failed to enqueue heal save", "domain", rec.Domain, "error", err)
			continue
		}
		healed++
	}
	return healed
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/queue"
	"github.com/cybercinch/directdnsonly/internal/zoneparser"
)

// batch tracks a run of save items processed back-to-back, purely for the
// "batch opened/closed" log lines worker.py emits around queue-drain runs.
type batch struct {
	start     time.Time
	processed int
	failed    int
}

// RunSaveWorker drains the save queue until ctx is cancelled, normalizing
// catalog ownership and fanning each zone write out across backends
// (spec.md section 4.C).
func (p *Pipeline) RunSaveWorker(ctx context.Context) {
	p.saveAlive.Store(true)
	defer p.saveAlive.Store(false)

	var b *batch
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := p.queues.Save.Get(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("save queue dequeue failed", "error", err)
			continue
		}
		if item == nil {
			if b != nil {
				p.closeBatch(b)
				b = nil
			}
			continue
		}
		if b == nil {
			b = &batch{start: time.Now()}
			slog.Info("save batch opened")
		}

		if err := p.processSaveItem(ctx, *item); err != nil {
			b.failed++
			slog.Error("save item failed", "domain", item.Domain, "error", err)
		} else {
			b.processed++
		}
		if err := p.queues.Save.Ack(item.ID); err != nil {
			slog.Error("save queue ack failed", "id", item.ID, "error", err)
		}

		if n, err := p.queues.Save.Len(); err == nil && n == 0 {
			p.closeBatch(b)
			b = nil
		}
	}
}

func (p *Pipeline) closeBatch(b *batch) {
	slog.Info("save batch closed",
		"duration", time.Since(b.start),
		"processed", b.processed,
		"failed", b.failed,
	)
}

// processSaveItem normalizes the catalog record, fans the write out across
// the item's target backends, and either commits the payload or schedules a
// narrowed retry for whatever failed.
func (p *Pipeline) processSaveItem(ctx context.Context, item queue.Item) error {
	if err := p.reconcileOwnership(ctx, item); err != nil {
		return err
	}

	targets := p.enabledTargets(item)
	if len(targets) == 0 {
		return nil
	}

	failed := p.writeToBackends(ctx, targets, item)

	if len(failed) == 0 {
		return p.catalog.UpdatePayload(ctx, item.Domain, item.Payload, time.Now())
	}
	p.scheduleRetry(item, failed)
	return nil
}

// reconcileOwnership inserts a brand-new domain or migrates ownership when
// the reporting host/user differs from what the catalog has on file (I4).
func (p *Pipeline) reconcileOwnership(ctx context.Context, item queue.Item) error {
	existing, err := p.catalog.Get(ctx, item.Domain)
	if err != nil {
		return err
	}
	if existing == nil {
		return p.catalog.PutIfAbsent(ctx, catalog.Record{
			Domain:    item.Domain,
			OwnerHost: nonEmptyPtr(item.OwnerHost),
			OwnerUser: nonEmptyPtr(item.OwnerUser),
		})
	}
	if item.OwnerHost != "" && (existing.OwnerHost == nil || *existing.OwnerHost != item.OwnerHost) {
		return p.catalog.UpdateOwner(ctx, item.Domain, item.OwnerHost, item.OwnerUser)
	}
	return nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// writeToBackends fans the write out sequentially for a single backend or
// in parallel for more than one (worker.py's _process_backends_parallel).
// Individual backend failures are independent, so they're aggregated into
// one multierror for a single log line rather than surfaced per goroutine;
// the names of the failed backends are returned separately for retry
// targeting.
func (p *Pipeline) writeToBackends(ctx context.Context, targets []backend.Backend, item queue.Item) []string {
	var mu sync.Mutex
	var failed []string
	var errs *multierror.Error

	record := func(b backend.Backend, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		failed = append(failed, b.Name())
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		mu.Unlock()
	}

	if len(targets) == 1 {
		record(targets[0], p.writeToBackend(ctx, targets[0], item))
	} else {
		var wg sync.WaitGroup
		for _, b := range targets {
			wg.Add(1)
			go func(b backend.Backend) {
				defer wg.Done()
				record(b, p.writeToBackend(ctx, b, item))
			}(b)
		}
		wg.Wait()
	}

	if errs != nil {
		slog.Error("backend write failures", "domain", item.Domain, "error", errs.ErrorOrNil())
	}
	return failed
}

// writeToBackend writes the zone, reloads the daemon (full named.conf/nsd.conf
// rewrite for file-backed daemons, scoped reload otherwise), and verifies the
// record count landed, reconciling only on an excess (never a deficit).
func (p *Pipeline) writeToBackend(ctx context.Context, b backend.Backend, item queue.Item) error {
	ok, err := b.WriteZone(ctx, item.Domain, item.Payload)
	if err != nil {
		p.metrics.IncBackendWrite(b.Name(), "write", false)
		return fmt.Errorf("write_zone: %w", err)
	}
	if !ok {
		p.metrics.IncBackendWrite(b.Name(), "write", false)
		return fmt.Errorf("write_zone reported failure")
	}
	p.metrics.IncBackendWrite(b.Name(), "write", true)

	if zw, ok := b.(backend.ZoneFileWriter); ok {
		zones, err := p.currentZoneList(ctx)
		if err != nil {
			return fmt.Errorf("list zones for conf rewrite: %w", err)
		}
		if err := zw.RewriteZoneList(ctx, zones); err != nil {
			return fmt.Errorf("rewrite conf: %w", err)
		}
		if err := b.Reload(ctx, ""); err != nil {
			return fmt.Errorf("full reload: %w", err)
		}
	} else if err := b.Reload(ctx, item.Domain); err != nil {
		return fmt.Errorf("scoped reload: %w", err)
	}

	p.verifyRecordCount(ctx, b, item)
	return nil
}

// verifyRecordCount mirrors worker.py's _verify_backend_record_count:
// unsupported backends are skipped silently, a match is a no-op, an excess
// triggers one ReconcileRecords call, and a deficit only logs a warning —
// the next zone push is expected to correct it.
func (p *Pipeline) verifyRecordCount(ctx context.Context, b backend.Backend, item queue.Item) {
	expected, err := zoneparser.CountRecords(item.Payload, item.Domain)
	if err != nil || expected < 0 {
		slog.Warn("skipping record count verification", "backend", b.Name(), "domain", item.Domain, "error", err)
		return
	}

	matches, actual, err := b.VerifyRecordCount(ctx, item.Domain, expected)
	if err == backend.ErrNotSupported {
		return
	}
	if err != nil {
		slog.Error("verify record count failed", "backend", b.Name(), "domain", item.Domain, "error", err)
		return
	}
	if matches {
		p.metrics.IncBackendVerify(b.Name(), "match")
		return
	}

	if actual <= expected {
		p.metrics.IncBackendVerify(b.Name(), "fewer")
		slog.Warn("backend record count short of expected", "backend", b.Name(), "domain", item.Domain, "expected", expected, "actual", actual)
		return
	}

	p.metrics.IncBackendVerify(b.Name(), "extra")
	ok, removed, err := b.ReconcileRecords(ctx, item.Domain, item.Payload)
	if err != nil || !ok {
		slog.Error("reconcile excess records failed", "backend", b.Name(), "domain", item.Domain, "error", err)
		return
	}
	slog.Info("reconciled excess backend records", "backend", b.Name(), "domain", item.Domain, "removed", removed)
}

// scheduleRetry enqueues a narrowed retry-save item targeting only the
// backends that failed, or dead-letters the item once the backoff ceiling
// is exceeded.
func (p *Pipeline) scheduleRetry(item queue.Item, failed []string) {
	attempt := item.Attempt + 1
	delay, ok := queue.Backoff(attempt)
	if !ok {
		slog.Error("save item exceeded retry ceiling, dead-lettering", "domain", item.Domain, "backends", failed)
		p.incDeadLetter()
		p.metrics.IncRetryAttempt("dead_letter")
		return
	}

	retryItem := item
	retryItem.ID = ""
	retryItem.Kind = queue.KindRetrySave
	retryItem.Attempt = attempt
	retryItem.ReadyAt = time.Now().Add(delay)
	retryItem.TargetBackends = failed

	if err := p.queues.Retry.Put(retryItem); err != nil {
		slog.Error("failed to enqueue retry item", "domain", item.Domain, "error", err)
		return
	}
	p.metrics.IncRetryAttempt("scheduled")
}

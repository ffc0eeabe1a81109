package dispatch

import (
	"context"
	"log/slog"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/queue"
)

// RunDeleteWorker drains the delete queue until ctx is cancelled, dropping a
// zone only once every enabled backend confirms the delete (spec.md section
// 4.C).
func (p *Pipeline) RunDeleteWorker(ctx context.Context) {
	p.deleteAlive.Store(true)
	defer p.deleteAlive.Store(false)

	for {
		if ctx.Err() != nil {
			return
		}
		item, err := p.queues.Delete.Get(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("delete queue dequeue failed", "error", err)
			continue
		}
		if item == nil {
			continue
		}

		if err := p.processDeleteItem(ctx, *item); err != nil {
			slog.Error("delete item failed", "domain", item.Domain, "error", err)
		}
		if err := p.queues.Delete.Ack(item.ID); err != nil {
			slog.Error("delete queue ack failed", "id", item.ID, "error", err)
		}
	}
}

// processDeleteItem looks the domain up, enforces the ownership guard, fans
// the delete out to every enabled backend, and only drops the catalog
// record once all backends report success. A partial failure leaves the
// record in place so a subsequent delete attempt can complete the job.
func (p *Pipeline) processDeleteItem(ctx context.Context, item queue.Item) error {
	rec, err := p.catalog.Get(ctx, item.Domain)
	if err != nil {
		return err
	}
	if rec == nil {
		slog.Warn("delete requested for unknown domain", "domain", item.Domain)
		return nil
	}
	if item.OwnerHost != "" && rec.OwnerHost != nil && *rec.OwnerHost != "" && *rec.OwnerHost != item.OwnerHost {
		slog.Warn("delete rejected: owner mismatch", "domain", item.Domain, "requester", item.OwnerHost, "owner", *rec.OwnerHost)
		return nil
	}

	targets := p.enabledTargets(item)
	allOK := true
	for _, b := range targets {
		if !p.deleteFromBackend(ctx, b, item.Domain) {
			allOK = false
		}
	}

	if !allOK {
		return nil
	}
	return p.catalog.Delete(ctx, item.Domain)
}

func (p *Pipeline) deleteFromBackend(ctx context.Context, b backend.Backend, domain string) bool {
	_, err := b.DeleteZone(ctx, domain)
	if err != nil {
		slog.Error("backend delete_zone failed", "backend", b.Name(), "domain", domain, "error", err)
		p.metrics.IncBackendWrite(b.Name(), "delete", false)
		return false
	}
	p.metrics.IncBackendWrite(b.Name(), "delete", true)

	if zw, zwOK := b.(backend.ZoneFileWriter); zwOK {
		zones, err := p.currentZoneListExcluding(ctx, domain)
		if err != nil {
			slog.Error("listing zones for conf rewrite failed", "backend", b.Name(), "error", err)
			return false
		}
		if err := zw.RewriteZoneList(ctx, zones); err != nil {
			slog.Error("backend conf rewrite failed", "backend", b.Name(), "error", err)
			return false
		}
		if err := b.Reload(ctx, ""); err != nil {
			slog.Error("backend full reload failed", "backend", b.Name(), "error", err)
			return false
		}
		return true
	}

	if err := b.Reload(ctx, domain); err != nil {
		slog.Error("backend scoped reload failed", "backend", b.Name(), "domain", domain, "error", err)
		return false
	}
	return true
}

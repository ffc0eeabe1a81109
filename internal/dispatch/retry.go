package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cybercinch/directdnsonly/internal/queue"
)

// RunRetryWorker wakes on a fixed tick, drains every retry item whose
// backoff has elapsed, and re-enqueues it onto the save queue with its
// narrowed target_backends preserved (spec.md section 4.C).
func (p *Pipeline) RunRetryWorker(ctx context.Context, interval time.Duration) {
	p.retryAlive.Store(true)
	defer p.retryAlive.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainRetryQueue()
		}
	}
}

func (p *Pipeline) drainRetryQueue() {
	ready, err := p.queues.Retry.DrainReady(time.Now())
	if err != nil {
		slog.Error("retry queue drain failed", "error", err)
		return
	}
	for _, item := range ready {
		item.Kind = queue.KindRetrySave
		if err := p.queues.Save.Put(item); err != nil {
			slog.Error("failed to re-enqueue retry item to save queue", "domain", item.Domain, "error", err)
		}
	}
}

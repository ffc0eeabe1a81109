// Package dispatch implements the durable save/delete/retry pipeline that
// fans zone writes across backends (spec.md section 4.C), grounded on
// original_source's worker.py almost operation-for-operation.
package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/metrics"
	"github.com/cybercinch/directdnsonly/internal/queue"
)

const dequeueTimeout = 5 * time.Second

// Pipeline owns the three durable queues and drives them against the
// backend registry and catalog.
type Pipeline struct {
	queues   *queue.Queues
	backends *backend.Registry
	catalog  catalog.Store
	metrics  *metrics.Metrics

	deadLetters int64

	saveAlive   atomic.Bool
	deleteAlive atomic.Bool
	retryAlive  atomic.Bool
}

func New(queues *queue.Queues, backends *backend.Registry, cat catalog.Store, m *metrics.Metrics) *Pipeline {
	return &Pipeline{queues: queues, backends: backends, catalog: cat, metrics: m}
}

func (p *Pipeline) DeadLetters() int64 { return atomic.LoadInt64(&p.deadLetters) }

func (p *Pipeline) SaveWorkerAlive() bool   { return p.saveAlive.Load() }
func (p *Pipeline) DeleteWorkerAlive() bool { return p.deleteAlive.Load() }
func (p *Pipeline) RetryWorkerAlive() bool  { return p.retryAlive.Load() }

func (p *Pipeline) incDeadLetter() {
	atomic.AddInt64(&p.deadLetters, 1)
	if p.metrics != nil {
		p.metrics.IncDeadLetter()
	}
}

// enabledTargets resolves the backend set an item should fan out to:
// TargetBackends when present (retry/heal items), otherwise every
// registered backend.
func (p *Pipeline) enabledTargets(item queue.Item) []backend.Backend {
	if len(item.TargetBackends) == 0 {
		return p.backends.All()
	}
	out := make([]backend.Backend, 0, len(item.TargetBackends))
	for _, name := range item.TargetBackends {
		if b, ok := p.backends.Get(name); ok {
			out = append(out, b)
		} else {
			slog.Warn("retry item targets unknown backend", "backend", name)
		}
	}
	return out
}

// currentZoneList returns every known domain, used to fully rewrite a
// file-backed daemon's include list after each write/delete.
func (p *Pipeline) currentZoneList(ctx context.Context) ([]string, error) {
	records, err := p.catalog.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	zones := make([]string, 0, len(records))
	for _, r := range records {
		zones = append(zones, r.Domain)
	}
	return zones, nil
}

// currentZoneListExcluding returns every known domain except excluded. The
// delete path calls this instead of currentZoneList because the catalog
// record for excluded is only removed after every backend confirms the
// delete (processDeleteItem), so currentZoneList would still carry it and
// the file-backed include list would be rewritten with the zone it was
// just told to drop.
func (p *Pipeline) currentZoneListExcluding(ctx context.Context, excluded string) ([]string, error) {
	zones, err := p.currentZoneList(ctx)
	if err != nil {
		return nil, err
	}
	out := zones[:0]
	for _, z := range zones {
		if z != excluded {
			out = append(out, z)
		}
	}
	return out, nil
}

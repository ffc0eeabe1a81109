// Package backend defines the capability surface every DNS server adapter
// implements (spec.md section 4.B) and a name-keyed registry the dispatch
// pipeline and reconciler fan out across.
package backend

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by the optional verification/reconciliation
// capabilities when a backend cannot enumerate its own records.
var ErrNotSupported = errors.New("backend: operation not supported")

// Backend is the polymorphic surface over {BIND-like, NSD-like zone-file
// daemon, relational-records database} adapters.
type Backend interface {
	// Name returns the configured instance name (spec.md section 4.B:
	// "each adapter advertises an instance name").
	Name() string

	// Available probes the backend's own dependencies (binary present,
	// driver loadable).
	Available() bool

	// WriteZone idempotently overwrites the zone, returning success.
	WriteZone(ctx context.Context, zone, payload string) (bool, error)

	// DeleteZone removes the zone; returns false if nothing existed.
	DeleteZone(ctx context.Context, zone string) (bool, error)

	// Reload signals the DNS daemon. zone == "" reloads everything; may be
	// a no-op for record-backed stores.
	Reload(ctx context.Context, zone string) error

	// ZoneExists is a presence check.
	ZoneExists(ctx context.Context, zone string) (bool, error)

	// VerifyRecordCount compares the backend's own row count for zone
	// against expected. Returns ErrNotSupported if the backend cannot
	// enumerate.
	VerifyRecordCount(ctx context.Context, zone string, expected int) (matches bool, actual int, err error)

	// ReconcileRecords forcibly brings the backend's per-zone row set into
	// agreement with payload, removing extras. Returns ErrNotSupported if
	// unsupported.
	ReconcileRecords(ctx context.Context, zone, payload string) (ok bool, removed int, err error)
}

// ZoneFileWriter is implemented by file-backed daemons (bind, nsd) so the
// dispatch pipeline can trigger the full include-file rewrite spec.md
// section 4.B requires after every write or delete, using the catalog's
// current zone list rather than an incremental patch.
type ZoneFileWriter interface {
	RewriteZoneList(ctx context.Context, zones []string) error
}

// Registry is a name-keyed set of configured, enabled backends.
type Registry struct {
	backends map[string]Backend
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

func (r *Registry) Register(b Backend) {
	name := b.Name()
	if _, exists := r.backends[name]; !exists {
		r.order = append(r.order, name)
	}
	r.backends[name] = b
}

func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// All returns every registered backend in registration order.
func (r *Registry) All() []Backend {
	out := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// Names returns every registered backend's name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int { return len(r.backends) }

package recorddb

import (
	"context"
	"database/sql"

	"github.com/cybercinch/directdnsonly/internal/zoneparser"
)

// schema abstracts the two relational layouts this package drives:
// pdns_mysql's two-table PowerDNS schema and coredns_mysql's flat
// single-table layout. Both are diffed and applied the same way; only the
// SQL differs.
type schema interface {
	EnsureSchema(ctx context.Context, db *sql.DB) error
	ZoneExists(ctx context.Context, db *sql.DB, zone string) (bool, error)
	DeleteZone(ctx context.Context, db *sql.DB, zone string) (bool, error)
	CountRecords(ctx context.Context, db *sql.DB, zone string) (int, error)
	// ApplyRecords diff-applies records against the zone's current rows,
	// inserting new keys, updating changed content/ttl/priority, and
	// deleting rows whose (name, type) is no longer present.
	ApplyRecords(ctx context.Context, db *sql.DB, zone string, records []zoneparser.Record) (added, updated, removed int, err error)
}

type rrKey struct {
	name string
	typ  string
}

// diffPlan splits desired records against existing (name,type) rows,
// shared by both schemas' ApplyRecords (grounded on powerdns_mysql.py's
// write_zone: existing_records / current_records / changes tally).
type diffPlan struct {
	toInsert []zoneparser.Record
	toUpdate []zoneparser.Record
	toDelete []rrKey
}

func planDiff(records []zoneparser.Record, existing map[rrKey]existingRow) diffPlan {
	var plan diffPlan
	seen := make(map[rrKey]bool, len(records))

	for _, rec := range records {
		key := rrKey{name: rec.Name, typ: rec.Type}
		seen[key] = true
		row, ok := existing[key]
		if !ok {
			plan.toInsert = append(plan.toInsert, rec)
			continue
		}
		if row.changed(rec) {
			plan.toUpdate = append(plan.toUpdate, rec)
		}
	}
	for key := range existing {
		if !seen[key] {
			plan.toDelete = append(plan.toDelete, key)
		}
	}
	return plan
}

type existingRow struct {
	content  string
	ttl      int
	priority *int
}

func (r existingRow) changed(rec zoneparser.Record) bool {
	if r.content != rec.Content || r.ttl != rec.TTL {
		return true
	}
	switch {
	case r.priority == nil && rec.Priority == nil:
		return false
	case r.priority == nil || rec.Priority == nil:
		return true
	default:
		return *r.priority != *rec.Priority
	}
}

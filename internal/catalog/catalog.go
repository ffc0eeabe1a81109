// Package catalog implements the durable domain -> owner/payload mapping
// every other subsystem consults (spec.md section 4.A).
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cybercinch/directdnsonly/internal/metrics"
)

// Record is one row of the catalog: domain -> owning control panel and
// last-known zone payload.
type Record struct {
	Domain    string
	OwnerHost *string
	OwnerUser *string
	Payload   *string
	PayloadTS *time.Time
}

// Known reports whether this record represents a zone the catalog has ever
// seen, regardless of whether its payload has synced yet (I2).
func (r *Record) Known() bool { return r != nil }

// Store is the catalog's capability surface (spec.md section 4.A).
type Store interface {
	Get(ctx context.Context, domain string) (*Record, error)
	GetParent(ctx context.Context, domain string) (*Record, error)
	PutIfAbsent(ctx context.Context, rec Record) error
	UpdateOwner(ctx context.Context, domain, ownerHost, ownerUser string) error
	UpdatePayload(ctx context.Context, domain, payload string, ts time.Time) error
	Delete(ctx context.Context, domain string) error
	ListAll(ctx context.Context) ([]Record, error)
	ListWithPayload(ctx context.Context) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

type sqliteStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// Open opens (creating if absent) the SQLite-backed catalog at path and
// applies any outstanding additive migrations.
func Open(path string, m *metrics.Metrics) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer-per-process (spec.md section 4.A contract)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS domains (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		domain TEXT NOT NULL UNIQUE
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create domains table: %w", err)
	}

	s := &sqliteStore{db: db, metrics: m}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog db: %w", err)
	}
	return s, nil
}

// migrate applies additive schema changes, probing for each expected column
// before issuing its ALTER TABLE, matching the original's db._migrate().
func (s *sqliteStore) migrate() error {
	migrations := []struct {
		column string
		ddl    string
	}{
		{"owner_host", "ALTER TABLE domains ADD COLUMN owner_host TEXT"},
		{"owner_user", "ALTER TABLE domains ADD COLUMN owner_user TEXT"},
		{"payload", "ALTER TABLE domains ADD COLUMN payload TEXT"},
		{"payload_ts", "ALTER TABLE domains ADD COLUMN payload_ts DATETIME"},
	}
	for _, m := range migrations {
		probe := fmt.Sprintf("SELECT %s FROM domains LIMIT 1", m.column)
		if _, err := s.db.Exec(probe); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			slog.Warn("catalog migration skipped", "column", m.column, "error", err)
			continue
		}
		slog.Info("catalog migration applied", "column", m.column)
	}
	return nil
}

func normalize(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}

func (s *sqliteStore) Get(ctx context.Context, domain string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT domain, owner_host, owner_user, payload, payload_ts FROM domains WHERE domain = ?`,
		normalize(domain))
	return scanRecord(row)
}

// GetParent splits on the first label and looks up the immediate parent
// exactly (spec.md section 4.A) — no wildcard or suffix search.
func (s *sqliteStore) GetParent(ctx context.Context, domain string) (*Record, error) {
	d := normalize(domain)
	idx := strings.Index(d, ".")
	if idx < 0 {
		return nil, nil
	}
	return s.Get(ctx, d[idx+1:])
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var ownerHost, ownerUser, payload sql.NullString
	var payloadTS sql.NullTime
	if err := row.Scan(&rec.Domain, &ownerHost, &ownerUser, &payload, &payloadTS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if ownerHost.Valid {
		rec.OwnerHost = &ownerHost.String
	}
	if ownerUser.Valid {
		rec.OwnerUser = &ownerUser.String
	}
	if payload.Valid {
		rec.Payload = &payload.String
	}
	if payloadTS.Valid {
		t := payloadTS.Time
		rec.PayloadTS = &t
	}
	return &rec, nil
}

// PutIfAbsent inserts rec only if the domain is not already known (I1). It
// is a no-op, not an error, when the domain already exists.
func (s *sqliteStore) PutIfAbsent(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (domain, owner_host, owner_user, payload, payload_ts)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(domain) DO NOTHING`,
		normalize(rec.Domain), rec.OwnerHost, rec.OwnerUser, rec.Payload, rec.PayloadTS)
	s.observe("insert", err)
	return err
}

// UpdateOwner overwrites owner_host/owner_user — the migration path (I4).
func (s *sqliteStore) UpdateOwner(ctx context.Context, domain, ownerHost, ownerUser string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (domain, owner_host, owner_user) VALUES (?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET owner_host = excluded.owner_host, owner_user = excluded.owner_user`,
		normalize(domain), ownerHost, ownerUser)
	s.observe("update_owner", err)
	return err
}

// UpdatePayload atomically updates body and timestamp together. It does not
// compare against the stored body: ts is written on every call, including a
// call that repeats the current payload.
func (s *sqliteStore) UpdatePayload(ctx context.Context, domain, payload string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (domain, payload, payload_ts) VALUES (?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET payload = excluded.payload, payload_ts = excluded.payload_ts`,
		normalize(domain), payload, ts)
	s.observe("update_payload", err)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE domain = ?`, normalize(domain))
	s.observe("delete", err)
	return err
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]Record, error) {
	return s.list(ctx, `SELECT domain, owner_host, owner_user, payload, payload_ts FROM domains`)
}

func (s *sqliteStore) ListWithPayload(ctx context.Context) ([]Record, error) {
	return s.list(ctx, `SELECT domain, owner_host, owner_user, payload, payload_ts FROM domains WHERE payload IS NOT NULL`)
}

func (s *sqliteStore) list(ctx context.Context, query string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ownerHost, ownerUser, payload sql.NullString
		var payloadTS sql.NullTime
		if err := rows.Scan(&rec.Domain, &ownerHost, &ownerUser, &payload, &payloadTS); err != nil {
			return nil, err
		}
		if ownerHost.Valid {
			rec.OwnerHost = &ownerHost.String
		}
		if ownerUser.Valid {
			rec.OwnerUser = &ownerUser.String
		}
		if payload.Valid {
			rec.Payload = &payload.String
		}
		if payloadTS.Valid {
			t := payloadTS.Time
			rec.PayloadTS = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM domains`).Scan(&n)
	return n, err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncCatalogOp(op, err == nil)
}

package recorddb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cybercinch/directdnsonly/internal/zoneparser"
)

// pdnsSchema implements the PowerDNS "NATIVE" two-table schema
// (domains, records) verbatim from original_source's
// backends/powerdns_mysql.py Domain/Record models.
type pdnsSchema struct{}

func (pdnsSchema) EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS domains (
			id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			master VARCHAR(128) NULL,
			last_check INT NULL,
			type VARCHAR(6) NOT NULL DEFAULT 'NATIVE',
			notified_serial INT NULL,
			account VARCHAR(40) NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id INT AUTO_INCREMENT PRIMARY KEY,
			domain_id INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			type VARCHAR(10) NOT NULL,
			content TEXT NOT NULL,
			ttl INT NULL,
			prio INT NULL,
			change_date INT NULL,
			disabled BOOL NOT NULL DEFAULT FALSE,
			ordername VARCHAR(255) NULL,
			auth BOOL NOT NULL DEFAULT TRUE,
			INDEX (domain_id),
			INDEX (name)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pdns schema: %w", err)
		}
	}
	return nil
}

func (pdnsSchema) domainID(ctx context.Context, db *sql.DB, zone string) (int64, bool, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT id FROM domains WHERE name = ?`, zone).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s pdnsSchema) ZoneExists(ctx context.Context, db *sql.DB, zone string) (bool, error) {
	_, ok, err := s.domainID(ctx, db, zone)
	return ok, err
}

func (s pdnsSchema) DeleteZone(ctx context.Context, db *sql.DB, zone string) (bool, error) {
	id, ok, err := s.domainID(ctx, db, zone)
	if err != nil || !ok {
		return false, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE domain_id = ?`, id); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM domains WHERE id = ?`, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s pdnsSchema) CountRecords(ctx context.Context, db *sql.DB, zone string) (int, error) {
	id, ok, err := s.domainID(ctx, db, zone)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE domain_id = ?`, id).Scan(&n)
	return n, err
}

func (s pdnsSchema) ApplyRecords(ctx context.Context, db *sql.DB, zone string, records []zoneparser.Record) (added, updated, removed int, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	defer tx.Rollback()

	var domainID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM domains WHERE name = ?`, zone).Scan(&domainID)
	if err == sql.ErrNoRows {
		res, err2 := tx.ExecContext(ctx, `INSERT INTO domains (name, type) VALUES (?, 'NATIVE')`, zone)
		if err2 != nil {
			return 0, 0, 0, err2
		}
		domainID, err2 = res.LastInsertId()
		if err2 != nil {
			return 0, 0, 0, err2
		}
	} else if err != nil {
		return 0, 0, 0, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, name, type, content, ttl, prio FROM records WHERE domain_id = ?`, domainID)
	if err != nil {
		return 0, 0, 0, err
	}
	existing := make(map[rrKey]existingRow)
	ids := make(map[rrKey]int64)
	for rows.Next() {
		var id int64
		var name, typ, content string
		var ttl sql.NullInt64
		var prio sql.NullInt64
		if err := rows.Scan(&id, &name, &typ, &content, &ttl, &prio); err != nil {
			rows.Close()
			return 0, 0, 0, err
		}
		key := rrKey{name: name, typ: typ}
		row := existingRow{content: content, ttl: int(ttl.Int64)}
		if prio.Valid {
			p := int(prio.Int64)
			row.priority = &p
		}
		existing[key] = row
		ids[key] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, 0, err
	}

	plan := planDiff(records, existing)

	for _, rec := range plan.toInsert {
		var prio interface{}
		if rec.Priority != nil {
			prio = *rec.Priority
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (domain_id, name, type, content, ttl, prio, auth) VALUES (?, ?, ?, ?, ?, ?, TRUE)`,
			domainID, rec.Name, rec.Type, rec.Content, rec.TTL, prio); err != nil {
			return 0, 0, 0, err
		}
	}
	for _, rec := range plan.toUpdate {
		key := rrKey{name: rec.Name, typ: rec.Type}
		var prio interface{}
		if rec.Priority != nil {
			prio = *rec.Priority
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET content = ?, ttl = ?, prio = ? WHERE id = ?`,
			rec.Content, rec.TTL, prio, ids[key]); err != nil {
			return 0, 0, 0, err
		}
	}
	for _, key := range plan.toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, ids[key]); err != nil {
			return 0, 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, 0, err
	}
	return len(plan.toInsert), len(plan.toUpdate), len(plan.toDelete), nil
}

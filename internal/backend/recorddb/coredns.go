package recorddb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cybercinch/directdnsonly/internal/zoneparser"
)

// corednsSchema implements the flat, single-table layout the CoreDNS MySQL
// backend uses — one row per resource record keyed on (zone, name, type).
// original_source's backends/coredns_mysql.py was not part of the retrieved
// file set; this table shape is inferred from zone_parser.py's
// count_zone_records docstring ("the same way the CoreDNS MySQL backend
// stores them — one row per record") plus config/__init__.py's
// dns.backends.coredns_mysql.table_name default ("records"), documented in
// DESIGN.md as a supplemented/inferred component.
type corednsSchema struct {
	table string
}

func (s corednsSchema) tableName() string {
	if s.table == "" {
		return "records"
	}
	return s.table
}

func (s corednsSchema) EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INT AUTO_INCREMENT PRIMARY KEY,
		zone VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(10) NOT NULL,
		content TEXT NOT NULL,
		ttl INT NULL,
		priority INT NULL,
		INDEX (zone),
		UNIQUE KEY zone_name_type (zone, name, type)
	)`, s.tableName())
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure coredns schema: %w", err)
	}
	return nil
}

func (s corednsSchema) ZoneExists(ctx context.Context, db *sql.DB, zone string) (bool, error) {
	var n int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE zone = ?`, s.tableName())
	if err := db.QueryRowContext(ctx, q, zone).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s corednsSchema) DeleteZone(ctx context.Context, db *sql.DB, zone string) (bool, error) {
	exists, err := s.ZoneExists(ctx, db, zone)
	if err != nil || !exists {
		return false, err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE zone = ?`, s.tableName())
	_, err = db.ExecContext(ctx, q, zone)
	return err == nil, err
}

func (s corednsSchema) CountRecords(ctx context.Context, db *sql.DB, zone string) (int, error) {
	var n int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE zone = ?`, s.tableName())
	err := db.QueryRowContext(ctx, q, zone).Scan(&n)
	return n, err
}

func (s corednsSchema) ApplyRecords(ctx context.Context, db *sql.DB, zone string, records []zoneparser.Record) (added, updated, removed int, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	defer tx.Rollback()

	table := s.tableName()
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id, name, type, content, ttl, priority FROM %s WHERE zone = ?`, table), zone)
	if err != nil {
		return 0, 0, 0, err
	}
	existing := make(map[rrKey]existingRow)
	ids := make(map[rrKey]int64)
	for rows.Next() {
		var id int64
		var name, typ, content string
		var ttl, priority sql.NullInt64
		if err := rows.Scan(&id, &name, &typ, &content, &ttl, &priority); err != nil {
			rows.Close()
			return 0, 0, 0, err
		}
		key := rrKey{name: name, typ: typ}
		row := existingRow{content: content, ttl: int(ttl.Int64)}
		if priority.Valid {
			p := int(priority.Int64)
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

	insertStmt := fmt.Sprintf(`INSERT INTO %s (zone, name, type, content, ttl, priority) VALUES (?, ?, ?, ?, ?, ?)`, table)
	for _, rec := range plan.toInsert {
		var prio interface{}
		if rec.Priority != nil {
			prio = *rec.Priority
		}
		if _, err := tx.ExecContext(ctx, insertStmt, zone, rec.Name, rec.Type, rec.Content, rec.TTL, prio); err != nil {
			return 0, 0, 0, err
		}
	}
	updateStmt := fmt.Sprintf(`UPDATE %s SET content = ?, ttl = ?, priority = ? WHERE id = ?`, table)
	for _, rec := range plan.toUpdate {
		key := rrKey{name: rec.Name, typ: rec.Type}
		var prio interface{}
		if rec.Priority != nil {
			prio = *rec.Priority
		}
		if _, err := tx.ExecContext(ctx, updateStmt, rec.Content, rec.TTL, prio, ids[key]); err != nil {
			return 0, 0, 0, err
		}
	}
	deleteStmt := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
	for _, key := range plan.toDelete {
		if _, err := tx.ExecContext(ctx, deleteStmt, ids[key]); err != nil {
			return 0, 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, 0, err
	}
	return len(plan.toInsert), len(plan.toUpdate), len(plan.toDelete), nil
}

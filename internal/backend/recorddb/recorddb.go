package recorddb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/zoneparser"
)

// Backend drives a relational-records database (PowerDNS-schema or
// CoreDNS-schema) through the shared diff-apply engine (spec.md section
// 4.B).
type Backend struct {
	name   string
	db     *sql.DB
	schema schema
}

// Config is the subset of config.Backend a MySQL-backed adapter consumes.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Table    string // coredns_mysql only; defaults to "records"
}

func dsn(c Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.Username, c.Password, c.Host, c.Port, c.Database)
}

// NewPowerDNS opens a pdns_mysql backend instance (original_source's
// backends/powerdns_mysql.py's domains+records schema).
func NewPowerDNS(instanceName string, c Config) (*Backend, error) {
	return open(instanceName, c, pdnsSchema{})
}

// NewCoreDNS opens a coredns_mysql backend instance.
func NewCoreDNS(instanceName string, c Config) (*Backend, error) {
	return open(instanceName, c, corednsSchema{table: c.Table})
}

func open(instanceName string, c Config, s schema) (*Backend, error) {
	db, err := sql.Open("mysql", dsn(c))
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", instanceName, err)
	}
	if err := s.EnsureSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema for %s: %w", instanceName, err)
	}
	return &Backend{name: instanceName, db: db, schema: s}, nil
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Available() bool { return b.db.Ping() == nil }

func (b *Backend) WriteZone(ctx context.Context, zone, payload string) (bool, error) {
	records, err := zoneparser.ParseRecords(payload, zone)
	if err != nil {
		return false, fmt.Errorf("parse zone %s: %w", zone, err)
	}
	if _, _, _, err := b.schema.ApplyRecords(ctx, b.db, zone, records); err != nil {
		return false, fmt.Errorf("apply records for %s: %w", zone, err)
	}
	return true, nil
}

func (b *Backend) DeleteZone(ctx context.Context, zone string) (bool, error) {
	ok, err := b.schema.DeleteZone(ctx, b.db, zone)
	if err != nil {
		return false, fmt.Errorf("delete zone %s: %w", zone, err)
	}
	return ok, nil
}

// Reload is a no-op for record-backed stores — PowerDNS and CoreDNS both
// read straight from the database on each query (original's reload_zone
// leaves the pdns_control calls commented out, since nothing needs signaling).
func (b *Backend) Reload(ctx context.Context, zone string) error { return nil }

func (b *Backend) ZoneExists(ctx context.Context, zone string) (bool, error) {
	return b.schema.ZoneExists(ctx, b.db, zone)
}

func (b *Backend) VerifyRecordCount(ctx context.Context, zone string, expected int) (bool, int, error) {
	actual, err := b.schema.CountRecords(ctx, b.db, zone)
	if err != nil {
		return false, 0, fmt.Errorf("count records for %s: %w", zone, err)
	}
	return actual == expected, actual, nil
}

func (b *Backend) ReconcileRecords(ctx context.Context, zone, payload string) (bool, int, error) {
	records, err := zoneparser.ParseRecords(payload, zone)
	if err != nil {
		return false, 0, fmt.Errorf("parse zone %s: %w", zone, err)
	}
	_, _, removed, err := b.schema.ApplyRecords(ctx, b.db, zone, records)
	if err != nil {
		return false, 0, fmt.Errorf("reconcile records for %s: %w", zone, err)
	}
	return true, removed, nil
}

func (b *Backend) Close() error { return b.db.Close() }

var _ backend.Backend = (*Backend)(nil)

// Package bind adapts a BIND/named zone-file daemon to the backend.Backend
// surface, grounded on original_source's backends/bind.py.
package bind

import (
	"context"
	"fmt"
	"strings"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/backend/zonefile"
)

type Backend struct {
	name   string
	writer *zonefile.Writer
	cmd    zonefile.ExecCommander
}

func New(instanceName, zonesDir, namedConf string) (*Backend, error) {
	cmd := zonefile.ExecCommander{Binary: "rndc", Verb: "reload"}
	writer, err := zonefile.New(zonesDir, namedConf, cmd, formatNamedConf)
	if err != nil {
		return nil, fmt.Errorf("bind backend %s: %w", instanceName, err)
	}
	return &Backend{name: instanceName, writer: writer, cmd: cmd}, nil
}

func formatNamedConf(zonesDir string, zones []string) string {
	var b strings.Builder
	for _, zone := range zones {
		fmt.Fprintf(&b, "zone \"%s\" { type master; file \"%s/%s.db\"; };\n", zone, zonesDir, zone)
	}
	return b.String()
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Available() bool { return b.cmd.Available() }

func (b *Backend) WriteZone(ctx context.Context, zone, payload string) (bool, error) {
	if err := b.writer.WriteZoneFile(zone, payload); err != nil {
		return false, fmt.Errorf("write zone file %s: %w", zone, err)
	}
	return true, nil
}

func (b *Backend) DeleteZone(ctx context.Context, zone string) (bool, error) {
	ok, err := b.writer.DeleteZoneFile(zone)
	if err != nil {
		return false, fmt.Errorf("delete zone file %s: %w", zone, err)
	}
	return ok, nil
}

// RewriteZoneList satisfies backend.ZoneFileWriter.
func (b *Backend) RewriteZoneList(ctx context.Context, zones []string) error {
	return b.writer.RewriteZoneList(ctx, zones)
}

func (b *Backend) Reload(ctx context.Context, zone string) error {
	return b.writer.Reload(ctx, zone)
}

func (b *Backend) ZoneExists(ctx context.Context, zone string) (bool, error) {
	return b.writer.ZoneFileExists(zone), nil
}

// VerifyRecordCount is unsupported: a zone file's record count is only
// knowable by re-parsing it, which the dispatch pipeline already did on the
// source payload before the write.
func (b *Backend) VerifyRecordCount(ctx context.Context, zone string, expected int) (bool, int, error) {
	return false, 0, backend.ErrNotSupported
}

func (b *Backend) ReconcileRecords(ctx context.Context, zone, payload string) (bool, int, error) {
	return false, 0, backend.ErrNotSupported
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.ZoneFileWriter = (*Backend)(nil)

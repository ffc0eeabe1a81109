// Package nsd adapts an NSD zone-file daemon to the backend.Backend
// surface, grounded on original_source's backends/nsd.py. Zone files use the
// same RFC 1035 presentation form as BIND; only the reload command and the
// include-file stanza syntax differ.
package nsd

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

func New(instanceName, zonesDir, nsdConf string) (*Backend, error) {
	cmd := zonefile.ExecCommander{Binary: "nsd-control", Verb: "reload"}
	writer, err := zonefile.New(zonesDir, nsdConf, cmd, formatNSDConf)
	if err != nil {
		return nil, fmt.Errorf("nsd backend %s: %w", instanceName, err)
	}
	return &Backend{name: instanceName, writer: writer, cmd: cmd}, nil
}

func formatNSDConf(zonesDir string, zones []string) string {
	var b strings.Builder
	for _, zone := range zones {
		fmt.Fprintf(&b, "\nzone:\n    name: \"%s\"\n    zonefile: \"%s/%s.db\"\n", zone, zonesDir, zone)
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

func (b *Backend) RewriteZoneList(ctx context.Context, zones []string) error {
	return b.writer.RewriteZoneList(ctx, zones)
}

func (b *Backend) Reload(ctx context.Context, zone string) error {
	return b.writer.Reload(ctx, zone)
}

func (b *Backend) ZoneExists(ctx context.Context, zone string) (bool, error) {
	return b.writer.ZoneFileExists(zone), nil
}

func (b *Backend) VerifyRecordCount(ctx context.Context, zone string, expected int) (bool, int, error) {
	return false, 0, backend.ErrNotSupported
}

func (b *Backend) ReconcileRecords(ctx context.Context, zone, payload string) (bool, int, error) {
	return false, 0, backend.ErrNotSupported
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.ZoneFileWriter = (*Backend)(nil)

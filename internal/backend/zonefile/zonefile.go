// Package zonefile holds the write/delete/conf-rewrite logic shared by the
// BIND and NSD adapters (grounded on original_source's backends/bind.py and
// backends/nsd.py, which differ only in their daemon reload command and
// include-file stanza format).
package zonefile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Commander issues the daemon-specific reload command. zone == "" reloads
// every zone.
type Commander interface {
	Reload(ctx context.Context, zone string) error
}

// ConfFormatter renders the full include-file content for the given zone
// list — bind and nsd each supply their own stanza syntax.
type ConfFormatter func(zonesDir string, zones []string) string

// Writer manages a zones directory plus a single include file that is fully
// rewritten (never incrementally patched) from a known-good zone list,
// matching update_named_conf/update_nsd_conf in the original.
type Writer struct {
	ZonesDir  string
	ConfPath  string
	Commander Commander
	Format    ConfFormatter

	mu sync.Mutex
}

func New(zonesDir, confPath string, commander Commander, format ConfFormatter) (*Writer, error) {
	if err := os.MkdirAll(zonesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create zones dir %s: %w", zonesDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(confPath), 0o755); err != nil {
		return nil, fmt.Errorf("create conf dir for %s: %w", confPath, err)
	}
	if _, err := os.Stat(confPath); os.IsNotExist(err) {
		if err := os.WriteFile(confPath, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create conf file %s: %w", confPath, err)
		}
	}
	return &Writer{ZonesDir: zonesDir, ConfPath: confPath, Commander: commander, Format: format}, nil
}

func (w *Writer) zoneFilePath(zone string) string {
	return filepath.Join(w.ZonesDir, zone+".db")
}

// WriteZoneFile writes the zone file content, overwriting it if present.
func (w *Writer) WriteZoneFile(zone, payload string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return os.WriteFile(w.zoneFilePath(zone), []byte(payload), 0o644)
}

// DeleteZoneFile removes the zone file. Returns false if it did not exist.
func (w *Writer) DeleteZoneFile(zone string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	path := w.zoneFilePath(zone)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Writer) ZoneFileExists(zone string) bool {
	_, err := os.Stat(w.zoneFilePath(zone))
	return err == nil
}

// RewriteZoneList rewrites the include file from scratch given the
// catalog's current zone list (spec.md section 4.B: "a full rewrite of the
// include file is performed ... after every write or delete").
func (w *Writer) RewriteZoneList(ctx context.Context, zones []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	content := w.Format(w.ZonesDir, zones)
	return os.WriteFile(w.ConfPath, []byte(content), 0o644)
}

func (w *Writer) Reload(ctx context.Context, zone string) error {
	if w.Commander == nil {
		return nil
	}
	return w.Commander.Reload(ctx, zone)
}

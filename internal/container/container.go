// Package container builds the wired object graph for the running bridge
// (spec.md section 9's "construct a root container" design note):
// catalog, backend registry, queues, dispatch pipeline, reconciler,
// peer-sync worker, and the three HTTP handlers, all constructed once at
// startup from config.Config and passed explicitly. Grounded on the
// teacher's main.go wiring order (config -> metrics -> state -> provider
// -> engine -> sync loop), generalized to the larger component count.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cybercinch/directdnsonly/internal/backend"
	"github.com/cybercinch/directdnsonly/internal/backend/bind"
	"github.com/cybercinch/directdnsonly/internal/backend/nsd"
	"github.com/cybercinch/directdnsonly/internal/backend/recorddb"
	"github.com/cybercinch/directdnsonly/internal/catalog"
	"github.com/cybercinch/directdnsonly/internal/config"
	"github.com/cybercinch/directdnsonly/internal/dispatch"
	"github.com/cybercinch/directdnsonly/internal/ingressapi"
	"github.com/cybercinch/directdnsonly/internal/internalapi"
	"github.com/cybercinch/directdnsonly/internal/metrics"
	"github.com/cybercinch/directdnsonly/internal/panelclient"
	"github.com/cybercinch/directdnsonly/internal/peersync"
	"github.com/cybercinch/directdnsonly/internal/queue"
	"github.com/cybercinch/directdnsonly/internal/reconciler"
	"github.com/cybercinch/directdnsonly/internal/statusapi"
)

// Container holds every long-lived component main.go needs to start
// workers and serve HTTP, wired once and passed explicitly — no package
// in this tree reaches for global state.
type Container struct {
	Metrics    *metrics.Metrics
	Catalog    catalog.Store
	Backends   *backend.Registry
	Queues     *queue.Queues
	Pipeline   *dispatch.Pipeline
	Reconciler *reconciler.Reconciler
	PeerSync   *peersync.Worker

	Ingress  *ingressapi.Handler
	Internal *internalapi.Handler
	Status   *statusapi.Handler
}

// Build constructs every component from cfg. It opens the catalog
// database and the durable queue directories, so callers must call
// Close() when done.
func Build(cfg *config.Config) (*Container, error) {
	m := metrics.New(true)

	cat, err := catalog.Open(cfg.Datastore.DBLocation, m)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	registry, err := buildBackends(cfg)
	if err != nil {
		return nil, fmt.Errorf("build backends: %w", err)
	}

	queues, err := queue.Open(cfg.QueueLocation, m)
	if err != nil {
		return nil, fmt.Errorf("open queues: %w", err)
	}

	pipeline := dispatch.New(queues, registry, cat, m)

	panels, err := buildPanels(cfg)
	if err != nil {
		return nil, fmt.Errorf("build panel clients: %w", err)
	}

	rec := reconciler.New(reconciler.Config{
		Enabled:      cfg.Reconciliation.Enabled,
		DryRun:       cfg.Reconciliation.DryRun,
		Interval:     time.Duration(cfg.Reconciliation.IntervalMinutes) * time.Minute,
		InitialDelay: time.Duration(cfg.Reconciliation.InitialDelayMinutes) * time.Minute,
		ItemsPerPage: cfg.Reconciliation.IPP,
		Panels:       panels,
	}, cat, registry, queues, m)

	peers := make([]peersync.Peer, 0, len(cfg.PeerSync.Peers))
	for _, p := range cfg.PeerSync.Peers {
		peers = append(peers, peersync.Peer{URL: p.URL, Username: p.Username, Password: p.Password})
	}
	ps := peersync.New(peersync.Config{
		Enabled:  cfg.PeerSync.Enabled,
		Interval: time.Duration(cfg.PeerSync.IntervalMinutes) * time.Minute,
		Peers:    peers,
	}, cat, m)

	ingress := ingressapi.New(ingressapi.Config{
		AuthUsername: cfg.App.AuthUsername,
		AuthPassword: cfg.App.AuthPassword,
		CheckSubdomainOwnerInClusterDomainowners: cfg.App.CheckSubdomainOwnerInClusterDomainowners,
	}, cat, queues, m)

	internal := internalapi.New(internalapi.Config{
		AuthUsername: cfg.PeerSync.AuthUsername,
		AuthPassword: cfg.PeerSync.AuthPassword,
	}, cat, ps, m)

	status := statusapi.New(cat, registry, pipeline, queues, rec, ps)

	return &Container{
		Metrics:    m,
		Catalog:    cat,
		Backends:   registry,
		Queues:     queues,
		Pipeline:   pipeline,
		Reconciler: rec,
		PeerSync:   ps,
		Ingress:    ingress,
		Internal:   internal,
		Status:     status,
	}, nil
}

func (c *Container) Close() error {
	var firstErr error
	if err := c.Queues.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func buildBackends(cfg *config.Config) (*backend.Registry, error) {
	registry := backend.NewRegistry()
	for name, b := range cfg.DNS.Backends {
		if !b.Enabled {
			continue
		}
		adapter, err := buildBackend(name, b)
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
		slog.Info("registered backend", "name", name, "type", b.Type)
	}
	return registry, nil
}

func buildBackend(name string, b config.Backend) (backend.Backend, error) {
	switch b.Type {
	case "bind":
		return bind.New(name, b.ZonesDir, b.ConfPath)
	case "nsd":
		return nsd.New(name, b.ZonesDir, b.ConfPath)
	case "powerdns":
		return recorddb.NewPowerDNS(name, recordDBConfig(b))
	case "coredns":
		return recorddb.NewCoreDNS(name, recordDBConfig(b))
	default:
		return nil, fmt.Errorf("unknown backend type %q for %q", b.Type, name)
	}
}

func recordDBConfig(b config.Backend) recorddb.Config {
	return recorddb.Config{
		Host:     b.Host,
		Port:     b.Port,
		Database: b.Database,
		Username: b.Username,
		Password: b.Password,
		Table:    b.Table,
	}
}

func buildPanels(cfg *config.Config) ([]reconciler.Panel, error) {
	panels := make([]reconciler.Panel, 0, len(cfg.Reconciliation.DirectAdminServers))
	for _, s := range cfg.Reconciliation.DirectAdminServers {
		client := panelclient.New(panelclient.Config{
			Hostname:  s.Hostname,
			Port:      s.Port,
			Username:  s.Username,
			Password:  s.Password,
			SSL:       s.SSL,
			VerifySSL: cfg.Reconciliation.VerifySSL,
		})

		if s.AutoRegister {
			registerSelf(client, s.Hostname, cfg)
		}

		panels = append(panels, reconciler.Panel{Hostname: s.Hostname, Client: client})
	}
	return panels, nil
}

// registerSelf is best-effort and never blocks startup: a panel that
// rejects self-registration still gets reconciled normally, it just never
// receives DirectAdmin-pushed zone updates until an operator fixes it by
// hand.
func registerSelf(client *panelclient.Client, panelHost string, cfg *config.Config) {
	if cfg.App.SelfIP == "" {
		slog.Warn("auto_register enabled but app.self_ip is unset, skipping", "panel", panelHost)
		return
	}
	err := client.EnsureRegistered(context.Background(), panelclient.RegisterConfig{
		IP:       cfg.App.SelfIP,
		Port:     cfg.App.ListenPort,
		Username: cfg.App.AuthUsername,
		Password: cfg.App.AuthPassword,
		SSL:      cfg.App.SSLEnable,
	})
	if err != nil {
		slog.Warn("self-registration with panel failed", "panel", panelHost, "error", err)
		return
	}
	slog.Info("registered self as extra DNS server", "panel", panelHost)
}

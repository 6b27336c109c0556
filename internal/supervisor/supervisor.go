// Package supervisor owns the atomically swappable routing table and
// implements signal-driven hot reload.
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/tos-network/rpc-gateway/internal/config"
	"github.com/tos-network/rpc-gateway/internal/health"
	"github.com/tos-network/rpc-gateway/internal/routing"
	"github.com/tos-network/rpc-gateway/internal/util"
)

// Supervisor exclusively owns the routing-table reference. Handlers and
// the health monitor hold shared read snapshots.
type Supervisor struct {
	table atomic.Pointer[routing.Table]
	state *health.State
}

// New builds a Supervisor from an initial, already-validated config.
func New(cfg *config.Config, state *health.State) *Supervisor {
	s := &Supervisor{state: state}
	s.table.Store(buildTable(cfg, nil))
	return s
}

// Table returns the current routing-table snapshot. Safe to call
// concurrently with Reload; lock-free.
func (s *Supervisor) Table() *routing.Table {
	return s.table.Load()
}

// Upstreams returns the upstreams of the current snapshot, used by the
// health monitor's probe loop.
func (s *Supervisor) Upstreams() []*routing.Upstream {
	return s.table.Load().Upstreams
}

// Reload parses and validates a new configuration file and, if valid,
// atomically swaps the routing table. An invalid reload is
// logged and the previous table is kept — reload is non-destructive on
// error.
func (s *Supervisor) Reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		util.Errorf("reload failed, keeping previous configuration: %v", err)
		return fmt.Errorf("reload: %w", err)
	}

	previous := s.table.Load()
	next := buildTable(cfg, previous)
	s.table.Store(next)
	util.Infof("configuration reloaded: %d backend(s)", len(next.Upstreams))
	return nil
}

// buildTable constructs a new routing table from cfg. When previous is
// non-nil, upstreams whose label matches an existing one carry over their
// runtime health state so outage history survives a reload; new labels
// start Healthy (optimistic).
func buildTable(cfg *config.Config, previous *routing.Table) *routing.Table {
	upstreams := make([]*routing.Upstream, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		u := routing.NewUpstream(b.Label, b.URL, b.WSURL, b.Weight)
		if previous != nil {
			for _, old := range previous.Upstreams {
				if old.Label == b.Label {
					u.SetHealthy(old.Healthy())
					break
				}
			}
		}
		upstreams = append(upstreams, u)
	}

	routes := make(map[string]string, len(cfg.MethodRoutes))
	for method, label := range cfg.MethodRoutes {
		routes[method] = label
	}

	return &routing.Table{
		Upstreams:    upstreams,
		MethodRoutes: routes,
		ProxyTimeout: cfg.ProxyTimeout(),
	}
}

// WatchReload blocks, reloading configPath on every hangup-style signal
// and returning when the process receives a termination signal.
func (s *Supervisor) WatchReload(configPath string, onShutdown func(sig os.Signal)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			util.Info("SIGHUP received, reloading configuration")
			if err := s.Reload(configPath); err != nil {
				util.Errorf("SIGHUP reload failed: %v", err)
			}
		default:
			onShutdown(sig)
			return
		}
	}
}

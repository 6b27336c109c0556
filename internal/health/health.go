// Package health implements the hysteretic per-upstream health monitor.
// State flips only after FT consecutive failures or ST consecutive
// successes, so with thresholds of 2 or more a single probe never flips it.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tos-network/rpc-gateway/internal/routing"
	"github.com/tos-network/rpc-gateway/internal/util"
)

// Status is the rich health record published for a single upstream.
// Mutated only by the monitor; read by the health-report handler.
type Status struct {
	Healthy               bool
	LastCheckTime         time.Time
	ConsecutiveFailures   int
	ConsecutiveSuccesses  int
	LastError             string
}

// defaultStatus is used for a label with no recorded status yet — e.g. a
// backend just added by a reload that hasn't been probed yet.
func defaultStatus() Status {
	return Status{Healthy: true}
}

// Thresholds are the FT/ST hysteresis parameters.
type Thresholds struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// Probe is the configuration of a health probe.
type Probe struct {
	Method  string
	Timeout time.Duration
}

// State is the read-write-lock-protected status map shared between the
// monitor (sole writer, which also reads the previous status on each probe)
// and its readers, such as the health-report handler.
type State struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewState builds an empty health-status store.
func NewState() *State {
	return &State{statuses: make(map[string]Status)}
}

// Get returns the status for label, or the optimistic default if unknown.
func (s *State) Get(label string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[label]; ok {
		return st
	}
	return defaultStatus()
}

// All returns a copy of the status map.
func (s *State) All() map[string]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Status, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

// Set stores the status for label. Exposed for tests and for seeding
// status carried over across a reload; in normal operation only the
// monitor calls this.
func (s *State) Set(label string, st Status) {
	s.mu.Lock()
	s.statuses[label] = st
	s.mu.Unlock()
}

// Monitor runs the probe loop against the upstreams it is handed at the
// start of each sweep, publishing
// both the rich Status (via State) and each upstream's lock-free atomic
// bool.
type Monitor struct {
	state      *State
	client     *http.Client
	thresholds Thresholds
	probe      Probe
	interval   time.Duration

	onTransition func(label string, healthy bool)
	gauge        func(label string, healthy bool)
}

// NewMonitor builds a Monitor. onTransition and gauge may be nil.
func NewMonitor(state *State, thresholds Thresholds, probe Probe, interval time.Duration, onTransition func(label string, healthy bool), gauge func(label string, healthy bool)) *Monitor {
	return &Monitor{
		state:      state,
		client:     &http.Client{},
		thresholds: thresholds,
		probe:      probe,
		interval:   interval,
		onTransition: onTransition,
		gauge:        gauge,
	}
}

// Run sweeps every upstream once per interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, upstreams func() []*routing.Upstream) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx, upstreams())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx, upstreams())
		}
	}
}

func (m *Monitor) sweep(ctx context.Context, upstreams []*routing.Upstream) {
	for _, u := range upstreams {
		m.checkOne(ctx, u)
	}
}

// checkOne probes a single upstream and applies the hysteresis state
// machine.
func (m *Monitor) checkOne(ctx context.Context, u *routing.Upstream) {
	err := m.doProbe(ctx, u.URL)

	prev := m.state.Get(u.Label)
	next := prev
	next.LastCheckTime = time.Now()

	if err != nil {
		next.ConsecutiveFailures++
		next.ConsecutiveSuccesses = 0
		next.LastError = err.Error()
		if next.ConsecutiveFailures >= m.thresholds.ConsecutiveFailures {
			next.Healthy = false
		}
	} else {
		next.ConsecutiveSuccesses++
		next.ConsecutiveFailures = 0
		next.LastError = ""
		if next.ConsecutiveSuccesses >= m.thresholds.ConsecutiveSuccesses {
			next.Healthy = true
		}
	}

	if next.Healthy != prev.Healthy {
		if next.Healthy {
			util.Infof("upstream %s recovered (consecutive_successes=%d)", u.Label, next.ConsecutiveSuccesses)
		} else {
			util.Warnf("upstream %s unhealthy (consecutive_failures=%d, last_error=%s)", u.Label, next.ConsecutiveFailures, next.LastError)
		}
	}

	m.state.Set(u.Label, next)
	u.SetHealthy(next.Healthy)

	if m.gauge != nil {
		m.gauge(u.Label, next.Healthy)
	}
	if m.onTransition != nil && next.Healthy != prev.Healthy {
		m.onTransition(u.Label, next.Healthy)
	}
}

// doProbe issues the JSON-RPC probe request: failure is
// a transport error, a timeout, or a non-2xx status. The response body is
// not inspected.
func (m *Monitor) doProbe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, m.probe.Timeout)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  m.probe.Method,
		"params":  []interface{}{},
	})
	if err != nil {
		return fmt.Errorf("encode probe body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

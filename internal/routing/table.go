// Package routing implements the lock-free routing table and weighted
// upstream selection for the RPC gateway.
package routing

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// Upstream is a runtime upstream record: the configured fields plus the
// atomic health flag the monitor publishes and the selector reads
// lock-free.
type Upstream struct {
	Label  string
	URL    string
	WSURL  string
	Weight uint32

	healthy atomic.Bool
}

// NewUpstream builds an Upstream, optimistically healthy on creation.
func NewUpstream(label, url, wsURL string, weight uint32) *Upstream {
	u := &Upstream{Label: label, URL: url, WSURL: wsURL, Weight: weight}
	u.healthy.Store(true)
	return u
}

// Healthy reports the upstream's current health, lock-free.
func (u *Upstream) Healthy() bool { return u.healthy.Load() }

// SetHealthy publishes a new health state. Called only by the health
// monitor.
func (u *Upstream) SetHealthy(v bool) { u.healthy.Store(v) }

// Table is an immutable routing-table snapshot.
// It is never mutated in place; the supervisor replaces it wholesale via
// atomic pointer swap.
type Table struct {
	Upstreams    []*Upstream
	MethodRoutes map[string]string
	ProxyTimeout time.Duration
}

// ByLabel returns the upstream with the given label, or nil.
func (t *Table) ByLabel(label string) *Upstream {
	for _, u := range t.Upstreams {
		if u.Label == label {
			return u
		}
	}
	return nil
}

// SelectHTTP picks a backend for method: a pinned method-route is tried
// first (falling back to weighted selection if the pinned upstream is
// unhealthy), then weighted random selection over the healthy set.
func (t *Table) SelectHTTP(method string) (label, url string, ok bool) {
	if method != "" {
		if pinned, exists := t.MethodRoutes[method]; exists {
			if u := t.ByLabel(pinned); u != nil && u.Healthy() {
				return u.Label, u.URL, true
			}
			// Pinned upstream unhealthy or missing: fall through to
			// weighted selection over the full healthy set.
		}
	}
	healthy, total := healthySet(t.Upstreams, func(*Upstream) bool { return true })
	u := weightedPick(healthy, total)
	if u == nil {
		return "", "", false
	}
	return u.Label, u.URL, true
}

// SelectWS applies the same weighted selection, filtered additionally to
// upstreams with a configured WSURL; method overrides do not apply.
func (t *Table) SelectWS() (label, url string, ok bool) {
	healthy, total := healthySet(t.Upstreams, func(u *Upstream) bool { return u.WSURL != "" })
	u := weightedPick(healthy, total)
	if u == nil {
		return "", "", false
	}
	return u.Label, u.WSURL, true
}

// healthySet builds the set of healthy upstreams matching filter and its
// total weight.
func healthySet(upstreams []*Upstream, filter func(*Upstream) bool) ([]*Upstream, uint64) {
	var healthy []*Upstream
	var total uint64
	for _, u := range upstreams {
		if u.Healthy() && filter(u) {
			healthy = append(healthy, u)
			total += uint64(u.Weight)
		}
	}
	return healthy, total
}

// weightedPick draws uniformly over [0, total) and walks healthy in
// configuration order, returning the first upstream whose cumulative
// weight exceeds the draw.
func weightedPick(healthy []*Upstream, total uint64) *Upstream {
	if len(healthy) == 0 {
		return nil
	}
	if total == 0 {
		return healthy[0]
	}

	r := uint64(rand.Int63n(int64(total)))
	var cumulative uint64
	for _, u := range healthy {
		cumulative += uint64(u.Weight)
		if r < cumulative {
			return u
		}
	}
	return healthy[len(healthy)-1]
}

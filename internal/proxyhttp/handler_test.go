package proxyhttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tos-network/rpc-gateway/internal/credential"
	"github.com/tos-network/rpc-gateway/internal/health"
	"github.com/tos-network/rpc-gateway/internal/metrics"
	"github.com/tos-network/rpc-gateway/internal/routing"
)

type fixedTableSource struct {
	table *routing.Table
}

func (f fixedTableSource) Table() *routing.Table { return f.table }

func TestProxyEndToEndValidRequestSingleBackend(t *testing.T) {
	var receivedBody string
	var receivedQuery string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		receivedQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"jsonrpc":"2.0","result":123,"id":1}`))
	}))
	defer backend.Close()

	u1 := routing.NewUpstream("u1", backend.URL, "", 1)
	table := &routing.Table{Upstreams: []*routing.Upstream{u1}, MethodRoutes: map[string]string{}, ProxyTimeout: 5 * time.Second}

	gate := credential.NewMockGate()
	gate.AddKey("K", credential.KeyInfo{Owner: "alice", RateLimit: 100})

	srv := NewServer("127.0.0.1:0", fixedTableSource{table}, gate, health.NewState(), metrics.New(), nil)

	reqBody := `{"jsonrpc":"2.0","method":"getSlot","params":[],"id":1}`
	req := httptest.NewRequest(http.MethodPost, "/?api-key=K", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if receivedBody != reqBody {
		t.Errorf("backend received body %q, want %q", receivedBody, reqBody)
	}
	if strings.Contains(receivedQuery, "api-key") {
		t.Errorf("backend received query %q, want api-key stripped", receivedQuery)
	}
}

func TestProxyMissingAPIKeyReturns401(t *testing.T) {
	table := &routing.Table{Upstreams: nil, MethodRoutes: map[string]string{}, ProxyTimeout: time.Second}
	gate := credential.NewMockGate()
	srv := NewServer("127.0.0.1:0", fixedTableSource{table}, gate, health.NewState(), metrics.New(), nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProxyRateLimitedReturns429(t *testing.T) {
	table := &routing.Table{Upstreams: nil, MethodRoutes: map[string]string{}, ProxyTimeout: time.Second}
	gate := credential.NewMockGate()
	gate.AddKey("K", credential.KeyInfo{Owner: "alice", RateLimit: 1})
	gate.SetRateLimited("K")
	srv := NewServer("127.0.0.1:0", fixedTableSource{table}, gate, health.NewState(), metrics.New(), nil)

	req := httptest.NewRequest(http.MethodPost, "/?api-key=K", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestProxyNoHealthyBackendReturns503(t *testing.T) {
	u1 := routing.NewUpstream("u1", "http://127.0.0.1:1", "", 1)
	u1.SetHealthy(false)
	table := &routing.Table{Upstreams: []*routing.Upstream{u1}, MethodRoutes: map[string]string{}, ProxyTimeout: time.Second}

	gate := credential.NewMockGate()
	gate.AddKey("K", credential.KeyInfo{Owner: "alice"})
	srv := NewServer("127.0.0.1:0", fixedTableSource{table}, gate, health.NewState(), metrics.New(), nil)

	req := httptest.NewRequest(http.MethodPost, "/?api-key=K", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No healthy backends available") {
		t.Errorf("body = %q, want it to mention no healthy backends", rec.Body.String())
	}
}

func TestProxyMethodOverrideRoutesDeterministically(t *testing.T) {
	backend2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend2.Close()

	u1 := routing.NewUpstream("u1", "http://127.0.0.1:1", "", 1)
	u2 := routing.NewUpstream("u2", backend2.URL, "", 1)
	table := &routing.Table{
		Upstreams:    []*routing.Upstream{u1, u2},
		MethodRoutes: map[string]string{"getBlock": "u2"},
		ProxyTimeout: 5 * time.Second,
	}

	gate := credential.NewMockGate()
	gate.AddKey("K", credential.KeyInfo{Owner: "alice"})
	srv := NewServer("127.0.0.1:0", fixedTableSource{table}, gate, health.NewState(), metrics.New(), nil)

	reqBody := `{"jsonrpc":"2.0","method":"getBlock","params":[],"id":1}`
	req := httptest.NewRequest(http.MethodPost, "/?api-key=K", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (routed to u2)", rec.Code)
	}
}

package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tos-network/rpc-gateway/internal/config"
)

func TestNotifyBackendUnhealthySendsDiscordEmbed(t *testing.T) {
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		json.NewDecoder(r.Body).Decode(&msg)
		received.Store(msg)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.WebhookConfig{Enabled: true, DiscordURL: srv.URL, GatewayName: "gw"}
	n := NewNotifier(cfg)
	n.NotifyBackendUnhealthy("u1", "timeout")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := received.Load(); v != nil {
			msg := v.(DiscordMessage)
			if len(msg.Embeds) != 1 {
				t.Fatalf("embeds = %d, want 1", len(msg.Embeds))
			}
			if msg.Embeds[0].Title != "Backend Unhealthy" {
				t.Errorf("title = %q, want %q", msg.Embeds[0].Title, "Backend Unhealthy")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for discord notification")
}

func TestNotifyDisabledSendsNothing(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.WebhookConfig{Enabled: false, DiscordURL: srv.URL}
	n := NewNotifier(cfg)
	n.NotifyBackendUnhealthy("u1", "timeout")

	time.Sleep(100 * time.Millisecond)
	if called.Load() {
		t.Error("notifier fired while disabled")
	}
}

func TestNotifyBackendRecoveredSendsDiscordEmbed(t *testing.T) {
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		json.NewDecoder(r.Body).Decode(&msg)
		received.Store(msg)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.WebhookConfig{Enabled: true, DiscordURL: srv.URL, GatewayName: "gw"}
	n := NewNotifier(cfg)
	n.NotifyBackendRecovered("u1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := received.Load(); v != nil {
			msg := v.(DiscordMessage)
			if msg.Embeds[0].Title != "Backend Recovered" {
				t.Errorf("title = %q, want %q", msg.Embeds[0].Title, "Backend Recovered")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for discord notification")
}

// Package main is the rpcproxy entrypoint: a JSON-RPC reverse proxy and
// load balancer fronting one or more upstream RPC nodes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tos-network/rpc-gateway/internal/alert"
	"github.com/tos-network/rpc-gateway/internal/apm"
	"github.com/tos-network/rpc-gateway/internal/config"
	"github.com/tos-network/rpc-gateway/internal/credential"
	"github.com/tos-network/rpc-gateway/internal/health"
	"github.com/tos-network/rpc-gateway/internal/metrics"
	"github.com/tos-network/rpc-gateway/internal/proxyhttp"
	"github.com/tos-network/rpc-gateway/internal/supervisor"
	"github.com/tos-network/rpc-gateway/internal/util"
	"github.com/tos-network/rpc-gateway/internal/wsbridge"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "rpcproxy",
	Short: "JSON-RPC reverse proxy and load balancer",
	Long:  "rpcproxy routes JSON-RPC requests across weighted, health-checked upstreams with per-credential rate limiting.",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	util.Infof("rpcproxy v%s starting", version)

	gate, err := credential.NewRedisGate(cfg.RedisURL, "", 0,
		cfg.CredentialCacheTTL(), cfg.Credential.CacheCapacity)
	if err != nil {
		util.Fatalf("Failed to connect to Redis credential store: %v", err)
	}
	defer gate.Close()

	healthState := health.NewState()

	var nrAgent *apm.Agent
	if cfg.NewRelic.Enabled {
		nrAgent = apm.NewAgent(&cfg.NewRelic)
		if err := nrAgent.Start(); err != nil {
			util.Errorf("Failed to start New Relic agent: %v", err)
		}
		defer nrAgent.Stop()
	}

	notifier := alert.NewNotifier(&cfg.Webhook)

	m := metrics.New()

	onTransition := func(label string, healthy bool) {
		if healthy {
			notifier.NotifyBackendRecovered(label)
		} else {
			notifier.NotifyBackendUnhealthy(label, healthState.Get(label).LastError)
		}
		if nrAgent != nil {
			nrAgent.RecordBackendTransition(label, healthy)
		}
	}
	gauge := func(label string, healthy bool) {
		m.SetBackendHealth(label, healthy)
	}

	sup := supervisor.New(cfg, healthState)

	monitor := health.NewMonitor(
		healthState,
		health.Thresholds{
			ConsecutiveFailures:  cfg.HealthCheck.ConsecutiveFailuresThreshold,
			ConsecutiveSuccesses: cfg.HealthCheck.ConsecutiveSuccessesThreshold,
		},
		health.Probe{Method: cfg.HealthCheck.Method, Timeout: cfg.HealthCheckTimeout()},
		cfg.HealthCheckInterval(),
		onTransition,
		gauge,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx, sup.Upstreams)

	httpServer := proxyhttp.NewServer(fmt.Sprintf(":%d", cfg.Port), sup, gate, healthState, m, nrAgent)
	if err := httpServer.Start(); err != nil {
		util.Fatalf("Failed to start HTTP proxy: %v", err)
	}
	defer httpServer.Stop()

	wsServer := wsbridge.NewServer(fmt.Sprintf(":%d", cfg.WSPort()), sup, gate)
	if err := wsServer.Start(); err != nil {
		util.Fatalf("Failed to start WebSocket bridge: %v", err)
	}
	defer wsServer.Stop()

	metricsServer := metrics.NewServer(fmt.Sprintf(":%d", cfg.MetricsPort), m)
	if err := metricsServer.Start(); err != nil {
		util.Fatalf("Failed to start metrics server: %v", err)
	}
	defer metricsServer.Stop()

	sup.WatchReload(configPath, func(sig os.Signal) {
		util.Infof("received signal %v, shutting down", sig)
	})

	return nil
}

func main() {
	Execute()
}

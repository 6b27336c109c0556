// Package config handles configuration loading and validation for the RPC gateway.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway.
type Config struct {
	Port         int               `mapstructure:"port" toml:"port"`
	MetricsPort  int               `mapstructure:"metrics_port" toml:"metrics_port"`
	RedisURL     string            `mapstructure:"redis_url" toml:"redis_url"`
	Backends     []BackendConfig   `mapstructure:"backends" toml:"backends"`
	MethodRoutes map[string]string `mapstructure:"method_routes" toml:"method_routes"`
	Proxy        ProxyConfig       `mapstructure:"proxy" toml:"proxy"`
	HealthCheck  HealthCheckConfig `mapstructure:"health_check" toml:"health_check"`
	Credential   CredentialConfig  `mapstructure:"credential" toml:"credential"`
	NewRelic     NewRelicConfig    `mapstructure:"newrelic" toml:"newrelic"`
	Webhook      WebhookConfig     `mapstructure:"webhook" toml:"webhook"`
	Log          LogConfig         `mapstructure:"log" toml:"log"`
}

// BackendConfig is one configured upstream.
type BackendConfig struct {
	Label  string `mapstructure:"label" toml:"label"`
	URL    string `mapstructure:"url" toml:"url"`
	WSURL  string `mapstructure:"ws_url" toml:"ws_url"`
	Weight uint32 `mapstructure:"weight" toml:"weight"`
}

// ProxyConfig tunes the forwarding path.
type ProxyConfig struct {
	TimeoutSecs int `mapstructure:"timeout_secs" toml:"timeout_secs"`
}

// HealthCheckConfig tunes the health monitor.
type HealthCheckConfig struct {
	IntervalSecs                  int    `mapstructure:"interval_secs" toml:"interval_secs"`
	TimeoutSecs                   int    `mapstructure:"timeout_secs" toml:"timeout_secs"`
	Method                        string `mapstructure:"method" toml:"method"`
	ConsecutiveFailuresThreshold  int    `mapstructure:"consecutive_failures_threshold" toml:"consecutive_failures_threshold"`
	ConsecutiveSuccessesThreshold int    `mapstructure:"consecutive_successes_threshold" toml:"consecutive_successes_threshold"`
}

// CredentialConfig tunes the credential gate's in-process cache.
type CredentialConfig struct {
	CacheTTLSecs  int `mapstructure:"cache_ttl_secs" toml:"cache_ttl_secs"`
	CacheCapacity int `mapstructure:"cache_capacity" toml:"cache_capacity"`
}

// NewRelicConfig configures the optional APM wrapper.
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled" toml:"enabled"`
	AppName    string `mapstructure:"app_name" toml:"app_name"`
	LicenseKey string `mapstructure:"license_key" toml:"license_key"`
}

// WebhookConfig configures health-transition alerting.
type WebhookConfig struct {
	Enabled      bool   `mapstructure:"enabled" toml:"enabled"`
	DiscordURL   string `mapstructure:"discord_url" toml:"discord_url"`
	TelegramURL  string `mapstructure:"telegram_url" toml:"telegram_url"`
	TelegramBot  string `mapstructure:"telegram_bot" toml:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat" toml:"telegram_chat"`
	GatewayName  string `mapstructure:"gateway_name" toml:"gateway_name"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
	File   string `mapstructure:"file" toml:"file"`
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/rpc-gateway")
	}

	v.SetEnvPrefix("RPC_GATEWAY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// viper lower-cases map keys; JSON-RPC method names are case-sensitive,
	// so method_routes is re-read from the TOML file with its keys as written.
	if used := v.ConfigFileUsed(); used != "" {
		var raw struct {
			MethodRoutes map[string]string `toml:"method_routes"`
		}
		if _, err := toml.DecodeFile(used, &raw); err == nil && raw.MethodRoutes != nil {
			cfg.MethodRoutes = raw.MethodRoutes
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("redis_url", "127.0.0.1:6379")

	v.SetDefault("proxy.timeout_secs", 10)

	v.SetDefault("health_check.interval_secs", 10)
	v.SetDefault("health_check.timeout_secs", 5)
	v.SetDefault("health_check.method", "getHealth")
	v.SetDefault("health_check.consecutive_failures_threshold", 3)
	v.SetDefault("health_check.consecutive_successes_threshold", 2)

	v.SetDefault("credential.cache_ttl_secs", 60)
	v.SetDefault("credential.cache_capacity", 10000)

	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "rpc-gateway")

	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.gateway_name", "rpc-gateway")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Label == "" {
			return fmt.Errorf("backend label must not be empty")
		}
		if seen[b.Label] {
			return fmt.Errorf("duplicate backend label %q", b.Label)
		}
		seen[b.Label] = true
		if b.URL == "" {
			return fmt.Errorf("backend %q: url is required", b.Label)
		}
		if b.Weight == 0 {
			return fmt.Errorf("backend %q: weight must be >= 1", b.Label)
		}
	}

	for method, label := range c.MethodRoutes {
		if !seen[label] {
			return fmt.Errorf("method_routes[%q] refers to unknown backend label %q", method, label)
		}
	}

	if c.Proxy.TimeoutSecs <= 0 {
		return fmt.Errorf("proxy.timeout_secs must be > 0")
	}

	if c.HealthCheck.ConsecutiveFailuresThreshold < 1 {
		return fmt.Errorf("health_check.consecutive_failures_threshold must be >= 1")
	}
	if c.HealthCheck.ConsecutiveSuccessesThreshold < 1 {
		return fmt.Errorf("health_check.consecutive_successes_threshold must be >= 1")
	}

	return nil
}

// WSPort is the WebSocket listener's port: the HTTP port plus one.
func (c *Config) WSPort() int {
	return c.Port + 1
}

// HealthCheckInterval returns the configured probe interval as a duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheck.IntervalSecs) * time.Second
}

// HealthCheckTimeout returns the configured probe timeout as a duration.
func (c *Config) HealthCheckTimeout() time.Duration {
	return time.Duration(c.HealthCheck.TimeoutSecs) * time.Second
}

// ProxyTimeout returns the configured forward deadline as a duration.
func (c *Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.TimeoutSecs) * time.Second
}

// CredentialCacheTTL returns the configured credential-cache TTL as a
// duration.
func (c *Config) CredentialCacheTTL() time.Duration {
	return time.Duration(c.Credential.CacheTTLSecs) * time.Second
}

// BackendLabels returns backend labels in configured order.
func (c *Config) BackendLabels() []string {
	labels := make([]string, len(c.Backends))
	for i, b := range c.Backends {
		labels[i] = b.Label
	}
	return labels
}

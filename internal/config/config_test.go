package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		RedisURL: "127.0.0.1:6379",
		Backends: []BackendConfig{
			{Label: "u1", URL: "http://127.0.0.1:8545", Weight: 1},
			{Label: "u2", URL: "http://127.0.0.1:8546", Weight: 2},
		},
		MethodRoutes: map[string]string{"getBlock": "u2"},
		Proxy:        ProxyConfig{TimeoutSecs: 10},
		HealthCheck: HealthCheckConfig{
			IntervalSecs:                  10,
			TimeoutSecs:                   5,
			Method:                        "getHealth",
			ConsecutiveFailuresThreshold:  3,
			ConsecutiveSuccessesThreshold: 2,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{
			name:    "missing redis url",
			mutate:  func(c *Config) { c.RedisURL = "" },
			wantErr: true,
			errMsg:  "redis_url is required",
		},
		{
			name:    "no backends",
			mutate:  func(c *Config) { c.Backends = nil },
			wantErr: true,
			errMsg:  "at least one backend is required",
		},
		{
			name: "empty label",
			mutate: func(c *Config) {
				c.Backends = []BackendConfig{{Label: "", URL: "http://x", Weight: 1}}
			},
			wantErr: true,
			errMsg:  "backend label must not be empty",
		},
		{
			name: "duplicate label",
			mutate: func(c *Config) {
				c.Backends = []BackendConfig{
					{Label: "u1", URL: "http://a", Weight: 1},
					{Label: "u1", URL: "http://b", Weight: 1},
				}
			},
			wantErr: true,
			errMsg:  `duplicate backend label "u1"`,
		},
		{
			name: "weight zero rejected",
			mutate: func(c *Config) {
				c.Backends = []BackendConfig{{Label: "u1", URL: "http://a", Weight: 0}}
			},
			wantErr: true,
			errMsg:  `backend "u1": weight must be >= 1`,
		},
		{
			name: "method_routes unknown label",
			mutate: func(c *Config) {
				c.MethodRoutes = map[string]string{"getBlock": "nope"}
			},
			wantErr: true,
			errMsg:  `method_routes["getBlock"] refers to unknown backend label "nope"`,
		},
		{
			name:    "proxy timeout must be positive",
			mutate:  func(c *Config) { c.Proxy.TimeoutSecs = 0 },
			wantErr: true,
			errMsg:  "proxy.timeout_secs must be > 0",
		},
		{
			name:    "failure threshold must be >= 1",
			mutate:  func(c *Config) { c.HealthCheck.ConsecutiveFailuresThreshold = 0 },
			wantErr: true,
			errMsg:  "health_check.consecutive_failures_threshold must be >= 1",
		},
		{
			name:    "success threshold must be >= 1",
			mutate:  func(c *Config) { c.HealthCheck.ConsecutiveSuccessesThreshold = 0 },
			wantErr: true,
			errMsg:  "health_check.consecutive_successes_threshold must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got nil")
				}
				if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("error = %q, want %q", err.Error(), tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWSPort(t *testing.T) {
	cfg := Config{Port: 8080}
	if got := cfg.WSPort(); got != 8081 {
		t.Errorf("WSPort() = %d, want 8081", got)
	}
}

func TestBackendLabels(t *testing.T) {
	cfg := validConfig()
	got := cfg.BackendLabels()
	want := []string{"u1", "u2"}
	if len(got) != len(want) {
		t.Fatalf("BackendLabels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BackendLabels()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadWithTempConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
port = 8080
metrics_port = 9090
redis_url = "127.0.0.1:6379"

[[backends]]
label = "u1"
url = "http://127.0.0.1:8545"
weight = 1

[[backends]]
label = "u2"
url = "http://127.0.0.1:8546"
weight = 2

[method_routes]
getBlock = "u2"

[proxy]
timeout_secs = 10

[health_check]
interval_secs = 10
timeout_secs = 5
method = "getHealth"
consecutive_failures_threshold = 3
consecutive_successes_threshold = 2
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("len(Backends) = %d, want 2", len(cfg.Backends))
	}
	if cfg.MethodRoutes["getBlock"] != "u2" {
		t.Errorf("MethodRoutes[getBlock] = %q, want u2", cfg.MethodRoutes["getBlock"])
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	// No backends (redis_url falls back to its default).
	configContent := `
port = 8080
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for invalid config")
	}
}

func TestLoadNonexistentConfig(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("Load() should return error for non-existent config")
	}
}

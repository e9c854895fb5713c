package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lfed/federate/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.RTI.Host != "127.0.0.1" {
		t.Errorf("RTI.Host = %q, want %q", cfg.RTI.Host, "127.0.0.1")
	}

	if cfg.Timing.StartingPort != 15045 {
		t.Errorf("Timing.StartingPort = %d, want 15045", cfg.Timing.StartingPort)
	}

	if cfg.Timing.ConnectNumRetries != 10 {
		t.Errorf("Timing.ConnectNumRetries = %d, want 10", cfg.Timing.ConnectNumRetries)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Admin.Addr != ":9101" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9101")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	// DefaultConfig's federation_id is empty, so it intentionally does
	// not pass Validate on its own — a federate must be given an
	// identity. Confirm the specific error.
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptyFederationID) {
		t.Errorf("Validate(DefaultConfig()) = %v, want ErrEmptyFederationID", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
rti:
  host: "rti.example.net"
  port: 15050
federate:
  fed_id: 3
  federation_id: "federation-x"
topology:
  has_upstream: true
  has_downstream: true
  num_inbound_physical: 2
  outbound_peers: [1, 2]
timing:
  connect_num_retries: 5
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.RTI.Host != "rti.example.net" {
		t.Errorf("RTI.Host = %q, want %q", cfg.RTI.Host, "rti.example.net")
	}
	if cfg.RTI.Port != 15050 {
		t.Errorf("RTI.Port = %d, want 15050", cfg.RTI.Port)
	}
	if cfg.Federate.FedID != 3 {
		t.Errorf("Federate.FedID = %d, want 3", cfg.Federate.FedID)
	}
	if cfg.Federate.FederationID != "federation-x" {
		t.Errorf("Federate.FederationID = %q, want %q", cfg.Federate.FederationID, "federation-x")
	}
	if !cfg.Topology.HasUpstream || !cfg.Topology.HasDownstream {
		t.Errorf("Topology = %+v, want both has_upstream/has_downstream true", cfg.Topology)
	}
	if cfg.Topology.NumInboundPhysical != 2 {
		t.Errorf("Topology.NumInboundPhysical = %d, want 2", cfg.Topology.NumInboundPhysical)
	}
	if len(cfg.Topology.OutboundPeers) != 2 || cfg.Topology.OutboundPeers[0] != 1 || cfg.Topology.OutboundPeers[1] != 2 {
		t.Errorf("Topology.OutboundPeers = %v, want [1 2]", cfg.Topology.OutboundPeers)
	}
	if cfg.Timing.ConnectNumRetries != 5 {
		t.Errorf("Timing.ConnectNumRetries = %d, want 5", cfg.Timing.ConnectNumRetries)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override federate identity and log level.
	// Everything else should inherit from DefaultConfig.
	yamlContent := `
federate:
  fed_id: 1
  federation_id: "federation-x"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.RTI.Host != "127.0.0.1" {
		t.Errorf("RTI.Host = %q, want default %q", cfg.RTI.Host, "127.0.0.1")
	}
	if cfg.Timing.StartingPort != 15045 {
		t.Errorf("Timing.StartingPort = %d, want default 15045", cfg.Timing.StartingPort)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.Federate.FedID = 1
		cfg.Federate.FederationID = "federation-x"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty federation id",
			modify: func(cfg *config.Config) {
				cfg.Federate.FederationID = ""
			},
			wantErr: config.ErrEmptyFederationID,
		},
		{
			name: "zero connect retries",
			modify: func(cfg *config.Config) {
				cfg.Timing.ConnectNumRetries = 0
			},
			wantErr: config.ErrInvalidConnectRetries,
		},
		{
			name: "negative connect retries",
			modify: func(cfg *config.Config) {
				cfg.Timing.ConnectNumRetries = -1
			},
			wantErr: config.ErrInvalidConnectRetries,
		},
		{
			name: "negative inbound count",
			modify: func(cfg *config.Config) {
				cfg.Topology.NumInboundPhysical = -1
			},
			wantErr: config.ErrNegativeInboundCount,
		},
		{
			name: "outbound peer is self",
			modify: func(cfg *config.Config) {
				cfg.Topology.OutboundPeers = []uint16{1}
			},
			wantErr: config.ErrInvalidOutboundPeer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
federate:
  fed_id: 1
  federation_id: "federation-x"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("FEDERATE_RTI_HOST", "override.example.net")
	t.Setenv("FEDERATE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.RTI.Host != "override.example.net" {
		t.Errorf("RTI.Host = %q, want %q (from env)", cfg.RTI.Host, "override.example.net")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
federate:
  fed_id: 1
  federation_id: "federation-x"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("FEDERATE_METRICS_ADDR", ":9200")
	t.Setenv("FEDERATE_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "federate.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}

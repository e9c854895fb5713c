// Package config loads federate runtime configuration using koanf/v2.
//
// Supports YAML files, environment variables, and compiled-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete federate runtime configuration.
type Config struct {
	RTI      RTIConfig      `koanf:"rti"`
	Federate FederateConfig `koanf:"federate"`
	Topology TopologyConfig `koanf:"topology"`
	Timing   TimingConfig   `koanf:"timing"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Admin    AdminConfig    `koanf:"admin"`
}

// RTIConfig addresses the Run-Time Infrastructure this federate connects to.
type RTIConfig struct {
	// Host is the RTI's hostname or IP address.
	Host string `koanf:"host"`
	// Port is the RTI's listening port, or 0 to scan the configured port range.
	Port uint16 `koanf:"port"`
}

// FederateConfig identifies this federate.
type FederateConfig struct {
	// FedID is this federate's numeric identity.
	FedID uint16 `koanf:"fed_id"`
	// FederationID is the federation this federate belongs to.
	FederationID string `koanf:"federation_id"`
}

// TopologyConfig describes this federate's place in the federation graph.
type TopologyConfig struct {
	// HasUpstream is true if an upstream federate may grant this
	// federate a TAG.
	HasUpstream bool `koanf:"has_upstream"`
	// HasDownstream is true if this federate must emit
	// LOGICAL_TIME_COMPLETE to a downstream federate.
	HasDownstream bool `koanf:"has_downstream"`
	// NumInboundPhysical is the number of inbound P2P peers this
	// federate's P2P server should accept before its accept loop exits.
	NumInboundPhysical int `koanf:"num_inbound_physical"`
	// OutboundPeers lists the fed_ids this federate dials outbound P2P
	// links to.
	OutboundPeers []uint16 `koanf:"outbound_peers"`
}

// TimingConfig holds the retry/scan/duration constants of the runtime.
type TimingConfig struct {
	StartingPort              uint16        `koanf:"starting_port"`
	PortRangeLimit            uint16        `koanf:"port_range_limit"`
	ConnectNumRetries         int           `koanf:"connect_num_retries"`
	ConnectRetryInterval      time.Duration `koanf:"connect_retry_interval"`
	AddressQueryRetryInterval time.Duration `koanf:"address_query_retry_interval"`
	// RunDuration, if positive, sets stop_time = start_time + RunDuration.
	// Zero or negative means no configured stop time.
	RunDuration time.Duration `koanf:"run_duration"`
	// FastMode skips wait_until(start_time) — useful for tests and
	// offline replay where physical time should not gate the run.
	FastMode bool `koanf:"fast_mode"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// AdminConfig holds the read-only admin HTTP surface configuration.
type AdminConfig struct {
	// Addr is the HTTP listen address for /status and /healthz.
	Addr string `koanf:"addr"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the compiled-in defaults
// mirrored by internal/rti.DefaultRetryPolicy.
func DefaultConfig() *Config {
	return &Config{
		RTI: RTIConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Timing: TimingConfig{
			StartingPort:              15045,
			PortRangeLimit:            1024,
			ConnectNumRetries:         10,
			ConnectRetryInterval:      2 * time.Second,
			AddressQueryRetryInterval: 10 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Admin: AdminConfig{
			Addr: ":9101",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for federate configuration.
// Variables are named FEDERATE_<section>_<key>, e.g. FEDERATE_RTI_HOST.
// envKeyMapper turns every underscore into a key separator, so keys whose
// own name contains an underscore (e.g. federate.fed_id) cannot be set
// from the environment.
const envPrefix = "FEDERATE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (FEDERATE_ prefix), and merges on top of
// DefaultConfig. Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms FEDERATE_RTI_HOST -> rti.host. Strips the
// FEDERATE_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"rti.host":                             defaults.RTI.Host,
		"rti.port":                             defaults.RTI.Port,
		"timing.starting_port":                 defaults.Timing.StartingPort,
		"timing.port_range_limit":              defaults.Timing.PortRangeLimit,
		"timing.connect_num_retries":           defaults.Timing.ConnectNumRetries,
		"timing.connect_retry_interval":        defaults.Timing.ConnectRetryInterval.String(),
		"timing.address_query_retry_interval":  defaults.Timing.AddressQueryRetryInterval.String(),
		"log.level":                            defaults.Log.Level,
		"log.format":                           defaults.Log.Format,
		"metrics.addr":                         defaults.Metrics.Addr,
		"metrics.path":                         defaults.Metrics.Path,
		"admin.addr":                           defaults.Admin.Addr,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyFederationID indicates the federation id is empty.
	ErrEmptyFederationID = errors.New("federate.federation_id must not be empty")

	// ErrInvalidConnectRetries indicates connect_num_retries is non-positive.
	ErrInvalidConnectRetries = errors.New("timing.connect_num_retries must be > 0")

	// ErrInvalidOutboundPeer indicates an outbound peer lists this
	// federate's own fed_id.
	ErrInvalidOutboundPeer = errors.New("topology.outbound_peers must not include this federate's own fed_id")

	// ErrNegativeInboundCount indicates num_inbound_physical is negative.
	ErrNegativeInboundCount = errors.New("topology.num_inbound_physical must be >= 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Federate.FederationID == "" {
		return ErrEmptyFederationID
	}

	if cfg.Timing.ConnectNumRetries <= 0 {
		return ErrInvalidConnectRetries
	}

	if cfg.Topology.NumInboundPhysical < 0 {
		return ErrNegativeInboundCount
	}

	for _, fed := range cfg.Topology.OutboundPeers {
		if fed == cfg.Federate.FedID {
			return ErrInvalidOutboundPeer
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

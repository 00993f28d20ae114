// Package config manages gospad daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
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

// Config holds the complete gospad configuration.
type Config struct {
	Network  NetworkConfig  `koanf:"network"`
	Replay   ReplayConfig   `koanf:"replay"`
	Digest   DigestConfig   `koanf:"digest"`
	Access   AccessConfig   `koanf:"access"`
	Firewall FirewallConfig `koanf:"firewall"`
	Command  CommandConfig  `koanf:"command"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Admin    AdminConfig    `koanf:"admin"`
}

// NetworkConfig holds the UDP collector configuration.
type NetworkConfig struct {
	// Addr is the local address to bind the SPA collector to.
	Addr string `koanf:"addr"`
	// Port is the UDP port the collector listens on.
	Port uint16 `koanf:"port"`

	// EnableSPAOverHTTP allows the HTTP GET wrapper (§4.1 step 4).
	EnableSPAOverHTTP bool `koanf:"enable_spa_over_http"`
	// DisableSDPMode disables identifier (SDP) mode; IP-scan resolution is
	// used instead.
	DisableSDPMode bool `koanf:"disable_sdp_mode"`
}

// ReplayConfig holds the replay-store configuration (§4.2).
type ReplayConfig struct {
	// EnableDigestPersistence controls whether the replay store is
	// backed by disk or disabled entirely (spa.NullStore).
	EnableDigestPersistence bool `koanf:"enable_digest_persistence"`
	// StorePath is the bbolt database path.
	StorePath string `koanf:"store_path"`
}

// DigestConfig selects the replay digest algorithm.
type DigestConfig struct {
	// Algorithm names the digest function; "sha256" is the only
	// implemented value.
	Algorithm string `koanf:"algorithm"`
}

// AccessConfig holds policy-resolution toggles (§4.3, §4.6).
type AccessConfig struct {
	// PolicyFile is the path to the human-readable access-stanza file.
	PolicyFile string `koanf:"policy_file"`

	// AllowLegacyAccessRequests permits LEGACY_ACCESS message types.
	AllowLegacyAccessRequests bool `koanf:"allow_legacy_access_requests"`

	// EnableSPAPacketAging turns on the freshness check (§4.6 step 7).
	EnableSPAPacketAging bool `koanf:"enable_spa_packet_aging"`
	// MaxSPAPacketAge bounds the accepted clock skew when aging is
	// enabled.
	MaxSPAPacketAge time.Duration `koanf:"max_spa_packet_age"`

	// EnableNAT / EnableLocalNAT gate NAT-class message types (§4.6
	// step 10).
	EnableNAT      bool `koanf:"enable_nat"`
	EnableLocalNAT bool `koanf:"enable_local_nat"`

	// CheckPortAccess / CheckServiceAccess gate §4.6 step 11.
	CheckPortAccess    bool `koanf:"check_port_access"`
	CheckServiceAccess bool `koanf:"check_service_access"`

	// TestMode makes the action dispatcher a no-op that keeps
	// searching, for multi-stanza coverage testing (§4.7 action 4).
	TestMode bool `koanf:"test_mode"`
}

// FirewallConfig selects and configures the firewall back end (§6).
type FirewallConfig struct {
	// Backend is "nftables" or "ovsdb".
	Backend string `koanf:"backend"`

	// RulesCheckThreshold is loaded from configuration but not consulted:
	// the daemon runs expiry sweeps on a fixed 10-second timer.
	RulesCheckThreshold int `koanf:"rules_check_threshold"`

	NFTables NFTablesConfig `koanf:"nftables"`
	OVSDB    OVSDBConfig    `koanf:"ovsdb"`
}

// NFTablesConfig configures the nftables-script backend.
type NFTablesConfig struct {
	TableName string `koanf:"table_name"`
}

// OVSDBConfig configures the OVN ACL backend.
type OVSDBConfig struct {
	Endpoint    string `koanf:"endpoint"`
	LogicalPort string `koanf:"logical_port"`
}

// CommandConfig holds command-cycle execution settings (§4.7, §5, §6).
type CommandConfig struct {
	// SudoExe is loaded from configuration but not consulted: when a
	// stanza configures sudo execution, command messages are wrapped
	// with the plain command name "sudo", not with this path.
	SudoExe string `koanf:"sudo_exe"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// AdminConfig holds the read-only admin HTTP API configuration.
type AdminConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// BindAddr parses NetworkConfig.Addr as a netip.Addr, defaulting to
// the unspecified address when empty.
func (nc NetworkConfig) BindAddr() (netip.Addr, error) {
	if nc.Addr == "" {
		return netip.IPv4Unspecified(), nil
	}
	addr, err := netip.ParseAddr(nc.Addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse network addr %q: %w", nc.Addr, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Addr: "",
			Port: 62201,
		},
		Replay: ReplayConfig{
			EnableDigestPersistence: true,
			StorePath:               "/var/lib/gospad/digest.db",
		},
		Digest: DigestConfig{
			Algorithm: "sha256",
		},
		Access: AccessConfig{
			PolicyFile:           "/etc/gospad/access.conf",
			EnableSPAPacketAging: true,
			MaxSPAPacketAge:      120 * time.Second,
			CheckPortAccess:      true,
			CheckServiceAccess:   true,
		},
		Firewall: FirewallConfig{
			Backend:             "nftables",
			RulesCheckThreshold: 10,
			NFTables:            NFTablesConfig{TableName: "gospad"},
		},
		Command: CommandConfig{
			SudoExe: "/usr/bin/sudo",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Admin: AdminConfig{
			Addr: ":9101",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gospad
// configuration. Variables are named GOSPAD_<section>_<key>, e.g.,
// GOSPAD_NETWORK_PORT.
const envPrefix = "GOSPAD_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (GOSPAD_ prefix), and merges on top
// of DefaultConfig(). Missing fields inherit defaults.
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

// envKeyMapper transforms GOSPAD_NETWORK_PORT -> network.port: strips
// the GOSPAD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base
// layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"network.addr":                   defaults.Network.Addr,
		"network.port":                   defaults.Network.Port,
		"network.enable_spa_over_http":   defaults.Network.EnableSPAOverHTTP,
		"network.disable_sdp_mode":       defaults.Network.DisableSDPMode,
		"replay.enable_digest_persistence": defaults.Replay.EnableDigestPersistence,
		"replay.store_path":              defaults.Replay.StorePath,
		"digest.algorithm":               defaults.Digest.Algorithm,
		"access.policy_file":             defaults.Access.PolicyFile,
		"access.allow_legacy_access_requests": defaults.Access.AllowLegacyAccessRequests,
		"access.enable_spa_packet_aging": defaults.Access.EnableSPAPacketAging,
		"access.max_spa_packet_age":      defaults.Access.MaxSPAPacketAge.String(),
		"access.enable_nat":              defaults.Access.EnableNAT,
		"access.enable_local_nat":        defaults.Access.EnableLocalNAT,
		"access.check_port_access":       defaults.Access.CheckPortAccess,
		"access.check_service_access":    defaults.Access.CheckServiceAccess,
		"access.test_mode":               defaults.Access.TestMode,
		"firewall.backend":               defaults.Firewall.Backend,
		"firewall.rules_check_threshold": defaults.Firewall.RulesCheckThreshold,
		"firewall.nftables.table_name":   defaults.Firewall.NFTables.TableName,
		"command.sudo_exe":               defaults.Command.SudoExe,
		"metrics.addr":                   defaults.Metrics.Addr,
		"metrics.path":                   defaults.Metrics.Path,
		"admin.addr":                     defaults.Admin.Addr,
		"log.level":                      defaults.Log.Level,
		"log.format":                     defaults.Log.Format,
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

var (
	ErrInvalidPort          = errors.New("network.port must be nonzero")
	ErrEmptyPolicyFile      = errors.New("access.policy_file must not be empty")
	ErrInvalidDigestAlgo    = errors.New("digest.algorithm must be sha256")
	ErrInvalidFirewallKind  = errors.New("firewall.backend must be nftables or ovsdb")
	ErrInvalidMaxPacketAge  = errors.New("access.max_spa_packet_age must be > 0 when aging is enabled")
	ErrEmptyReplayStorePath = errors.New("replay.store_path must not be empty when persistence is enabled")
)

// validFirewallBackends lists the recognized firewall.backend values.
var validFirewallBackends = map[string]bool{
	"nftables": true,
	"ovsdb":    true,
}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Network.Port == 0 {
		return ErrInvalidPort
	}
	if cfg.Access.PolicyFile == "" {
		return ErrEmptyPolicyFile
	}
	if cfg.Digest.Algorithm != "sha256" {
		return ErrInvalidDigestAlgo
	}
	if !validFirewallBackends[cfg.Firewall.Backend] {
		return ErrInvalidFirewallKind
	}
	if cfg.Access.EnableSPAPacketAging && cfg.Access.MaxSPAPacketAge <= 0 {
		return ErrInvalidMaxPacketAge
	}
	if cfg.Replay.EnableDigestPersistence && cfg.Replay.StorePath == "" {
		return ErrEmptyReplayStorePath
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
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

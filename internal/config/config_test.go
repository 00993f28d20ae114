package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"github.com/spad-project/gospad/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Network.Port != 62201 {
		t.Errorf("Network.Port = %d, want 62201", cfg.Network.Port)
	}
	if cfg.Digest.Algorithm != "sha256" {
		t.Errorf("Digest.Algorithm = %q, want sha256", cfg.Digest.Algorithm)
	}
	if cfg.Firewall.Backend != "nftables" {
		t.Errorf("Firewall.Backend = %q, want nftables", cfg.Firewall.Backend)
	}
	if cfg.Access.MaxSPAPacketAge != 120*time.Second {
		t.Errorf("Access.MaxSPAPacketAge = %v, want 120s", cfg.Access.MaxSPAPacketAge)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
network:
  addr: "10.0.0.1"
  port: 62202
digest:
  algorithm: "sha256"
access:
  policy_file: "/etc/gospad/custom.conf"
firewall:
  backend: "ovsdb"
log:
  level: "debug"
  format: "text"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Network.Addr != "10.0.0.1" {
		t.Errorf("Network.Addr = %q, want 10.0.0.1", cfg.Network.Addr)
	}
	if cfg.Network.Port != 62202 {
		t.Errorf("Network.Port = %d, want 62202", cfg.Network.Port)
	}
	if cfg.Access.PolicyFile != "/etc/gospad/custom.conf" {
		t.Errorf("Access.PolicyFile = %q, want /etc/gospad/custom.conf", cfg.Access.PolicyFile)
	}
	if cfg.Firewall.Backend != "ovsdb" {
		t.Errorf("Firewall.Backend = %q, want ovsdb", cfg.Firewall.Backend)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
network:
  port: 55555
log:
  level: "warn"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Network.Port != 55555 {
		t.Errorf("Network.Port = %d, want 55555", cfg.Network.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}

	// Defaults preserved for everything untouched.
	if cfg.Access.PolicyFile != "/etc/gospad/access.conf" {
		t.Errorf("Access.PolicyFile = %q, want default", cfg.Access.PolicyFile)
	}
	if cfg.Firewall.Backend != "nftables" {
		t.Errorf("Firewall.Backend = %q, want default nftables", cfg.Firewall.Backend)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default json", cfg.Log.Format)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "zero port",
			modify:  func(cfg *config.Config) { cfg.Network.Port = 0 },
			wantErr: config.ErrInvalidPort,
		},
		{
			name:    "empty policy file",
			modify:  func(cfg *config.Config) { cfg.Access.PolicyFile = "" },
			wantErr: config.ErrEmptyPolicyFile,
		},
		{
			name:    "bad digest algorithm",
			modify:  func(cfg *config.Config) { cfg.Digest.Algorithm = "md5" },
			wantErr: config.ErrInvalidDigestAlgo,
		},
		{
			name:    "bad firewall backend",
			modify:  func(cfg *config.Config) { cfg.Firewall.Backend = "iptables" },
			wantErr: config.ErrInvalidFirewallKind,
		},
		{
			name: "aging enabled with zero max age",
			modify: func(cfg *config.Config) {
				cfg.Access.EnableSPAPacketAging = true
				cfg.Access.MaxSPAPacketAge = 0
			},
			wantErr: config.ErrInvalidMaxPacketAge,
		},
		{
			name: "persistence enabled with empty store path",
			modify: func(cfg *config.Config) {
				cfg.Replay.EnableDigestPersistence = true
				cfg.Replay.StorePath = ""
			},
			wantErr: config.ErrEmptyReplayStorePath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
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
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
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
	// Cannot run in parallel: mutates process-wide environment state.
	yamlContent := `
network:
  port: 62201
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("GOSPAD_NETWORK_PORT", "60000")
	t.Setenv("GOSPAD_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Network.Port != 60000 {
		t.Errorf("Network.Port = %d, want 60000 (from env)", cfg.Network.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (from env)", cfg.Log.Level)
	}
}

func TestBindAddrDefaultsUnspecified(t *testing.T) {
	t.Parallel()

	nc := config.NetworkConfig{}
	addr, err := nc.BindAddr()
	if err != nil {
		t.Fatalf("BindAddr() error: %v", err)
	}
	if !addr.IsUnspecified() {
		t.Errorf("BindAddr() = %s, want unspecified", addr)
	}
}

func TestBindAddrParsesExplicitAddr(t *testing.T) {
	t.Parallel()

	nc := config.NetworkConfig{Addr: "192.0.2.1"}
	addr, err := nc.BindAddr()
	if err != nil {
		t.Fatalf("BindAddr() error: %v", err)
	}
	if addr.String() != "192.0.2.1" {
		t.Errorf("BindAddr() = %s, want 192.0.2.1", addr)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "gospad.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}

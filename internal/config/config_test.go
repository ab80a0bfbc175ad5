package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":50051" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":50051")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Reticulum.GroupID != "reticulum-mesh" {
		t.Errorf("Reticulum.GroupID = %q, want %q", cfg.Reticulum.GroupID, "reticulum-mesh")
	}

	if cfg.Reticulum.DiscoveryPort != 4242 {
		t.Errorf("Reticulum.DiscoveryPort = %d, want %d", cfg.Reticulum.DiscoveryPort, 4242)
	}

	if cfg.Reticulum.DataPort != 4243 {
		t.Errorf("Reticulum.DataPort = %d, want %d", cfg.Reticulum.DataPort, 4243)
	}

	if cfg.Reticulum.AnnounceInterval != 15*time.Second {
		t.Errorf("Reticulum.AnnounceInterval = %v, want %v", cfg.Reticulum.AnnounceInterval, 15*time.Second)
	}

	if cfg.Reticulum.PeerTimeout != 90*time.Second {
		t.Errorf("Reticulum.PeerTimeout = %v, want %v", cfg.Reticulum.PeerTimeout, 90*time.Second)
	}

	if cfg.Reticulum.MaxConversations != 32 {
		t.Errorf("Reticulum.MaxConversations = %d, want %d", cfg.Reticulum.MaxConversations, 32)
	}

	if cfg.Reticulum.MaxMessagesPerConversation != 64 {
		t.Errorf("Reticulum.MaxMessagesPerConversation = %d, want %d", cfg.Reticulum.MaxMessagesPerConversation, 64)
	}

	if cfg.Storage.BasePath == "" {
		t.Error("Storage.BasePath must not be empty by default")
	}

	if cfg.RouteExport.Enabled {
		t.Error("RouteExport.Enabled should default to false")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
reticulum:
  group_id: "lab-mesh"
  discovery_port: 5000
  data_port: 5001
  announce_interval: "5s"
  peer_timeout: "30s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":60000" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Reticulum.GroupID != "lab-mesh" {
		t.Errorf("Reticulum.GroupID = %q, want %q", cfg.Reticulum.GroupID, "lab-mesh")
	}

	if cfg.Reticulum.DiscoveryPort != 5000 {
		t.Errorf("Reticulum.DiscoveryPort = %d, want %d", cfg.Reticulum.DiscoveryPort, 5000)
	}

	if cfg.Reticulum.DataPort != 5001 {
		t.Errorf("Reticulum.DataPort = %d, want %d", cfg.Reticulum.DataPort, 5001)
	}

	if cfg.Reticulum.AnnounceInterval != 5*time.Second {
		t.Errorf("Reticulum.AnnounceInterval = %v, want %v", cfg.Reticulum.AnnounceInterval, 5*time.Second)
	}

	if cfg.Reticulum.PeerTimeout != 30*time.Second {
		t.Errorf("Reticulum.PeerTimeout = %v, want %v", cfg.Reticulum.PeerTimeout, 30*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override admin.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
admin:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Admin.Addr != ":55555" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Reticulum.GroupID != "reticulum-mesh" {
		t.Errorf("Reticulum.GroupID = %q, want default %q", cfg.Reticulum.GroupID, "reticulum-mesh")
	}

	if cfg.Reticulum.MaxConversations != 32 {
		t.Errorf("Reticulum.MaxConversations = %d, want default %d", cfg.Reticulum.MaxConversations, 32)
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
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "empty group id",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.GroupID = ""
			},
			wantErr: config.ErrEmptyGroupID,
		},
		{
			name: "zero discovery port",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.DiscoveryPort = 0
			},
			wantErr: config.ErrInvalidDiscoveryPort,
		},
		{
			name: "zero data port",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.DataPort = 0
			},
			wantErr: config.ErrInvalidDataPort,
		},
		{
			name: "colliding ports",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.DataPort = cfg.Reticulum.DiscoveryPort
			},
			wantErr: config.ErrSamePortNumbers,
		},
		{
			name: "zero announce interval",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.AnnounceInterval = 0
			},
			wantErr: config.ErrInvalidAnnounceInterval,
		},
		{
			name: "negative peer timeout",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.PeerTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidPeerTimeout,
		},
		{
			name: "peer timeout equal to announce interval",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.PeerTimeout = cfg.Reticulum.AnnounceInterval
			},
			wantErr: config.ErrPeerTimeoutTooShort,
		},
		{
			name: "zero deque size",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.DequeSize = 0
			},
			wantErr: config.ErrInvalidDequeSize,
		},
		{
			name: "zero reassembly timeout",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.ReassemblyTimeout = 0
			},
			wantErr: config.ErrInvalidReassemblyTimeout,
		},
		{
			name: "zero handshake timeout",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.HandshakeTimeout = 0
			},
			wantErr: config.ErrInvalidHandshakeTimeout,
		},
		{
			name: "zero max conversations",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.MaxConversations = 0
			},
			wantErr: config.ErrInvalidMaxConversations,
		},
		{
			name: "zero max messages",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.MaxMessagesPerConversation = 0
			},
			wantErr: config.ErrInvalidMaxMessages,
		},
		{
			name: "zero mtu",
			modify: func(cfg *config.Config) {
				cfg.Reticulum.MTU = 0
			},
			wantErr: config.ErrInvalidMTU,
		},
		{
			name: "empty base path",
			modify: func(cfg *config.Config) {
				cfg.Storage.BasePath = ""
			},
			wantErr: config.ErrEmptyBasePath,
		},
		{
			name: "route export enabled without target",
			modify: func(cfg *config.Config) {
				cfg.RouteExport.Enabled = true
				cfg.RouteExport.GoBGPAddr = ""
			},
			wantErr: config.ErrEmptyGoBGPAddr,
		},
		{
			name: "route export enabled with zero reconcile interval",
			modify: func(cfg *config.Config) {
				cfg.RouteExport.Enabled = true
				cfg.RouteExport.ReconcileInterval = 0
			},
			wantErr: config.ErrInvalidReconcileInterval,
		},
		{
			name: "route export dampening with inverted thresholds",
			modify: func(cfg *config.Config) {
				cfg.RouteExport.Enabled = true
				cfg.RouteExport.DampeningEnabled = true
				cfg.RouteExport.DampeningReuseThreshold = 5
				cfg.RouteExport.DampeningSuppressThreshold = 3
			},
			wantErr: config.ErrInvalidDampeningThresholds,
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

func TestValidateRouteExportDisabledSkipsChecks(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.RouteExport.Enabled = false
	cfg.RouteExport.GoBGPAddr = ""
	cfg.RouteExport.ReconcileInterval = 0

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() with route export disabled returned error: %v", err)
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

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
admin:
  addr: ":50051"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	// Set env overrides.
	t.Setenv("RETICULUM_ADMIN_ADDR", ":60000")
	t.Setenv("RETICULUM_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":60000" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
admin:
  addr: ":50051"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RETICULUM_METRICS_ADDR", ":9200")
	t.Setenv("RETICULUM_METRICS_PATH", "/custom")

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

func TestLoadEnvOverridesRouteExport(t *testing.T) {
	yamlContent := `
admin:
  addr: ":50051"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RETICULUM_ROUTEEXPORT_ENABLED", "true")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if !cfg.RouteExport.Enabled {
		t.Error("RouteExport.Enabled = false, want true (from env)")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "reticulum.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}

// Package config manages reticulum-core daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
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

// Config holds the complete reticulum-core configuration.
type Config struct {
	Admin       AdminConfig       `koanf:"admin"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
	Reticulum   ReticulumConfig   `koanf:"reticulum"`
	Storage     StorageConfig     `koanf:"storage"`
	RouteExport RouteExportConfig `koanf:"routeexport"`
}

// AdminConfig holds the JSON admin API server configuration.
type AdminConfig struct {
	// Addr is the admin API listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ReticulumConfig holds the core mesh-networking parameters shared by
// Transport, AutoInterface discovery, and BLE fragmentation/reassembly.
type ReticulumConfig struct {
	// GroupID identifies the mesh this node discovers peers on. Two
	// nodes with different GroupIDs never see each other's announces.
	GroupID string `koanf:"group_id"`

	// DiscoveryPort is the UDP port AutoInterface joins the IPv6
	// multicast group on for peer discovery.
	DiscoveryPort uint16 `koanf:"discovery_port"`

	// DataPort is the UDP port used for unicast data exchange once a
	// path has been established.
	DataPort uint16 `koanf:"data_port"`

	// InterfaceName is the network interface AutoInterface discovery
	// runs on (e.g. "wlan0"). Empty disables AutoInterface discovery.
	InterfaceName string `koanf:"interface_name"`

	// AnnounceInterval is the period between AutoInterface announces.
	AnnounceInterval time.Duration `koanf:"announce_interval"`

	// PeerTimeout is how long an AutoInterface peer survives without a
	// refreshing discovery announce before it expires. Path table
	// entries expire after transport.DefaultPathTTL instead.
	PeerTimeout time.Duration `koanf:"peer_timeout"`

	// DequeSize bounds the packet de-duplication deque's length.
	DequeSize int `koanf:"deque_size"`

	// DequeTTL bounds how long an entry stays in the de-duplication
	// deque before it is eligible for eviction regardless of size.
	DequeTTL time.Duration `koanf:"deque_ttl"`

	// ReassemblyTimeout bounds how long a partial BLE segment sequence
	// is held waiting for the remaining fragments before being dropped.
	ReassemblyTimeout time.Duration `koanf:"reassembly_timeout"`

	// HandshakeTimeout bounds how long a link handshake may take before
	// it is abandoned.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	// MaxConversations bounds the LXMF message store's conversation pool.
	MaxConversations int `koanf:"max_conversations"`

	// MaxMessagesPerConversation bounds the LXMF message store's
	// per-conversation message pool.
	MaxMessagesPerConversation int `koanf:"max_messages_per_conversation"`

	// MTU bounds the payload size of a single outgoing transport frame
	// before BLE fragmentation kicks in.
	MTU int `koanf:"mtu"`
}

// StorageConfig controls where the LXMF message store persists its
// conversation index and message files.
type StorageConfig struct {
	// BasePath is the root directory (or in-memory fs root) the message
	// store and any other on-disk state is rooted at.
	BasePath string `koanf:"base_path"`
}

// RouteExportConfig controls the optional GoBGP route-export bridge.
// When disabled, reticulum-core never dials GoBGP and carries no BGP
// dependency surface at runtime.
type RouteExportConfig struct {
	// Enabled turns on route export. Off by default: route export is
	// an optional operator-visibility feature, not core functionality.
	Enabled bool `koanf:"enabled"`

	// GoBGPAddr is the gRPC address of the GoBGP speaker to export to.
	GoBGPAddr string `koanf:"gobgp_addr"`

	// ReconcileInterval controls how often exported routes are
	// reconciled against the live Transport path table.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`

	// DampeningEnabled turns on RFC 2439-style flap dampening for
	// route churn.
	DampeningEnabled bool `koanf:"dampening_enabled"`

	// DampeningSuppressThreshold is the penalty value above which
	// exports are suppressed.
	DampeningSuppressThreshold float64 `koanf:"dampening_suppress_threshold"`

	// DampeningReuseThreshold is the penalty value below which a
	// suppressed destination starts exporting again.
	DampeningReuseThreshold float64 `koanf:"dampening_reuse_threshold"`

	// DampeningMaxSuppressTime bounds how long a destination can stay
	// suppressed regardless of penalty level.
	DampeningMaxSuppressTime time.Duration `koanf:"dampening_max_suppress_time"`

	// DampeningHalfLife is the time for the flap penalty to decay by half.
	DampeningHalfLife time.Duration `koanf:"dampening_half_life"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Reticulum: ReticulumConfig{
			GroupID:                    "reticulum-mesh",
			DiscoveryPort:              4242,
			DataPort:                   4243,
			InterfaceName:              "",
			AnnounceInterval:           15 * time.Second,
			PeerTimeout:                90 * time.Second,
			DequeSize:                  256,
			DequeTTL:                   5 * time.Minute,
			ReassemblyTimeout:          30 * time.Second,
			HandshakeTimeout:           10 * time.Second,
			MaxConversations:           32,
			MaxMessagesPerConversation: 64,
			MTU:                        500,
		},
		Storage: StorageConfig{
			BasePath: "/var/lib/reticulum-core",
		},
		RouteExport: RouteExportConfig{
			Enabled:                    false,
			GoBGPAddr:                  "127.0.0.1:50052",
			ReconcileInterval:          5 * time.Second,
			DampeningEnabled:           false,
			DampeningSuppressThreshold: 3,
			DampeningReuseThreshold:    2,
			DampeningMaxSuppressTime:   60 * time.Second,
			DampeningHalfLife:          15 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for reticulum-core
// configuration. Variables are named RETICULUM_<section>_<key>, e.g.,
// RETICULUM_ADMIN_ADDR.
const envPrefix = "RETICULUM_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RETICULUM_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	RETICULUM_ADMIN_ADDR              -> admin.addr
//	RETICULUM_METRICS_ADDR            -> metrics.addr
//	RETICULUM_METRICS_PATH            -> metrics.path
//	RETICULUM_LOG_LEVEL               -> log.level
//	RETICULUM_LOG_FORMAT              -> log.format
//	RETICULUM_RETICULUM_GROUP_ID      -> reticulum.group_id
//	RETICULUM_STORAGE_BASE_PATH       -> storage.base_path
//	RETICULUM_ROUTEEXPORT_ENABLED     -> routeexport.enabled
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// RETICULUM_ADMIN_ADDR -> admin.addr (strip prefix, lowercase, first _ -> .).
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

// envKeyMapper transforms RETICULUM_ADMIN_ADDR -> admin.addr.
// Strips the RETICULUM_ prefix, lowercases, and replaces the first _
// (the section separator) with ., so keys that contain underscores
// survive: RETICULUM_STORAGE_BASE_PATH -> storage.base_path.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":                                   defaults.Admin.Addr,
		"metrics.addr":                                 defaults.Metrics.Addr,
		"metrics.path":                                 defaults.Metrics.Path,
		"log.level":                                     defaults.Log.Level,
		"log.format":                                    defaults.Log.Format,
		"reticulum.group_id":                            defaults.Reticulum.GroupID,
		"reticulum.discovery_port":                      defaults.Reticulum.DiscoveryPort,
		"reticulum.data_port":                           defaults.Reticulum.DataPort,
		"reticulum.interface_name":                      defaults.Reticulum.InterfaceName,
		"reticulum.announce_interval":                   defaults.Reticulum.AnnounceInterval.String(),
		"reticulum.peer_timeout":                        defaults.Reticulum.PeerTimeout.String(),
		"reticulum.deque_size":                          defaults.Reticulum.DequeSize,
		"reticulum.deque_ttl":                            defaults.Reticulum.DequeTTL.String(),
		"reticulum.reassembly_timeout":                  defaults.Reticulum.ReassemblyTimeout.String(),
		"reticulum.handshake_timeout":                   defaults.Reticulum.HandshakeTimeout.String(),
		"reticulum.max_conversations":                   defaults.Reticulum.MaxConversations,
		"reticulum.max_messages_per_conversation":       defaults.Reticulum.MaxMessagesPerConversation,
		"reticulum.mtu":                                 defaults.Reticulum.MTU,
		"storage.base_path":                             defaults.Storage.BasePath,
		"routeexport.enabled":                           defaults.RouteExport.Enabled,
		"routeexport.gobgp_addr":                        defaults.RouteExport.GoBGPAddr,
		"routeexport.reconcile_interval":                defaults.RouteExport.ReconcileInterval.String(),
		"routeexport.dampening_enabled":                 defaults.RouteExport.DampeningEnabled,
		"routeexport.dampening_suppress_threshold":      defaults.RouteExport.DampeningSuppressThreshold,
		"routeexport.dampening_reuse_threshold":         defaults.RouteExport.DampeningReuseThreshold,
		"routeexport.dampening_max_suppress_time":       defaults.RouteExport.DampeningMaxSuppressTime.String(),
		"routeexport.dampening_half_life":               defaults.RouteExport.DampeningHalfLife.String(),
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
	// ErrEmptyAdminAddr indicates the admin API listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrEmptyGroupID indicates the mesh group ID is empty.
	ErrEmptyGroupID = errors.New("reticulum.group_id must not be empty")

	// ErrInvalidDiscoveryPort indicates the discovery port is zero.
	ErrInvalidDiscoveryPort = errors.New("reticulum.discovery_port must be nonzero")

	// ErrInvalidDataPort indicates the data port is zero.
	ErrInvalidDataPort = errors.New("reticulum.data_port must be nonzero")

	// ErrSamePortNumbers indicates the discovery and data ports collide.
	ErrSamePortNumbers = errors.New("reticulum.discovery_port and reticulum.data_port must differ")

	// ErrInvalidAnnounceInterval indicates the announce interval is invalid.
	ErrInvalidAnnounceInterval = errors.New("reticulum.announce_interval must be > 0")

	// ErrInvalidPeerTimeout indicates the peer timeout is invalid.
	ErrInvalidPeerTimeout = errors.New("reticulum.peer_timeout must be > 0")

	// ErrPeerTimeoutTooShort indicates the peer timeout is not comfortably
	// larger than the announce interval, which would expire peers between
	// their own announces.
	ErrPeerTimeoutTooShort = errors.New("reticulum.peer_timeout must be greater than reticulum.announce_interval")

	// ErrInvalidDequeSize indicates the de-duplication deque size is invalid.
	ErrInvalidDequeSize = errors.New("reticulum.deque_size must be > 0")

	// ErrInvalidReassemblyTimeout indicates the reassembly timeout is invalid.
	ErrInvalidReassemblyTimeout = errors.New("reticulum.reassembly_timeout must be > 0")

	// ErrInvalidHandshakeTimeout indicates the handshake timeout is invalid.
	ErrInvalidHandshakeTimeout = errors.New("reticulum.handshake_timeout must be > 0")

	// ErrInvalidMaxConversations indicates the conversation pool size is invalid.
	ErrInvalidMaxConversations = errors.New("reticulum.max_conversations must be > 0")

	// ErrInvalidMaxMessages indicates the per-conversation message pool size is invalid.
	ErrInvalidMaxMessages = errors.New("reticulum.max_messages_per_conversation must be > 0")

	// ErrInvalidMTU indicates the MTU is invalid.
	ErrInvalidMTU = errors.New("reticulum.mtu must be > 0")

	// ErrEmptyBasePath indicates the storage base path is empty.
	ErrEmptyBasePath = errors.New("storage.base_path must not be empty")

	// ErrEmptyGoBGPAddr indicates route export is enabled but has no target address.
	ErrEmptyGoBGPAddr = errors.New("routeexport.gobgp_addr must not be empty when routeexport.enabled is true")

	// ErrInvalidReconcileInterval indicates the reconciliation interval is invalid.
	ErrInvalidReconcileInterval = errors.New("routeexport.reconcile_interval must be > 0")

	// ErrInvalidDampeningThresholds indicates the dampening thresholds are
	// inverted or nonpositive.
	ErrInvalidDampeningThresholds = errors.New("routeexport.dampening_reuse_threshold must be > 0 and less than dampening_suppress_threshold")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if err := validateReticulum(cfg.Reticulum); err != nil {
		return err
	}

	if cfg.Storage.BasePath == "" {
		return ErrEmptyBasePath
	}

	if err := validateRouteExport(cfg.RouteExport); err != nil {
		return err
	}

	return nil
}

func validateReticulum(r ReticulumConfig) error {
	if r.GroupID == "" {
		return ErrEmptyGroupID
	}
	if r.DiscoveryPort == 0 {
		return ErrInvalidDiscoveryPort
	}
	if r.DataPort == 0 {
		return ErrInvalidDataPort
	}
	if r.DiscoveryPort == r.DataPort {
		return ErrSamePortNumbers
	}
	if r.AnnounceInterval <= 0 {
		return ErrInvalidAnnounceInterval
	}
	if r.PeerTimeout <= 0 {
		return ErrInvalidPeerTimeout
	}
	if r.PeerTimeout <= r.AnnounceInterval {
		return ErrPeerTimeoutTooShort
	}
	if r.DequeSize <= 0 {
		return ErrInvalidDequeSize
	}
	if r.ReassemblyTimeout <= 0 {
		return ErrInvalidReassemblyTimeout
	}
	if r.HandshakeTimeout <= 0 {
		return ErrInvalidHandshakeTimeout
	}
	if r.MaxConversations <= 0 {
		return ErrInvalidMaxConversations
	}
	if r.MaxMessagesPerConversation <= 0 {
		return ErrInvalidMaxMessages
	}
	if r.MTU <= 0 {
		return ErrInvalidMTU
	}
	return nil
}

func validateRouteExport(re RouteExportConfig) error {
	if !re.Enabled {
		return nil
	}
	if re.GoBGPAddr == "" {
		return ErrEmptyGoBGPAddr
	}
	if re.ReconcileInterval <= 0 {
		return ErrInvalidReconcileInterval
	}
	if re.DampeningEnabled {
		if re.DampeningReuseThreshold <= 0 || re.DampeningReuseThreshold >= re.DampeningSuppressThreshold {
			return ErrInvalidDampeningThresholds
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

package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// BulkDeleteMode selects how selection deletes behave while the change bus has observers
type BulkDeleteMode string

const (
	BulkDeletePerRow    BulkDeleteMode = "per_row"   // Query then delete row by row, one event per row
	BulkDeleteStatement BulkDeleteMode = "statement" // Single DELETE statement, no per-row events
)

// DatabaseConfiguration controls the embedded SQLite store
type DatabaseConfiguration struct {
	Path           string `toml:"path"`            // File name relative to data_dir, absolute path, or ":memory:"
	PoolSize       int    `toml:"pool_size"`       // Max open connections (forced to 1 for :memory:)
	BusyTimeoutMS  int    `toml:"busy_timeout_ms"` // SQLite busy_timeout pragma
	JournalMode    string `toml:"journal_mode"`    // WAL, DELETE, TRUNCATE, MEMORY
	StatementCache int    `toml:"statement_cache"` // Prepared statements kept per store
}

// GatewayConfiguration controls mutation and notification behavior
type GatewayConfiguration struct {
	SerializeWrites bool           `toml:"serialize_writes"`
	BulkDelete      BulkDeleteMode `toml:"bulk_delete"`
}

// ProviderConfiguration for the HTTP content provider endpoint
type ProviderConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Shared secret required by clients when set
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// SinkConfiguration describes one change forwarding destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "nats" or "kafka"
	Format          string   `toml:"format"` // "msgpack" or "json"
	Compress        bool     `toml:"compress"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterTables    []string `toml:"filter_tables"`
	FilterKinds     []string `toml:"filter_kinds"`
	QueueSize       int      `toml:"queue_size"`
	BatchSize       int      `toml:"batch_size"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Database   DatabaseConfiguration   `toml:"database"`
	Gateway    GatewayConfiguration    `toml:"gateway"`
	Provider   ProviderConfiguration   `toml:"provider"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
}

// Command line flags
var (
	ConfigPathFlag   = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag      = flag.String("data-dir", "", "Data directory (overrides config)")
	DatabaseFlag     = flag.String("db", "", "Database path (overrides config)")
	ProviderPortFlag = flag.Int("provider-port", 0, "Provider HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./ripple-data",

	Database: DatabaseConfiguration{
		Path:           "ripple.db",
		PoolSize:       4,
		BusyTimeoutMS:  5000,
		JournalMode:    "WAL",
		StatementCache: 128,
	},

	Gateway: GatewayConfiguration{
		SerializeWrites: true,
		BulkDelete:      BulkDeletePerRow,
	},

	Provider: ProviderConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        4480,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *DatabaseFlag != "" {
		Config.Database.Path = *DatabaseFlag
	}
	if *ProviderPortFlag != 0 {
		Config.Provider.Port = *ProviderPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("ripple")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if Config.Database.PoolSize < 1 {
		return fmt.Errorf("database pool size must be >= 1")
	}

	if Config.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("database busy timeout must be >= 0")
	}

	if Config.Database.StatementCache < 1 {
		return fmt.Errorf("statement cache size must be >= 1")
	}

	validJournal := map[string]bool{
		"": true, "WAL": true, "DELETE": true, "TRUNCATE": true, "MEMORY": true,
	}
	if !validJournal[strings.ToUpper(Config.Database.JournalMode)] {
		return fmt.Errorf("invalid journal mode: %s", Config.Database.JournalMode)
	}

	switch Config.Gateway.BulkDelete {
	case BulkDeletePerRow, BulkDeleteStatement:
	default:
		return fmt.Errorf("invalid bulk delete mode: %s", Config.Gateway.BulkDelete)
	}

	if Config.Provider.Enabled && (Config.Provider.Port < 1 || Config.Provider.Port > 65535) {
		return fmt.Errorf("invalid provider port: %d", Config.Provider.Port)
	}

	seen := make(map[string]bool, len(Config.Sinks))
	for _, sink := range Config.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if seen[sink.Name] {
			return fmt.Errorf("duplicate sink name: %s", sink.Name)
		}
		seen[sink.Name] = true

		switch sink.Format {
		case "", "msgpack", "json":
		default:
			return fmt.Errorf("sink %s: invalid format %q", sink.Name, sink.Format)
		}

		if sink.QueueSize < 0 {
			return fmt.Errorf("sink %s: queue size must be >= 0", sink.Name)
		}
	}

	return nil
}

// DatabasePath resolves the configured database path against the data directory
func (c *Configuration) DatabasePath() string {
	p := c.Database.Path
	if p == ":memory:" || filepath.IsAbs(p) || strings.HasPrefix(p, "file:") {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

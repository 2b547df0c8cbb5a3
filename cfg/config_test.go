package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Configuration {
	return &Configuration{
		NodeID:  1,
		DataDir: "./test-data",
		Database: DatabaseConfiguration{
			Path:           "test.db",
			PoolSize:       4,
			BusyTimeoutMS:  1000,
			JournalMode:    "WAL",
			StatementCache: 16,
		},
		Gateway: GatewayConfiguration{
			SerializeWrites: true,
			BulkDelete:      BulkDeletePerRow,
		},
		Provider: ProviderConfiguration{
			Enabled: true,
			Port:    4480,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestValidate_InvalidProviderPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, port := range []int{-1, 0, 70000} {
		Config = validConfig()
		Config.Provider.Port = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid provider port %d", port)
		}
	}

	// Port is ignored when the provider is disabled
	Config = validConfig()
	Config.Provider.Enabled = false
	Config.Provider.Port = 0
	if err := Validate(); err != nil {
		t.Errorf("Expected no error for disabled provider, got: %v", err)
	}
}

func TestValidate_InvalidBulkDelete(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Gateway.BulkDelete = "sometimes"

	if err := Validate(); err == nil {
		t.Error("Expected error for invalid bulk delete mode")
	}
}

func TestValidate_InvalidDatabase(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	cases := map[string]func(c *Configuration){
		"empty path":      func(c *Configuration) { c.Database.Path = "" },
		"zero pool":       func(c *Configuration) { c.Database.PoolSize = 0 },
		"negative busy":   func(c *Configuration) { c.Database.BusyTimeoutMS = -1 },
		"bad journal":     func(c *Configuration) { c.Database.JournalMode = "OFF-ISH" },
		"zero stmt cache": func(c *Configuration) { c.Database.StatementCache = 0 },
	}

	for name, mutate := range cases {
		Config = validConfig()
		mutate(Config)
		if err := Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestValidate_Sinks(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Sinks = []SinkConfiguration{{Name: "a", Type: "nats", Format: "json"}, {Name: "a", Type: "kafka"}}
	if err := Validate(); err == nil {
		t.Error("Expected error for duplicate sink names")
	}

	Config.Sinks = []SinkConfiguration{{Name: "a", Type: "nats", Format: "xml"}}
	if err := Validate(); err == nil {
		t.Error("Expected error for invalid sink format")
	}

	Config.Sinks = []SinkConfiguration{{Type: "nats"}}
	if err := Validate(); err == nil {
		t.Error("Expected error for unnamed sink")
	}

	Config.Sinks = []SinkConfiguration{{Name: "events", Type: "nats", Format: "msgpack", QueueSize: 64}}
	if err := Validate(); err != nil {
		t.Errorf("Expected valid sink config, got: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "ripple.toml")
	content := `
node_id = 7
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[database]
path = ":memory:"
pool_size = 2

[gateway]
serialize_writes = false
bulk_delete = "statement"

[[sinks]]
name = "events"
type = "nats"
nats_url = "nats://localhost:4222"
filter_tables = ["note*"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	Config = validConfig()
	if err := Load(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.NodeID != 7 {
		t.Errorf("Expected node id 7, got %d", Config.NodeID)
	}
	if Config.Database.Path != ":memory:" || Config.Database.PoolSize != 2 {
		t.Errorf("Unexpected database config: %+v", Config.Database)
	}
	if Config.Gateway.SerializeWrites || Config.Gateway.BulkDelete != BulkDeleteStatement {
		t.Errorf("Unexpected gateway config: %+v", Config.Gateway)
	}
	if len(Config.Sinks) != 1 || Config.Sinks[0].FilterTables[0] != "note*" {
		t.Errorf("Unexpected sinks: %+v", Config.Sinks)
	}
	if _, err := os.Stat(Config.DataDir); err != nil {
		t.Errorf("Data directory was not created: %v", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := t.TempDir()

	*DataDirFlag = tempDir
	*DatabaseFlag = "override.db"
	*ProviderPortFlag = 9999

	defer func() {
		*DataDirFlag = ""
		*DatabaseFlag = ""
		*ProviderPortFlag = 0
	}()

	Config = validConfig()
	if err := Load(""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.Database.Path != "override.db" {
		t.Errorf("Expected db override, got %s", Config.Database.Path)
	}
	if Config.Provider.Port != 9999 {
		t.Errorf("Expected provider port 9999, got %d", Config.Provider.Port)
	}
}

func TestDatabasePath(t *testing.T) {
	c := validConfig()
	c.DataDir = "/var/lib/ripple"

	c.Database.Path = "notes.db"
	if got := c.DatabasePath(); got != filepath.Join("/var/lib/ripple", "notes.db") {
		t.Errorf("relative path resolved to %s", got)
	}

	c.Database.Path = ":memory:"
	if got := c.DatabasePath(); got != ":memory:" {
		t.Errorf("memory path resolved to %s", got)
	}

	c.Database.Path = "/tmp/abs.db"
	if got := c.DatabasePath(); got != "/tmp/abs.db" {
		t.Errorf("absolute path resolved to %s", got)
	}
}

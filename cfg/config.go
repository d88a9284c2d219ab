package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// SinkType defines where audit events are published
type SinkType string

const (
	SinkNATS  SinkType = "nats"  // NATS JetStream subject
	SinkKafka SinkType = "kafka" // Kafka topic
)

// BackendConfiguration for the upstream PostgreSQL server
type BackendConfiguration struct {
	DSN              string `toml:"dsn"`
	MaxConns         int    `toml:"max_conns"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
}

// StrictConfiguration seeds the enforcement modes at startup
type StrictConfiguration struct {
	UpdateMode  string `toml:"update_mode"`  // off | warn | on
	DeleteMode  string `toml:"delete_mode"`  // off | warn | on
	WarnDedupe  bool   `toml:"warn_dedupe"`  // Suppress repeated warn diagnostics per query shape
	PersistPath string `toml:"persist_path"` // SQLite mode journal, empty = memory only
}

// ParserConfiguration controls the query analysis cache
type ParserConfiguration struct {
	CacheSize int `toml:"cache_size"` // LRU entries, 0 disables memoization
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// TelemetryConfiguration for metrics
type TelemetryConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// AdminConfiguration for the HTTP admin surface
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Secret  string `toml:"secret"` // Empty disables auth (local use only)
}

// SinkConfiguration is one audit publish target
type SinkConfiguration struct {
	Type    SinkType `toml:"type"`
	URL     string   `toml:"url"`     // NATS server URL
	Subject string   `toml:"subject"` // NATS subject
	Brokers []string `toml:"brokers"` // Kafka bootstrap brokers
	Topic   string   `toml:"topic"`   // Kafka topic
	Filter  string   `toml:"filter"`  // Glob over "OPERATION:client", empty = all
}

// AuditConfiguration controls the violation event pipeline
type AuditConfiguration struct {
	Enabled           bool                `toml:"enabled"`
	SpoolPath         string              `toml:"spool_path"`
	CompressThreshold int                 `toml:"compress_threshold"` // Bytes, query texts above this are compressed
	Sinks             []SinkConfiguration `toml:"sinks"`
}

// Configuration is the main configuration structure
type Configuration struct {
	Listen     string `toml:"listen"`
	InstanceID uint64 `toml:"instance_id"`

	Backend   BackendConfiguration   `toml:"backend"`
	Strict    StrictConfiguration    `toml:"strict"`
	Parser    ParserConfiguration    `toml:"parser"`
	Logging   LoggingConfiguration   `toml:"logging"`
	Telemetry TelemetryConfiguration `toml:"telemetry"`
	Admin     AdminConfiguration     `toml:"admin"`
	Audit     AuditConfiguration     `toml:"audit"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	ListenFlag     = flag.String("listen", "", "Proxy listen address (overrides config)")
	BackendDSNFlag = flag.String("backend-dsn", "", "Backend PostgreSQL DSN (overrides config)")
	InstanceIDFlag = flag.Uint64("instance-id", 0, "Instance ID (overrides config, 0=auto)")
	UpdateModeFlag = flag.String("update-mode", "", "Initial UPDATE enforcement mode (overrides config)")
	DeleteModeFlag = flag.String("delete-mode", "", "Initial DELETE enforcement mode (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	Listen:     "0.0.0.0:5439",
	InstanceID: 0, // Auto-generate

	Backend: BackendConfiguration{
		DSN:              "postgres://localhost:5432/postgres",
		MaxConns:         8,
		ConnectTimeoutMS: 5000,
	},

	Strict: StrictConfiguration{
		UpdateMode:  "off",
		DeleteMode:  "off",
		WarnDedupe:  true,
		PersistPath: "",
	},

	Parser: ParserConfiguration{
		CacheSize: 1024,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Telemetry: TelemetryConfiguration{
		Enabled: true,
		Bind:    "0.0.0.0:9464",
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Bind:    "0.0.0.0:8090",
		Secret:  "",
	},

	Audit: AuditConfiguration{
		Enabled:           false,
		SpoolPath:         "./pgstrict-audit",
		CompressThreshold: 4096,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
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

	// Apply CLI overrides
	if *ListenFlag != "" {
		Config.Listen = *ListenFlag
	}
	if *BackendDSNFlag != "" {
		Config.Backend.DSN = *BackendDSNFlag
	}
	if *InstanceIDFlag != 0 {
		Config.InstanceID = *InstanceIDFlag
	}
	if *UpdateModeFlag != "" {
		Config.Strict.UpdateMode = *UpdateModeFlag
	}
	if *DeleteModeFlag != "" {
		Config.Strict.DeleteMode = *DeleteModeFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	return nil
}

// generateInstanceID creates a stable per-host instance ID from the machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("pgstrict")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// validModes are the accepted enforcement mode tokens
var validModes = map[string]bool{
	"off": true, "warn": true, "on": true,
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}

	if Config.Backend.DSN == "" {
		return fmt.Errorf("backend DSN must not be empty")
	}

	if Config.Backend.MaxConns < 1 {
		return fmt.Errorf("backend max connections must be >= 1")
	}

	if Config.Backend.ConnectTimeoutMS < 1 {
		return fmt.Errorf("backend connect timeout must be >= 1ms")
	}

	if !validModes[Config.Strict.UpdateMode] {
		return fmt.Errorf("invalid update mode: %s", Config.Strict.UpdateMode)
	}

	if !validModes[Config.Strict.DeleteMode] {
		return fmt.Errorf("invalid delete mode: %s", Config.Strict.DeleteMode)
	}

	if Config.Parser.CacheSize < 0 {
		return fmt.Errorf("parser cache size must be >= 0")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Telemetry.Enabled && Config.Telemetry.Bind == "" {
		return fmt.Errorf("telemetry bind address must not be empty")
	}

	if Config.Admin.Enabled && Config.Admin.Bind == "" {
		return fmt.Errorf("admin bind address must not be empty")
	}

	if Config.Audit.Enabled {
		if Config.Audit.SpoolPath == "" {
			return fmt.Errorf("audit spool path must not be empty")
		}
		if Config.Audit.CompressThreshold < 0 {
			return fmt.Errorf("audit compress threshold must be >= 0")
		}
		if len(Config.Audit.Sinks) == 0 {
			return fmt.Errorf("audit enabled but no sinks configured")
		}
		for i, sink := range Config.Audit.Sinks {
			switch sink.Type {
			case SinkNATS:
				if sink.URL == "" || sink.Subject == "" {
					return fmt.Errorf("audit sink %d: nats sink requires url and subject", i)
				}
			case SinkKafka:
				if len(sink.Brokers) == 0 || sink.Topic == "" {
					return fmt.Errorf("audit sink %d: kafka sink requires brokers and topic", i)
				}
			default:
				return fmt.Errorf("audit sink %d: unknown sink type: %s", i, sink.Type)
			}
		}
	}

	return nil
}

package cfg

import (
	"fmt"
	"hash/fnv"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StoreBackend selects the store implementation
type StoreBackend string

const (
	BackendPebble StoreBackend = "pebble" // Pebble directory at store.path
	BackendSQLite StoreBackend = "sqlite" // SQLite file at store.path
	BackendMySQL  StoreBackend = "mysql"  // MySQL server at store.dsn
	BackendMemory StoreBackend = "memory" // In-process B-tree (seed dry runs, tests)
)

// ScanMode selects how pages are produced
type ScanMode string

const (
	ModeIndexed ScanMode = "indexed" // skip/len listing
	ModeCursor  ScanMode = "cursor"  // boundary-key cursor stepping
)

// Direction selects key order
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
)

// SinkType selects the export sink
type SinkType string

const (
	SinkFile  SinkType = "file"
	SinkKafka SinkType = "kafka"
	SinkNats  SinkType = "nats"
)

// StoreConfiguration controls which store is opened and how
type StoreConfiguration struct {
	Backend     StoreBackend `toml:"backend"`
	Path        string       `toml:"path"`          // Pebble dir or SQLite file
	DSN         string       `toml:"dsn"`           // MySQL DSN
	CacheSizeMB int64        `toml:"cache_size_mb"` // Pebble block cache
	BlockSizeKB int          `toml:"block_size_kb"` // Pebble SST block size, the native page size
	StatsCache  int          `toml:"stats_cache"`   // SQL table-stats LRU entries
}

// ScanConfiguration controls the paging engine
type ScanConfiguration struct {
	Mode              ScanMode  `toml:"mode"`
	Direction         Direction `toml:"direction"`
	PageSize          int       `toml:"page_size"` // 0 = store native page size
	MaxRetries        int       `toml:"max_retries"`
	Workers           int       `toml:"workers"` // Parallel decode/transform workers per page
	VerifyExactlyOnce bool      `toml:"verify_exactly_once"`
	MaxAnomalies      int       `toml:"max_anomalies"` // Anomalies retained in results (all are logged)
}

// ExportConfiguration controls per-page export of derived tuples
type ExportConfiguration struct {
	Enabled     bool     `toml:"enabled"`
	Sink        SinkType `toml:"sink"`
	Dir         string   `toml:"dir"`
	Compress    bool     `toml:"compress"` // zstd for file sink
	TopicPrefix string   `toml:"topic_prefix"`
	Brokers     []string `toml:"brokers"`
	NatsURL     string   `toml:"nats_url"`
	BatchSize   int      `toml:"batch_size"`
	Categories  []string `toml:"categories"` // Glob patterns; empty exports all
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`

	Store      StoreConfiguration      `toml:"store"`
	Scan       ScanConfiguration       `toml:"scan"`
	Export     ExportConfiguration     `toml:"export"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Default configuration
var Config = Default()

// Default returns a fresh configuration with default values
func Default() *Configuration {
	return &Configuration{
		InstanceID: 0, // Auto-generate

		Store: StoreConfiguration{
			Backend:     BackendPebble,
			Path:        "./tablescan-data",
			CacheSizeMB: 64,
			BlockSizeKB: 4,
			StatsCache:  128,
		},

		Scan: ScanConfiguration{
			Mode:         ModeIndexed,
			Direction:    DirectionForward,
			PageSize:     0,
			MaxRetries:   10,
			Workers:      runtime.NumCPU(),
			MaxAnomalies: 1000,
		},

		Export: ExportConfiguration{
			Enabled:     false,
			Sink:        SinkFile,
			Dir:         "./tablescan-export",
			TopicPrefix: "tablescan",
			BatchSize:   100,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9464,
		},
	}
}

// Load loads configuration from file and applies environment overrides.
// A missing file is not an error: defaults are used.
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

	applyEnv()

	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			// Containers frequently lack a machine id; the id only labels metrics
			log.Warn().Err(err).Msg("Failed to derive instance ID from machine ID")
			Config.InstanceID = 1
		}
		log.Debug().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	return nil
}

// applyEnv reads the values usually kept out of config files
func applyEnv() {
	if v := os.Getenv("TABLESCAN_STORE_DSN"); v != "" {
		Config.Store.DSN = v
	}
	if v := os.Getenv("TABLESCAN_NATS_URL"); v != "" {
		Config.Export.NatsURL = v
	}
	if v := os.Getenv("TABLESCAN_KAFKA_BROKERS"); v != "" {
		Config.Export.Brokers = strings.Split(v, ",")
	}
}

// generateInstanceID creates a stable instance ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("tablescan")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Store.Backend {
	case BackendPebble, BackendSQLite:
		if Config.Store.Path == "" {
			return fmt.Errorf("store path is required for backend %s", Config.Store.Backend)
		}
	case BackendMySQL:
		if Config.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for backend mysql")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid store backend: %s", Config.Store.Backend)
	}

	if Config.Store.CacheSizeMB < 1 {
		return fmt.Errorf("store cache size must be >= 1 MB")
	}

	if Config.Store.BlockSizeKB < 1 {
		return fmt.Errorf("store block size must be >= 1 KB")
	}

	if Config.Scan.Mode != ModeIndexed && Config.Scan.Mode != ModeCursor {
		return fmt.Errorf("invalid scan mode: %s", Config.Scan.Mode)
	}

	if Config.Scan.Direction != DirectionForward && Config.Scan.Direction != DirectionReverse {
		return fmt.Errorf("invalid scan direction: %s", Config.Scan.Direction)
	}

	if Config.Scan.PageSize < 0 {
		return fmt.Errorf("page size must be >= 0 (0 = native)")
	}

	if Config.Scan.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}

	if Config.Scan.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}

	if Config.Scan.MaxAnomalies < 0 {
		return fmt.Errorf("max anomalies must be >= 0")
	}

	if Config.Export.Enabled {
		switch Config.Export.Sink {
		case SinkFile:
			if Config.Export.Dir == "" {
				return fmt.Errorf("export dir is required for file sink")
			}
		case SinkKafka:
			if len(Config.Export.Brokers) == 0 {
				return fmt.Errorf("kafka sink requires at least one broker")
			}
		case SinkNats:
			if Config.Export.NatsURL == "" {
				return fmt.Errorf("nats sink requires nats_url")
			}
		default:
			return fmt.Errorf("invalid export sink: %s", Config.Export.Sink)
		}
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/downfa11-org/bigqueue/util"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// StaticQueueConfig declares a queue and its fan-out ids to open at startup.
type StaticQueueConfig struct {
	Name      string   `yaml:"name" json:"name"`
	FanoutIDs []string `yaml:"fanout_ids" json:"fanout_ids"`
}

// Config represents the storage configuration.
type Config struct {
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`

	// page storage
	QueueDir        string `yaml:"queue_dir" json:"queue.dir"`
	DataPageSize    int    `yaml:"data_page_size" json:"data.page.size"`
	PageCacheTTLMS  int    `yaml:"page_cache_ttl_ms" json:"page.cache.ttl.ms"`
	FlushIntervalMS int    `yaml:"flush_interval_ms" json:"flush.interval.ms"`

	// retention
	CleanupPolicy            string `yaml:"cleanup_policy" json:"cleanup.policy"`
	RetentionHours           int    `yaml:"retention_hours" json:"retention.hours"`
	RetentionBytes           int64  `yaml:"retention_bytes" json:"retention.bytes"`
	RetentionCheckIntervalMS int    `yaml:"retention_check_interval_ms" json:"retention.check.interval.ms"`

	StaticQueues []StaticQueueConfig `yaml:"static_queues" json:"static_queues"`
}

const (
	defaultQueueDir     = "bigqueue-data"
	defaultExporterPort = 9100
)

// PageCacheTTL is how long an unused page stays mapped.
func (cfg *Config) PageCacheTTL() time.Duration {
	return time.Duration(cfg.PageCacheTTLMS) * time.Millisecond
}

func (cfg *Config) RetentionCheckInterval() time.Duration {
	return time.Duration(cfg.RetentionCheckIntervalMS) * time.Millisecond
}

func (cfg *Config) FlushInterval() time.Duration {
	return time.Duration(cfg.FlushIntervalMS) * time.Millisecond
}

// LoadConfig builds the configuration from flag defaults, an optional YAML or
// JSON file, BIGQUEUE_* environment variables and finally the flags that were
// set explicitly, in that order of precedence.
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("bigqueue", pflag.ContinueOnError)

	configPath := fs.String("config", "", "Path to YAML/JSON config file")
	queueDir := fs.String("queue-dir", defaultQueueDir, "Directory holding the queues")
	dataPageSize := fs.Int("data-page-size", 0, "Data page size in bytes (0 = 128MiB)")
	pageTTL := fs.Int("page-cache-ttl-ms", 1000, "How long an unused page stays mapped (ms)")
	flushInterval := fs.Int("flush-interval-ms", 1000, "Interval between background flushes (ms, 0 = off)")
	logLevel := fs.String("log-level", "info", "Log Level (debug, info, warn, error)")
	exporter := fs.Bool("exporter", true, "Enable Prometheus exporter")
	exporterPort := fs.Int("exporter-port", defaultExporterPort, "Exporter port")
	cleanupPolicy := fs.String("cleanup-policy", "delete", "Retention policy (delete, none)")
	retentionHours := fs.Int("retention-hours", 168, "Drop pages older than this many hours")
	retentionBytes := fs.Int64("retention-bytes", -1, "Upper bound for a queue's page files (-1 = unbounded)")
	retentionCheck := fs.Int("retention-check-interval-ms", 300000, "Interval between retention passes (ms)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	cfg := &Config{
		QueueDir:                 *queueDir,
		DataPageSize:             *dataPageSize,
		PageCacheTTLMS:           *pageTTL,
		FlushIntervalMS:          *flushInterval,
		LogLevel:                 util.ParseLogLevel(*logLevel),
		EnableExporter:           *exporter,
		ExporterPort:             *exporterPort,
		CleanupPolicy:            *cleanupPolicy,
		RetentionHours:           *retentionHours,
		RetentionBytes:           *retentionBytes,
		RetentionCheckIntervalMS: *retentionCheck,
	}

	if *configPath != "" {
		if err := loadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "queue-dir":
			cfg.QueueDir = *queueDir
		case "data-page-size":
			cfg.DataPageSize = *dataPageSize
		case "page-cache-ttl-ms":
			cfg.PageCacheTTLMS = *pageTTL
		case "flush-interval-ms":
			cfg.FlushIntervalMS = *flushInterval
		case "log-level":
			cfg.LogLevel = util.ParseLogLevel(*logLevel)
		case "exporter":
			cfg.EnableExporter = *exporter
		case "exporter-port":
			cfg.ExporterPort = *exporterPort
		case "cleanup-policy":
			cfg.CleanupPolicy = *cleanupPolicy
		case "retention-hours":
			cfg.RetentionHours = *retentionHours
		case "retention-bytes":
			cfg.RetentionBytes = *retentionBytes
		case "retention-check-interval-ms":
			cfg.RetentionCheckIntervalMS = *retentionCheck
		}
	})

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".json", ".jsonc", ".hujson":
		// comments and trailing commas are allowed in JSON config files
		standardized, serr := hujson.Standardize(data)
		if serr != nil {
			return fmt.Errorf("parse config %s: %w", path, serr)
		}
		err = json.Unmarshal(standardized, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

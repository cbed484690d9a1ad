package config

import (
	"os"
	"strings"

	"github.com/downfa11-org/bigqueue/pkg/types"
	"github.com/downfa11-org/bigqueue/util"
)

func (cfg *Config) Normalize() {
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = defaultExporterPort
	}

	// page storage
	if strings.TrimSpace(cfg.QueueDir) == "" {
		cfg.QueueDir = defaultQueueDir
	}
	if cfg.DataPageSize == 0 {
		cfg.DataPageSize = types.DefaultDataPageSize
	}
	if cfg.DataPageSize < types.MinDataPageSize {
		util.Warn("data_page_size %d below minimum, using %d", cfg.DataPageSize, types.MinDataPageSize)
		cfg.DataPageSize = types.MinDataPageSize
	}
	if cfg.DataPageSize > types.MaxDataPageSize {
		util.Warn("data_page_size %d above maximum, using %d", cfg.DataPageSize, types.MaxDataPageSize)
		cfg.DataPageSize = types.MaxDataPageSize
	}
	if cfg.PageCacheTTLMS <= 0 {
		cfg.PageCacheTTLMS = 1000
	}
	if cfg.FlushIntervalMS < 0 {
		cfg.FlushIntervalMS = 0
	}

	// retention
	cfg.CleanupPolicy = strings.ToLower(strings.TrimSpace(cfg.CleanupPolicy))
	switch cfg.CleanupPolicy {
	case "delete", "none":
	default:
		util.Warn("Invalid cleanup_policy '%s', defaulting to 'delete'", cfg.CleanupPolicy)
		cfg.CleanupPolicy = "delete"
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = 168
	}
	if cfg.RetentionBytes == 0 {
		cfg.RetentionBytes = -1
	}
	if cfg.RetentionCheckIntervalMS <= 0 {
		cfg.RetentionCheckIntervalMS = 300000
	}

	var queues []StaticQueueConfig
	for _, q := range cfg.StaticQueues {
		if err := util.ValidateName(q.Name); err != nil {
			util.Warn("skipping static queue: %v", err)
			continue
		}
		var ids []string
		for _, id := range q.FanoutIDs {
			if err := util.ValidateName(id); err != nil {
				util.Warn("skipping fan-out id of %s: %v", q.Name, err)
				continue
			}
			ids = append(ids, id)
		}
		q.FanoutIDs = ids
		queues = append(queues, q)
	}
	cfg.StaticQueues = queues
}

// applyEnv lets BIGQUEUE_* variables override file values.
func applyEnv(cfg *Config) {
	overrideEnvString(&cfg.QueueDir, "BIGQUEUE_QUEUE_DIR")
	overrideEnvInt(&cfg.DataPageSize, "BIGQUEUE_DATA_PAGE_SIZE")
	overrideEnvInt(&cfg.PageCacheTTLMS, "BIGQUEUE_PAGE_CACHE_TTL_MS")
	overrideEnvInt(&cfg.FlushIntervalMS, "BIGQUEUE_FLUSH_INTERVAL_MS")
	overrideEnvBool(&cfg.EnableExporter, "BIGQUEUE_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "BIGQUEUE_EXPORTER_PORT")
	overrideEnvString(&cfg.CleanupPolicy, "BIGQUEUE_CLEANUP_POLICY")
	overrideEnvInt(&cfg.RetentionHours, "BIGQUEUE_RETENTION_HOURS")
	overrideEnvInt64(&cfg.RetentionBytes, "BIGQUEUE_RETENTION_BYTES")
	overrideEnvInt(&cfg.RetentionCheckIntervalMS, "BIGQUEUE_RETENTION_CHECK_INTERVAL_MS")
	if v := os.Getenv("BIGQUEUE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt64(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

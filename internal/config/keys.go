package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MAPSPEAK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "MAPSPEAK_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "tagger.base_url", typ: kString, env: "MAPSPEAK_TAGGER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Tagger.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Tagger.BaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MAPSPEAK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "safety.max_snapshots", typ: kInt, env: "MAPSPEAK_SAFETY_MAX_SNAPSHOTS",
		apply:   func(cfg *Config, v any) { cfg.Safety.MaxSnapshots = v.(int) },
		extract: func(cfg Config) any { return cfg.Safety.MaxSnapshots },
	},
	{
		key: "safety.max_features", typ: kInt, env: "MAPSPEAK_SAFETY_MAX_FEATURES",
		apply:   func(cfg *Config, v any) { cfg.Safety.MaxFeatures = v.(int) },
		extract: func(cfg Config) any { return cfg.Safety.MaxFeatures },
	},
	{
		key: "safety.large_dataset_threshold", typ: kInt, env: "MAPSPEAK_SAFETY_LARGE_DATASET_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Safety.LargeDatasetThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Safety.LargeDatasetThreshold },
	},
	{
		key: "safety.memory_limit_mb", typ: kInt, env: "MAPSPEAK_SAFETY_MEMORY_LIMIT_MB",
		apply:   func(cfg *Config, v any) { cfg.Safety.MemoryLimitMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Safety.MemoryLimitMB },
	},
	{
		key: "log.level", typ: kString, env: "MAPSPEAK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

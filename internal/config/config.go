package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Tagger  TaggerConfig
	Storage StorageConfig
	Safety  SafetyConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

// TaggerConfig points at the optional external entity-tagging service.
// When BaseURL is empty, interpretation relies on pattern matching alone.
type TaggerConfig struct {
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

// SafetyConfig holds the thresholds the prevention and optimization
// layers work against.
type SafetyConfig struct {
	MaxSnapshots          int
	MaxFeatures           int
	LargeDatasetThreshold int
	MemoryLimitMB         int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Safety: SafetyConfig{
			MaxSnapshots:          10,
			MaxFeatures:           10000,
			LargeDatasetThreshold: 50000,
			MemoryLimitMB:         512,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "mapspeak-data"
		}
	}
	return filepath.Join(dir, "mapspeak")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/mapspeak/config.json, with environment variables
// (MAPSPEAK_*) overriding file values.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

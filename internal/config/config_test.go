package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strings[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 || cfg.Server.MCPPort != 4601 {
		t.Errorf("ports = %d/%d, want 4600/4601", cfg.Server.Port, cfg.Server.MCPPort)
	}
	if cfg.Safety.MaxSnapshots != 10 {
		t.Errorf("max snapshots = %d, want 10", cfg.Safety.MaxSnapshots)
	}
	if cfg.Safety.LargeDatasetThreshold != 50000 || cfg.Safety.MemoryLimitMB != 512 {
		t.Errorf("safety = %+v", cfg.Safety)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if cfg.Tagger.BaseURL != "" {
		t.Errorf("tagger url = %q, want empty by default", cfg.Tagger.BaseURL)
	}
}

func TestBackendOverridesDefaults(t *testing.T) {
	b := newMemBackend()
	b.ints["server.port"] = 9000
	b.strings["tagger.base_url"] = "http://localhost:5000"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Tagger.BaseURL != "http://localhost:5000" {
		t.Errorf("tagger url = %q", cfg.Tagger.BaseURL)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.MCPPort != 4601 {
		t.Errorf("mcp port = %d, want default", cfg.Server.MCPPort)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	b := newMemBackend()
	b.ints["server.port"] = 9000
	t.Setenv("MAPSPEAK_SERVER_PORT", "9100")
	t.Setenv("MAPSPEAK_LOG_LEVEL", "debug")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, env must win over file", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestEnvBadIntegerIgnored(t *testing.T) {
	t.Setenv("MAPSPEAK_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("port = %d, want default on unparseable env value", cfg.Server.Port)
	}
}

func TestShowAllCoversEveryKey(t *testing.T) {
	cfg, _ := loadWith(newMemBackend())
	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d entries, want %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if !strings.HasPrefix(info.EnvVar, "MAPSPEAK_") {
			t.Errorf("env var %q does not carry the expected prefix", info.EnvVar)
		}
	}
}

func TestAPITokenGeneratedOnce(t *testing.T) {
	dir := t.TempDir()

	first, err := APIToken(dir)
	if err != nil {
		t.Fatalf("APIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}

	second, err := APIToken(dir)
	if err != nil {
		t.Fatalf("APIToken: %v", err)
	}
	if first != second {
		t.Error("token must be stable across calls")
	}

	info, err := os.Stat(filepath.Join(dir, "api_token"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}

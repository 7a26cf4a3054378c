package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
archive_dir: /var/archives
workers: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/archives", cfg.ArchiveDir)
	assert.Equal(t, 8, cfg.Workers)
	// unset fields come from Default
	assert.Equal(t, "data/bronze.db", cfg.BronzeDB)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.FileTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
archive_dir: /data/raw
bronze_db: /data/b.db
silver_db: /data/s.db
workers: 2
max_retries: 1
file_timeout: 30s
watch: true
log_level: debug
metrics_addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.FileTimeout)
	assert.True(t, cfg.Watch)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "workers: [not an int"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	for name, mutate := range map[string]func(*Config){
		"empty archive dir": func(c *Config) { c.ArchiveDir = "" },
		"empty bronze db":   func(c *Config) { c.BronzeDB = "" },
		"shared db file":    func(c *Config) { c.SilverDB = c.BronzeDB },
		"zero workers":      func(c *Config) { c.Workers = 0 },
		"negative retries":  func(c *Config) { c.MaxRetries = -1 },
		"zero file timeout": func(c *Config) { c.FileTimeout = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

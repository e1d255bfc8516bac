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
	path := filepath.Join(t.TempDir(), "schemasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "schemasync_history", cfg.HistoryTable)
	assert.Equal(t, 10*time.Minute, cfg.LockTTL)
	assert.True(t, cfg.TransactionPerMigration)
	assert.True(t, cfg.Timestamps)
	assert.Equal(t, "ix_{table}_{columns}", cfg.Naming.IndexPattern)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `backend: postgres
dsn: postgres://app@localhost/appdb
schema: public
strict_mode: true
lock_ttl: 30s
log_format: text
type_overrides:
  bigint: BIGSERIAL
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Backend)
	assert.Equal(t, "public", cfg.Schema)
	assert.True(t, cfg.StrictMode)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, "BIGSERIAL", cfg.TypeOverrides["bigint"])
	// untouched keys keep their defaults
	assert.True(t, cfg.PluralizeTables)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `backend: mysql
dsn: app:secret@tcp(localhost:3306)/appdb
`)
	t.Setenv("SCHEMASYNC_DSN", "app:other@tcp(db:3306)/appdb")
	t.Setenv("SCHEMASYNC_STRICT_MODE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "app:other@tcp(db:3306)/appdb", cfg.DSN)
	assert.True(t, cfg.StrictMode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.DSN = "file:app.db"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown backend", func(c *Config) { c.Backend = "oracle" }, false},
		{"empty dsn", func(c *Config) { c.DSN = "" }, false},
		{"empty history table", func(c *Config) { c.HistoryTable = "" }, false},
		{"zero lock ttl", func(c *Config) { c.LockTTL = 0 }, false},
		{"bad log format", func(c *Config) { c.LogFormat = "logfmt" }, false},
		{"strict with removals", func(c *Config) { c.StrictMode = true; c.AllowTableRemoval = true }, false},
		{"backup without command", func(c *Config) { c.BackupBeforeMigrate = true }, false},
		{"backup with command", func(c *Config) {
			c.BackupBeforeMigrate = true
			c.BackupCommand = "sqlite3 app.db .backup"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

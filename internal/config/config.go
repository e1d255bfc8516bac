// Package config loads runtime settings from a YAML file with environment
// overrides. A .env file next to the process is honored when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full runtime configuration.
type Config struct {
	// Backend is the target database flavor: postgres, mysql or sqlite.
	Backend string `yaml:"backend"`
	// DSN is the connection string for the target database.
	DSN string `yaml:"dsn"`
	// Schema is the namespace to introspect, when the backend has one.
	Schema string `yaml:"schema"`
	// SchemaFile, when set, loads the desired schema from YAML instead of
	// the in-code registry.
	SchemaFile string `yaml:"schema_file"`

	StrictMode         bool `yaml:"strict_mode"`
	AllowColumnRemoval bool `yaml:"allow_column_removal"`
	AllowTableRemoval  bool `yaml:"allow_table_removal"`

	DefaultNullable  bool `yaml:"default_nullable"`
	PluralizeTables  bool `yaml:"pluralize_tables"`
	IndexForeignKeys bool `yaml:"index_foreign_keys"`
	Timestamps       bool `yaml:"timestamps"`

	TransactionPerMigration bool   `yaml:"transaction_per_migration"`
	DryRun                  bool   `yaml:"dry_run"`
	BackupBeforeMigrate     bool   `yaml:"backup_before_migrate"`
	BackupCommand           string `yaml:"backup_command"`

	HistoryTable string        `yaml:"history_table"`
	LockTTL      time.Duration `yaml:"lock_ttl"`

	// TypeOverrides maps a field kind to a verbatim native type.
	TypeOverrides map[string]string `yaml:"type_overrides"`

	Naming NamingConfig `yaml:"naming"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ListenAddr string `yaml:"listen_addr"`
}

// NamingConfig mirrors the identifier derivation settings.
type NamingConfig struct {
	TableStyle        string `yaml:"table_style"`
	ColumnStyle       string `yaml:"column_style"`
	IndexPattern      string `yaml:"index_pattern"`
	ConstraintPattern string `yaml:"constraint_pattern"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend:                 "sqlite",
		PluralizeTables:         true,
		IndexForeignKeys:        true,
		Timestamps:              true,
		TransactionPerMigration: true,
		HistoryTable:            "schemasync_history",
		LockTTL:                 10 * time.Minute,
		Naming: NamingConfig{
			TableStyle:        "snake_case",
			ColumnStyle:       "snake_case",
			IndexPattern:      "ix_{table}_{columns}",
			ConstraintPattern: "fk_{table}_{column}",
		},
		LogLevel:   "info",
		LogFormat:  "json",
		ListenAddr: ":8080",
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	// failure to find a .env file is not an error
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Backend, "SCHEMASYNC_BACKEND")
	setString(&c.DSN, "SCHEMASYNC_DSN")
	setString(&c.Schema, "SCHEMASYNC_SCHEMA")
	setString(&c.SchemaFile, "SCHEMASYNC_SCHEMA_FILE")
	setString(&c.HistoryTable, "SCHEMASYNC_HISTORY_TABLE")
	setString(&c.LogLevel, "SCHEMASYNC_LOG_LEVEL")
	setString(&c.LogFormat, "SCHEMASYNC_LOG_FORMAT")
	setString(&c.ListenAddr, "SCHEMASYNC_LISTEN_ADDR")
	setString(&c.BackupCommand, "SCHEMASYNC_BACKUP_COMMAND")
	setBool(&c.StrictMode, "SCHEMASYNC_STRICT_MODE")
	setBool(&c.AllowColumnRemoval, "SCHEMASYNC_ALLOW_COLUMN_REMOVAL")
	setBool(&c.AllowTableRemoval, "SCHEMASYNC_ALLOW_TABLE_REMOVAL")
	setBool(&c.DryRun, "SCHEMASYNC_DRY_RUN")
	setBool(&c.BackupBeforeMigrate, "SCHEMASYNC_BACKUP_BEFORE_MIGRATE")
	setBool(&c.TransactionPerMigration, "SCHEMASYNC_TRANSACTION_PER_MIGRATION")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

// Validate rejects configurations that cannot produce a working run.
func (c Config) Validate() error {
	switch c.Backend {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.HistoryTable == "" {
		return fmt.Errorf("%w: history_table must not be empty", ErrInvalidConfig)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("%w: lock_ttl must be positive", ErrInvalidConfig)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log_format must be json or text", ErrInvalidConfig)
	}
	if c.StrictMode && (c.AllowColumnRemoval || c.AllowTableRemoval) {
		return fmt.Errorf("%w: strict_mode forbids removal allowances", ErrInvalidConfig)
	}
	if c.BackupBeforeMigrate && c.BackupCommand == "" {
		return fmt.Errorf("%w: backup_before_migrate requires backup_command", ErrInvalidConfig)
	}
	return nil
}

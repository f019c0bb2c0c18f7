// Package config loads process configuration and initializes the global
// logger. Deployment concerns live here (connection strings, directories,
// addresses); reconciliation tunables live in the profile file owned by
// internal/reconcile.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Radar    RadarConfig    `yaml:"radar" mapstructure:"radar"`
	UKRDC    UKRDCConfig    `yaml:"ukrdc" mapstructure:"ukrdc"`
	RR       RRConfig       `yaml:"rr" mapstructure:"rr"`
	NHSBT    NHSBTConfig    `yaml:"nhsbt" mapstructure:"nhsbt"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
	Profile  ProfileConfig  `yaml:"profile" mapstructure:"profile"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// RadarConfig configures the radar canonical store, which also hosts the
// run log and the failed-row audit table.
type RadarConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// UKRDCConfig configures the UKRDC data warehouse connection.
type UKRDCConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RRConfig configures the UK Renal Registry SQL Server connection. The
// registry is shared infrastructure, so chunked pulls are rate limited.
type RRConfig struct {
	DatabaseURL      string  `yaml:"database_url" mapstructure:"database_url"`
	QueriesPerSecond float64 `yaml:"queries_per_second" mapstructure:"queries_per_second"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
}

// NHSBTConfig configures the quarterly NHSBT list import.
type NHSBTConfig struct {
	FTPURL         string `yaml:"ftp_url" mapstructure:"ftp_url"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SourceGroupID  int64  `yaml:"source_group_id" mapstructure:"source_group_id"`
	StagingTable   string `yaml:"staging_table" mapstructure:"staging_table"`
	DownloadDir    string `yaml:"download_dir" mapstructure:"download_dir"`
	KeepDownloaded bool   `yaml:"keep_downloaded" mapstructure:"keep_downloaded"`
}

// AuditConfig configures the per-run xlsx audit workbooks.
type AuditConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// ProfileConfig locates the reconciliation profile file. An empty path
// means code defaults.
type ProfileConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the read-only ops endpoint.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// RetryConfig configures write retry behavior, mapped onto
// resilience.RetryConfig by the store.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// SnapshotConfig configures sqlite capture of run inputs.
type SnapshotConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/timeline-sync")

	// Environment
	v.SetEnvPrefix("TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("audit.dir", "audit")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("snapshot.dir", "snapshots")
	v.SetDefault("rr.queries_per_second", 2.0)
	v.SetDefault("rr.burst", 1)
	v.SetDefault("nhsbt.timeout_secs", 30)
	v.SetDefault("nhsbt.source_group_id", 201)
	v.SetDefault("nhsbt.staging_table", "nhsbt_staging")
	v.SetDefault("nhsbt.download_dir", "/tmp/timeline-sync")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/welthee/qcaller/internal/announce"
)

const (
	announcerKindsKey    = "announcer.kinds"
	announcerTemplateKey = "announcer.template"
	announcerLangKey     = "announcer.lang"
	announcerTimeoutKey  = "announcer.timeout"
	announcerPostgresKey = "announcer.postgres"

	AnnouncerKindLog      = "log"
	AnnouncerKindPostgres = "postgres"
)

type AnnouncerConfig struct {
	Kinds    []string
	Template string
	Lang     string
	Timeout  time.Duration

	Postgres *PostgreSQLConfig
}

// Enabled reports whether the announcer kind is configured.
func (c *AnnouncerConfig) Enabled(kind string) bool {
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}

	return false
}

type PostgreSQLConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DatabaseName  string
	MigrationsDir string
}

func setAnnouncerDefaults() {
	viper.SetDefault(announcerKindsKey, []string{AnnouncerKindLog})
	viper.SetDefault(announcerTemplateKey, announce.DefaultTemplate)
	viper.SetDefault(announcerLangKey, announce.DefaultLang)
	viper.SetDefault(announcerTimeoutKey, announce.DefaultTimeout)
}

func newAnnouncerConfig(cfg *Config) error {
	announcerCfg := &AnnouncerConfig{
		Kinds:    viper.GetStringSlice(announcerKindsKey),
		Template: viper.GetString(announcerTemplateKey),
		Lang:     viper.GetString(announcerLangKey),
		Timeout:  viper.GetDuration(announcerTimeoutKey),
	}

	if announcerCfg.Timeout <= 0 {
		return fmt.Errorf("announcer_timeout=%s: %w", announcerCfg.Timeout, ErrInvalidConfigValue)
	}

	for _, kind := range announcerCfg.Kinds {
		switch kind {
		case AnnouncerKindLog:
		case AnnouncerKindPostgres:
			postgresCfg, err := newPostgresConfig()
			if err != nil {
				return err
			}
			announcerCfg.Postgres = postgresCfg
		default:
			return fmt.Errorf("announcer_kind=%s not supported: %w", kind, ErrInvalidConfigValue)
		}
	}

	cfg.Announcer = announcerCfg

	return nil
}

func newPostgresConfig() (*PostgreSQLConfig, error) {
	var cfg PostgreSQLConfig
	if err := viper.UnmarshalKey(announcerPostgresKey, &cfg); err != nil {
		return nil, fmt.Errorf("announcer_kind=%s: %w", AnnouncerKindPostgres, ErrInvalidConfigValue)
	}

	if cfg.Host == "" || cfg.DatabaseName == "" {
		return nil, fmt.Errorf("announcer_kind=%s requires host and databaseName: %w",
			AnnouncerKindPostgres, ErrInvalidConfigValue)
	}

	if cfg.Port == 0 {
		const defaultPort = 5432
		cfg.Port = defaultPort
	}

	if cfg.MigrationsDir == "" {
		const defaultDir = "file://./scripts/psql/migrations"
		cfg.MigrationsDir = defaultDir
	}

	return &cfg, nil
}

package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Queue     *QueueConfig
	Announcer *AnnouncerConfig
	HTTP      *HTTPConfig

	Logger *LoggerConfig
}

var ErrInvalidConfigValue = errors.New("configuration value is invalid")

const envPrefix = "QCALLER"

func NewConfigFromFile() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/opt/qcaller/config")
	viper.AddConfigPath("$HOME/.config/qcaller")
	viper.AddConfigPath(".config")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	return newConfig()
}

func setDefaults() {
	setLoggerDefaults()
	setQueueDefaults()
	setAnnouncerDefaults()
	setHTTPDefaults()
}

func newConfig() (*Config, error) {
	cfg := &Config{}

	loggerCfg, err := newLoggerConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logger = loggerCfg

	queueCfg, err := newQueueConfig()
	if err != nil {
		return nil, err
	}
	cfg.Queue = queueCfg

	if err := newAnnouncerConfig(cfg); err != nil {
		return nil, err
	}

	httpCfg, err := newHTTPConfig()
	if err != nil {
		return nil, err
	}
	cfg.HTTP = httpCfg

	return cfg, nil
}

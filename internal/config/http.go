package config

import (
	"fmt"

	"github.com/spf13/viper"
)

const (
	httpPortKey       = "http.port"
	httpHealthPortKey = "http.healthPort"
)

type HTTPConfig struct {
	Port       int
	HealthPort int
}

func setHTTPDefaults() {
	viper.SetDefault(httpPortKey, 5010)
	viper.SetDefault(httpHealthPortKey, 5001)
}

func newHTTPConfig() (*HTTPConfig, error) {
	cfg := &HTTPConfig{
		Port:       viper.GetInt(httpPortKey),
		HealthPort: viper.GetInt(httpHealthPortKey),
	}

	if !validPort(cfg.Port) {
		return nil, fmt.Errorf("http_port=%d: %w", cfg.Port, ErrInvalidConfigValue)
	}
	if !validPort(cfg.HealthPort) || cfg.HealthPort == cfg.Port {
		return nil, fmt.Errorf("http_health_port=%d: %w", cfg.HealthPort, ErrInvalidConfigValue)
	}

	return cfg, nil
}

func validPort(port int) bool {
	return port > 0 && port < 65536
}

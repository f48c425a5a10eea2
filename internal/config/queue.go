package config

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/viper"
	"github.com/welthee/qcaller/internal/queue"
)

const (
	queuePrefixKey           = "queue.prefix"
	queueRetryLimitKey       = "queue.retryLimit"
	queueAnnounceDurationKey = "queue.announceDuration"
)

type QueueConfig struct {
	Settings queue.Settings
}

func setQueueDefaults() {
	viper.SetDefault(queuePrefixKey, queue.DefaultPrefix)
	viper.SetDefault(queueRetryLimitKey, queue.DefaultRetryLimit)
	viper.SetDefault(queueAnnounceDurationKey, queue.DefaultAnnounceDuration)
}

func newQueueConfig() (*QueueConfig, error) {
	prefix := viper.GetString(queuePrefixKey)
	if utf8.RuneCountInString(prefix) != 1 {
		return nil, fmt.Errorf("queue_prefix=%q: %w", prefix, ErrInvalidConfigValue)
	}

	retryLimit := viper.GetInt(queueRetryLimitKey)
	if retryLimit < queue.MinRetryLimit || retryLimit > queue.MaxRetryLimit {
		return nil, fmt.Errorf("queue_retry_limit=%d: %w", retryLimit, ErrInvalidConfigValue)
	}

	announceDuration := viper.GetDuration(queueAnnounceDurationKey)
	if announceDuration <= 0 {
		return nil, fmt.Errorf("queue_announce_duration=%s: %w", announceDuration, ErrInvalidConfigValue)
	}

	return &QueueConfig{
		Settings: queue.Settings{
			Prefix:           prefix,
			RetryLimit:       retryLimit,
			AnnounceDuration: announceDuration,
		},
	}, nil
}

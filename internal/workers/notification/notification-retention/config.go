// internal/workers/notification/notification-retention/config.go
package notificationretention

import (
	"time"

	"tgminiapp-notifier/internal/common/config"
)

type Config struct {
	Timeout           time.Duration
	DefaultMaxAgeDays int
}

func LoadConfig(wcfg config.WorkerConfig, retention config.RetentionConfig) *Config {
	cfg := &Config{Timeout: 5 * time.Minute, DefaultMaxAgeDays: retention.MaxAgeDays}
	if wcfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	if cfg.DefaultMaxAgeDays <= 0 {
		cfg.DefaultMaxAgeDays = 30
	}
	return cfg
}

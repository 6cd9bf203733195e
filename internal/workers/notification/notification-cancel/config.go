// internal/workers/notification/notification-cancel/config.go
package notificationcancel

import (
	"time"

	"tgminiapp-notifier/internal/common/config"
)

type Config struct {
	Timeout time.Duration
	// IgnoreTerminal completes the job instead of raising CANCEL_REJECTED
	// when the notification already reached a terminal state.
	IgnoreTerminal bool
}

func LoadConfig(wcfg config.WorkerConfig) *Config {
	cfg := &Config{Timeout: 15 * time.Second, IgnoreTerminal: true}
	if wcfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	return cfg
}

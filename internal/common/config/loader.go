// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top,
// expands ${VAR} placeholders, then applies defaults and validation.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finalize(v)
}

// LoadFromFile reads exactly one file, used by the CLI tools.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finalize(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finalize(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
			v.Set(key, expanded)
		}
	}
}

// overrideEmptyConfig fills secrets that are commonly supplied only as plain env vars.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Channels.Telegram.BotToken == "" {
		cfg.Channels.Telegram.BotToken = os.Getenv("BOT_TOKEN")
	}
	if cfg.Database.Mongo.URI == "" {
		cfg.Database.Mongo.URI = os.Getenv("MONGODB_URI")
	}
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Channels.Email.SMTP.Password == "" {
		cfg.Channels.Email.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "notifier"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "mongo"
	}

	if cfg.Database.Mongo.Database == "" {
		cfg.Database.Mongo.Database = "podcast_app"
	}
	if cfg.Database.Mongo.Collection == "" {
		cfg.Database.Mongo.Collection = "notifications"
	}
	if cfg.Database.Mongo.ConnectTimeout == 0 {
		cfg.Database.Mongo.ConnectTimeout = 10000
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if cfg.Channels.Telegram.BaseURL == "" {
		cfg.Channels.Telegram.BaseURL = "https://api.telegram.org"
	}
	if cfg.Channels.Telegram.Timeout == 0 {
		cfg.Channels.Telegram.Timeout = 10000
	}
	if cfg.Channels.Email.Transport == "" {
		cfg.Channels.Email.Transport = "ses"
	}
	if cfg.Channels.Email.SMTP.Port == 0 {
		cfg.Channels.Email.SMTP.Port = 587
	}
	if cfg.Channels.Directory.CacheTTL == 0 {
		cfg.Channels.Directory.CacheTTL = 300000
	}
	if cfg.Channels.AWSRegion == "" {
		cfg.Channels.AWSRegion = "us-east-1"
	}

	if cfg.Dispatcher.ChannelTimeout == 0 {
		cfg.Dispatcher.ChannelTimeout = 10000
	}
	if cfg.Dispatcher.DefaultMaxRetries == 0 {
		cfg.Dispatcher.DefaultMaxRetries = 3
	}
	if cfg.Dispatcher.BackoffBase == 0 {
		cfg.Dispatcher.BackoffBase = 60000
	}
	if cfg.Dispatcher.BackoffMax == 0 {
		cfg.Dispatcher.BackoffMax = 1800000
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 30000
	}
	if cfg.Scheduler.ItemDelay == 0 {
		cfg.Scheduler.ItemDelay = 200
	}
	if cfg.Scheduler.StaleClaimTTL == 0 {
		cfg.Scheduler.StaleClaimTTL = 600000
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = cfg.Scheduler.Interval * 2
	}

	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 1024
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 8
	}

	if cfg.Retention.MaxAgeDays == 0 {
		cfg.Retention.MaxAgeDays = 30
	}

	if cfg.Audit.Index == "" {
		cfg.Audit.Index = "notification-attempts"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Store.Driver {
	case "mongo":
		if cfg.Database.Mongo.URI == "" {
			return fmt.Errorf("database.mongo.uri is required for store.driver=mongo")
		}
	case "postgres":
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database are required for store.driver=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be one of mongo, postgres, memory; got %q", cfg.Store.Driver)
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}

	if cfg.Channels.Email.Enabled {
		switch cfg.Channels.Email.Transport {
		case "ses":
		case "smtp":
			if cfg.Channels.Email.SMTP.Host == "" {
				return fmt.Errorf("channels.email.smtp.host is required for smtp transport")
			}
		default:
			return fmt.Errorf("channels.email.transport must be ses or smtp; got %q", cfg.Channels.Email.Transport)
		}
		if cfg.Channels.Email.FromEmail == "" {
			return fmt.Errorf("channels.email.from_email is required when email is enabled")
		}
	}

	if (cfg.Channels.Email.Enabled || cfg.Channels.Push.Enabled) && cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required to resolve email and push recipients")
	}

	if cfg.Dispatcher.ChannelTimeout <= 0 {
		return fmt.Errorf("dispatcher.channel_timeout must be positive; got %d", cfg.Dispatcher.ChannelTimeout)
	}
	// A round takes at most one channel timeout for the sends and one for the
	// persist; a shorter TTL lets the sweep release a claim that is still live.
	if cfg.Scheduler.StaleClaimTTL <= 2*cfg.Dispatcher.ChannelTimeout {
		return fmt.Errorf("scheduler.stale_claim_ttl (%dms) must exceed twice dispatcher.channel_timeout (%dms)",
			cfg.Scheduler.StaleClaimTTL, cfg.Dispatcher.ChannelTimeout)
	}

	if cfg.Scheduler.LockEnabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when scheduler.lock_enabled is set")
	}

	if cfg.Audit.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when audit is enabled")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint is required when tracing is enabled")
	}

	return nil
}

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}

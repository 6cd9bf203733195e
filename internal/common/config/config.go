// internal/common/config/config.go
package config

import "fmt"

type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Camunda    CamundaConfig           `mapstructure:"camunda"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Store      StoreConfig             `mapstructure:"store"`
	Workers    map[string]WorkerConfig `mapstructure:"workers"`
	Channels   ChannelsConfig          `mapstructure:"channels"`
	Dispatcher DispatcherConfig        `mapstructure:"dispatcher"`
	Scheduler  SchedulerConfig         `mapstructure:"scheduler"`
	Queue      QueueConfig             `mapstructure:"queue"`
	Retention  RetentionConfig         `mapstructure:"retention"`
	Audit      AuditConfig             `mapstructure:"audit"`
	Server     ServerConfig            `mapstructure:"server"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Tracing    TracingConfig           `mapstructure:"tracing"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	ConnectTimeout int    `mapstructure:"connect_timeout"` // milliseconds
	MaxPoolSize    uint64 `mapstructure:"max_pool_size"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig selects the notification store backend: mongo, postgres or memory.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type ChannelsConfig struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Email     EmailConfig     `mapstructure:"email"`
	Push      PushConfig      `mapstructure:"push"`
	InApp     InAppConfig     `mapstructure:"in_app"`
	Directory DirectoryConfig `mapstructure:"directory"`
	AWSRegion string          `mapstructure:"aws_region"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	BaseURL  string `mapstructure:"base_url"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

type EmailConfig struct {
	Enabled   bool       `mapstructure:"enabled"`
	Transport string     `mapstructure:"transport"` // ses | smtp
	FromEmail string     `mapstructure:"from_email"`
	SMTP      SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type PushConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type InAppConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DirectoryConfig struct {
	CacheTTL int `mapstructure:"cache_ttl"` // milliseconds
}

type DispatcherConfig struct {
	ChannelTimeout    int `mapstructure:"channel_timeout"` // milliseconds
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	BackoffBase       int `mapstructure:"backoff_base"` // milliseconds
	BackoffMax        int `mapstructure:"backoff_max"`  // milliseconds
}

type SchedulerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Interval      int  `mapstructure:"interval"`        // milliseconds
	ItemDelay     int  `mapstructure:"item_delay"`      // milliseconds
	BatchLimit    int  `mapstructure:"batch_limit"`     // 0 means unbounded
	StaleClaimTTL int  `mapstructure:"stale_claim_ttl"` // milliseconds
	LockEnabled   bool `mapstructure:"lock_enabled"`
	LockTTL       int  `mapstructure:"lock_ttl"` // milliseconds
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
	Workers  int `mapstructure:"workers"`
}

type RetentionConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

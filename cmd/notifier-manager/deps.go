// cmd/notifier-manager/deps.go
package main

import (
	"context"
	"fmt"
	"time"

	"tgminiapp-notifier/internal/api"
	awsclients "tgminiapp-notifier/internal/common/aws"
	"tgminiapp-notifier/internal/common/config"
	"tgminiapp-notifier/internal/common/database"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"
	"tgminiapp-notifier/internal/notification/channel"
	"tgminiapp-notifier/internal/notification/store"

	"go.uber.org/zap"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// infra holds every connection the process opened so shutdown can close them.
type infra struct {
	mongo    *database.MongoClient
	postgres *database.PostgresClient
	redis    *database.RedisClient
	es       *database.ElasticsearchClient
	checks   map[string]api.ReadinessCheck
}

func (i *infra) Close(log *zap.Logger) {
	if i.mongo != nil {
		if err := i.mongo.Close(); err != nil {
			log.Error("closing mongo", zap.Error(err))
		}
	}
	if i.postgres != nil {
		if err := i.postgres.Close(); err != nil {
			log.Error("closing postgres", zap.Error(err))
		}
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Error("closing redis", zap.Error(err))
		}
	}
}

func needsPostgres(cfg *config.Config) bool {
	return cfg.Store.Driver == "postgres" || cfg.Channels.Email.Enabled || cfg.Channels.Push.Enabled
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Database.Redis.Address != "" || cfg.Scheduler.LockEnabled
}

func connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*infra, error) {
	in := &infra{checks: map[string]api.ReadinessCheck{}}

	if cfg.Store.Driver == "mongo" {
		err := retryWithBackoff(func() error {
			var err error
			in.mongo, err = database.NewMongo(ctx, cfg.Database.Mongo)
			if err != nil {
				return err
			}
			return in.mongo.Ping(ctx)
		}, 15, 2*time.Second, log, "MongoDB connection")
		if err != nil {
			return in, err
		}
		in.checks["mongo"] = in.mongo.Ping
		log.Info("MongoDB connected successfully")
	}

	if needsPostgres(cfg) {
		err := retryWithBackoff(func() error {
			var err error
			in.postgres, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return in.postgres.Ping(ctx)
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			return in, err
		}
		in.checks["postgres"] = in.postgres.Ping
		log.Info("PostgreSQL connected successfully")
	}

	if needsRedis(cfg) {
		err := retryWithBackoff(func() error {
			var err error
			in.redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return in.redis.Ping(ctx)
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			return in, err
		}
		in.checks["redis"] = in.redis.Ping
		log.Info("Redis connected successfully")
	}

	if cfg.Audit.Enabled {
		err := retryWithBackoff(func() error {
			var err error
			in.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return in.es.Ping(ctx)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			return in, err
		}
		log.Info("Elasticsearch connected successfully")
	}

	return in, nil
}

func openStore(ctx context.Context, cfg *config.Config, in *infra) (store.Store, error) {
	switch cfg.Store.Driver {
	case "mongo":
		st := store.NewMongoStore(in.mongo.Collection(cfg.Database.Mongo.Collection))
		if err := st.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return st, nil
	case "postgres":
		if err := in.postgres.Migrate(ctx, store.Schema...); err != nil {
			return nil, err
		}
		return store.NewPostgresStore(in.postgres.GetDB()), nil
	case "memory":
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func buildSenders(ctx context.Context, cfg *config.Config, in *infra, log logger.Logger) (channel.Registry, error) {
	senders := channel.Registry{}
	ch := cfg.Channels

	if ch.Telegram.Enabled {
		senders[models.ChannelChatBot] = channel.NewTelegramSender(channel.TelegramConfig{
			BotToken: ch.Telegram.BotToken,
			BaseURL:  ch.Telegram.BaseURL,
			Timeout:  config.GetDuration(ch.Telegram.Timeout),
		})
	}

	if ch.InApp.Enabled {
		senders[models.ChannelInApp] = channel.NewInAppSender()
	}

	if !ch.Email.Enabled && !ch.Push.Enabled {
		return senders, nil
	}

	var directory channel.Directory = channel.NewPostgresDirectory(in.postgres.GetDB())
	if in.redis != nil {
		directory = channel.NewCachedDirectory(directory, in.redis.GetClient(),
			config.GetDuration(ch.Directory.CacheTTL), log)
	}

	if ch.Email.Enabled {
		var transport channel.Transport
		switch ch.Email.Transport {
		case "smtp":
			transport = channel.NewSMTPTransport(ch.Email.SMTP.Host, ch.Email.SMTP.Port, ch.Email.SMTP.Username, ch.Email.SMTP.Password)
		default:
			sesClient, err := awsclients.NewSESClient(ctx, ch.AWSRegion)
			if err != nil {
				return nil, fmt.Errorf("create SES client: %w", err)
			}
			transport = channel.NewSESTransport(sesClient)
		}
		senders[models.ChannelEmail] = channel.NewEmailSender(directory, transport, ch.Email.FromEmail)
	}

	if ch.Push.Enabled {
		snsClient, err := awsclients.NewSNSClient(ctx, ch.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("create SNS client: %w", err)
		}
		senders[models.ChannelPush] = channel.NewPushSender(directory, snsClient)
	}

	return senders, nil
}

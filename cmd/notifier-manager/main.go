// cmd/notifier-manager/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tgminiapp-notifier/internal/api"
	"tgminiapp-notifier/internal/common/camunda"
	"tgminiapp-notifier/internal/common/config"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/observability"
	"tgminiapp-notifier/internal/common/tracing"
	"tgminiapp-notifier/internal/models"
	"tgminiapp-notifier/internal/notification/audit"
	"tgminiapp-notifier/internal/notification/dispatcher"
	"tgminiapp-notifier/internal/notification/scheduler"
	"tgminiapp-notifier/internal/notification/service"

	ncancel "tgminiapp-notifier/internal/workers/notification/notification-cancel"
	ncreate "tgminiapp-notifier/internal/workers/notification/notification-create"
	nbulk "tgminiapp-notifier/internal/workers/notification/notification-create-bulk"
	nretention "tgminiapp-notifier/internal/workers/notification/notification-retention"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepLockKey = "notifier:sweep-lock"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console", "stdout")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notifier manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("store", cfg.Store.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(cfg.Tracing, cfg.App.Name, cfg.App.Version)
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	in, err := connect(ctx, cfg, zapLog)
	if err != nil {
		in.Close(zapLog)
		zapLog.Fatal("infrastructure connection failed", zap.Error(err))
	}
	defer in.Close(zapLog)

	st, err := openStore(ctx, cfg, in)
	if err != nil {
		zapLog.Fatal("store init failed", zap.Error(err))
	}

	senders, err := buildSenders(ctx, cfg, in, log)
	if err != nil {
		zapLog.Fatal("channel senders init failed", zap.Error(err))
	}
	channels := make([]string, 0, len(senders))
	for c := range senders {
		channels = append(channels, string(c))
	}
	zapLog.Info("Channel senders configured", zap.Strings("channels", channels))

	dispatchOpts := []dispatcher.Option{}
	if in.es != nil {
		dispatchOpts = append(dispatchOpts, dispatcher.WithRecorder(audit.NewIndexer(in.es.Client, cfg.Audit.Index, log)))
	}
	dispatch := dispatcher.New(st, senders, dispatcher.Config{
		ChannelTimeout: config.GetDuration(cfg.Dispatcher.ChannelTimeout),
		Backoff: models.ExponentialBackoff(
			config.GetDuration(cfg.Dispatcher.BackoffBase),
			config.GetDuration(cfg.Dispatcher.BackoffMax),
		),
	}, log, dispatchOpts...)

	queue := scheduler.NewQueue(dispatch, cfg.Queue.Capacity, cfg.Queue.Workers, log)
	// In-flight rounds finish during shutdown; Stop drains the queue.
	queue.Start(context.Background())

	svc := service.New(st, queue, service.Config{DefaultMaxRetries: cfg.Dispatcher.DefaultMaxRetries}, log,
		service.WithObservability(obs),
		service.WithDispatcher(dispatch),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		schedOpts := []scheduler.Option{scheduler.WithObservability(obs)}
		if cfg.Scheduler.LockEnabled {
			lock := scheduler.NewRedisLock(in.redis.GetClient(), sweepLockKey, config.GetDuration(cfg.Scheduler.LockTTL))
			schedOpts = append(schedOpts, scheduler.WithLock(lock))
		}
		sched := scheduler.New(st, dispatch, scheduler.Config{
			Interval:      config.GetDuration(cfg.Scheduler.Interval),
			ItemDelay:     config.GetDuration(cfg.Scheduler.ItemDelay),
			BatchLimit:    cfg.Scheduler.BatchLimit,
			StaleClaimTTL: config.GetDuration(cfg.Scheduler.StaleClaimTTL),
		}, log, schedOpts...)

		g.Go(func() error {
			return sched.Run(gctx)
		})
	} else {
		zapLog.Warn("Retry scheduler disabled; pending notifications are only dispatched on creation")
	}

	var workers *camunda.WorkerGroup
	if cfg.Camunda.Enabled {
		var zeebe *camunda.Client
		err := retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(ctx, &camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		in.checks["zeebe"] = zeebe.HealthCheck
		zapLog.Info("Zeebe client connected successfully")

		workers = camunda.NewWorkerGroup(zeebe.GetClient(), log)
		registerWorkers(workers, cfg, svc, log)
	}

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.NewRouter(svc, in.checks, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, stopping...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("HTTP server shutdown failed", zap.Error(err))
		}
		if workers != nil {
			workers.Stop(shutdownCtx)
		}
		queue.Stop()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("observability shutdown failed", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			zapLog.Error("tracing shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("notifier manager stopped with error", zap.Error(err))
		return
	}
	zapLog.Info("Notifier manager stopped")
}

func registerWorkers(workers *camunda.WorkerGroup, cfg *config.Config, svc *service.Service, log logger.Logger) {
	if wcfg := config.GetWorkerConfig(cfg, ncreate.TaskType); wcfg.Enabled {
		handler := ncreate.NewHandler(ncreate.LoadConfig(wcfg), svc, log)
		workers.Start(ncreate.TaskType, wcfg, handler.Handle)
	}

	if wcfg := config.GetWorkerConfig(cfg, nbulk.TaskType); wcfg.Enabled {
		handler := nbulk.NewHandler(nbulk.LoadConfig(wcfg), svc, log)
		workers.Start(nbulk.TaskType, wcfg, handler.Handle)
	}

	if wcfg := config.GetWorkerConfig(cfg, ncancel.TaskType); wcfg.Enabled {
		handler := ncancel.NewHandler(ncancel.LoadConfig(wcfg), svc, log)
		workers.Start(ncancel.TaskType, wcfg, handler.Handle)
	}

	if wcfg := config.GetWorkerConfig(cfg, nretention.TaskType); wcfg.Enabled {
		handler := nretention.NewHandler(nretention.LoadConfig(wcfg, cfg.Retention), svc, log)
		workers.Start(nretention.TaskType, wcfg, handler.Handle)
	}

	log.Info("Zeebe workers registered", map[string]interface{}{"running": workers.Running()})
}

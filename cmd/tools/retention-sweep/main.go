// cmd/tools/retention-sweep/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"tgminiapp-notifier/internal/common/config"
	"tgminiapp-notifier/internal/common/database"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"
	"tgminiapp-notifier/internal/notification/service"
	"tgminiapp-notifier/internal/notification/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: configs/config.yaml lookup)")
	maxAgeDays := flag.Int("max-age-days", 0, "Delete terminal notifications older than N days (default: retention.max_age_days)")
	dryRun := flag.Bool("dry-run", false, "Print the cutoff without deleting anything")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall time limit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	days := cfg.Retention.MaxAgeDays
	if *maxAgeDays != 0 {
		days = *maxAgeDays
	}
	if days <= 0 {
		fmt.Printf("Error: max-age-days must be positive, got %d\n", days)
		os.Exit(1)
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)

	cutoff := service.RetentionCutoff(time.Now().UTC(), days)
	fmt.Printf("Retention: %d days, cutoff %s, statuses %s\n", days, cutoff.Format(time.RFC3339), statusList())

	if *dryRun {
		fmt.Println("Dry run: nothing deleted.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	svc := service.New(st, nil, service.Config{DefaultMaxRetries: cfg.Dispatcher.DefaultMaxRetries}, log)
	deleted, err := svc.RetentionSweep(ctx, days)
	if err != nil {
		fmt.Printf("Error running retention sweep: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %d notifications.\n", deleted)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "mongo":
		mc, err := database.NewMongo(ctx, cfg.Database.Mongo)
		if err != nil {
			return nil, nil, err
		}
		if err := mc.Ping(ctx); err != nil {
			mc.Close()
			return nil, nil, err
		}
		return store.NewMongoStore(mc.Collection(cfg.Database.Mongo.Collection)), func() { mc.Close() }, nil
	case "postgres":
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return store.NewPostgresStore(pg.GetDB()), func() { pg.Close() }, nil
	}
	return nil, nil, fmt.Errorf("store driver %q has nothing to sweep", cfg.Store.Driver)
}

func statusList() string {
	names := make([]string, len(models.TerminalStatuses))
	for i, s := range models.TerminalStatuses {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}

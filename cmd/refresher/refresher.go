package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/abelzeko/water-balance/internal/app"
	"github.com/abelzeko/water-balance/internal/config"
	"github.com/abelzeko/water-balance/internal/logging"
	"github.com/abelzeko/water-balance/internal/refresher"
)

func main() {
	logger := logging.New(os.Stdout, logging.ParseLevel(os.Getenv("WATERBALANCE_LOG_LEVEL")))
	logger.Info("Starting Water Balance refresher...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("WATERBALANCE_CONFIG"))
	if err != nil {
		logger.Fatal("Failed to load configuration", "err", err)
	}
	logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Refresher failed", "err", err)
	}
	logger.Info("Refresher stopped")
}

// run refreshes the cache immediately and then on the configured schedule
// until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	// The refresher only makes sense with a cache to fill.
	cfg.Cache.Enabled = true

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Authenticate(ctx); err != nil {
		return err
	}

	r := refresher.New(a.UseCase, refresher.Options{
		Schedule:   cfg.Refresh.Schedule,
		Groups:     cfg.Refresh.Groups,
		DateLayout: cfg.Refresh.StatDateLayout,
		Retention:  cfg.Cache.RetentionDuration(),
		Logger:     logger,
	})
	return r.Run(ctx)
}

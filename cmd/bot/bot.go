package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/abelzeko/water-balance/internal/api"
	"github.com/abelzeko/water-balance/internal/app"
	"github.com/abelzeko/water-balance/internal/config"
	"github.com/abelzeko/water-balance/internal/logging"
)

var errMissingBotToken = errors.New("TELEGRAM_BOT_TOKEN environment variable is not set")

func main() {
	logger := logging.New(os.Stdout, logging.ParseLevel(os.Getenv("WATERBALANCE_LOG_LEVEL")))
	logger.Info("Starting Water Balance bot...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("WATERBALANCE_CONFIG"))
	if err != nil {
		logger.Fatal("Failed to load configuration", "err", err)
	}
	logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Bot failed", "err", err)
	}
	logger.Info("Bot stopped")
}

// run serves Telegram updates until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if cfg.Telegram.BotToken == "" {
		return errMissingBotToken
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close()

	if err := a.Authenticate(ctx); err != nil {
		return err
	}

	telegramBot, err := api.NewTelegramBot(cfg.Telegram.BotToken, a.UseCase, cfg.Refresh.StatDateLayout, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	telegramBot.Start(ctx)
	return nil
}

// Package app wires configuration, the backend client, the snapshot cache and
// the use case together for the entry points.
package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/abelzeko/water-balance/internal/config"
	"github.com/abelzeko/water-balance/internal/entities"
	"github.com/abelzeko/water-balance/internal/integration/openai"
	"github.com/abelzeko/water-balance/internal/integration/supabase"
	"github.com/abelzeko/water-balance/internal/repository"
	"github.com/abelzeko/water-balance/internal/usecases"
)

// App holds the components shared by every entry point
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Client  *supabase.Client
	UseCase *usecases.WaterBalanceUseCase

	repo *repository.SQLiteSnapshotRepository
}

// New builds an App from cfg. The snapshot cache and the query interpreter are
// only set up when enabled in cfg.
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey,
		supabase.WithTimeout(cfg.Supabase.TimeoutDuration()),
		supabase.WithLogger(logger))

	a := &App{Config: cfg, Logger: logger, Client: client}

	var repo repository.SnapshotRepository
	if cfg.Cache.Enabled {
		r, err := repository.NewSQLiteSnapshotRepository(cfg.Cache.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot cache: %w", err)
		}
		a.repo = r
		repo = r
	}

	var interpreter openai.QueryInterpreter
	if cfg.OpenAI.APIKey != "" {
		i, err := openai.NewInterpreter(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize query interpreter: %w", err)
		}
		interpreter = i
	} else {
		logger.Debug("OPENAI_API_KEY not set, free-text queries disabled")
	}

	a.UseCase = usecases.NewWaterBalanceUseCase(client, repo, interpreter, usecases.Options{
		FunctionName: cfg.Supabase.FunctionName,
		CacheTTL:     cfg.Cache.TTLDuration(),
		RootName:     cfg.Treemap.RootName,
		MaxDepth:     cfg.Treemap.MaxDepth,
		KnownGroups:  cfg.Refresh.Groups,
		Logger:       logger,
	})
	return a, nil
}

// Authenticate establishes a session from the configured token or
// credentials. Without either, calls go out with the anonymous key. A
// configured token is checked against the backend so cached snapshots can be
// attributed to its user.
func (a *App) Authenticate(ctx context.Context) error {
	auth := a.Config.Auth
	switch {
	case auth.Token != "":
		a.Client.SetAccessToken(auth.Token)
		user, err := a.Client.GetUser(ctx)
		if err != nil {
			return fmt.Errorf("failed to verify token: %w", err)
		}
		a.Logger.Debug("Authenticated with configured token", "user", user.ID)
		return nil
	case auth.Phone != "" && auth.Password != "":
		result, err := a.UseCase.Login(ctx, entities.LoginData{Phone: auth.Phone, Password: auth.Password})
		if err != nil {
			return fmt.Errorf("failed to sign in: %w", err)
		}
		a.Logger.Debug("Authenticated with configured credentials", "user", result.User.ID)
		return nil
	default:
		a.Logger.Debug("No credentials configured, using anonymous access")
		return nil
	}
}

// Close releases the snapshot cache.
func (a *App) Close() error {
	if a.repo != nil {
		return a.repo.Close()
	}
	return nil
}

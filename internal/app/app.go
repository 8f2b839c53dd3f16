package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bananaclash/internal/config"
	"bananaclash/internal/database"
	"bananaclash/internal/models"
	"bananaclash/internal/repository"
	"bananaclash/internal/service"
	"bananaclash/internal/store"
)

// Runtime holds what every game client in a process shares
type Runtime struct {
	Config   *config.Config
	DB       *database.DB
	Puzzles  service.PuzzleSource
	Settings service.GameSettings
	log      zerolog.Logger
}

// GameSettings converts the configured game rules
func GameSettings(cfg *config.Config) (service.GameSettings, error) {
	policy, err := models.ParseAdvancePolicy(cfg.AdvancePolicy)
	if err != nil {
		return service.GameSettings{}, err
	}
	settings := service.DefaultGameSettings()
	if cfg.TotalRounds > 0 {
		settings.TotalRounds = cfg.TotalRounds
	}
	if cfg.RoundDuration > 0 {
		settings.RoundDuration = cfg.RoundDuration
	}
	settings.AdvancePolicy = policy
	return settings, nil
}

// Open connects to the shared database and applies migrations
func Open(cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	settings, err := GameSettings(cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info().Str("type", cfg.DatabaseType).Msg("Database connection established")

	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("Migrations completed successfully")

	return &Runtime{
		Config:   cfg,
		DB:       db,
		Puzzles:  service.NewPuzzleService(cfg.PuzzleAPIURL, cfg.PuzzleTimeout, log),
		Settings: settings,
		log:      log,
	}, nil
}

// NewClient opens a store session for id and returns a client that owns it
func (rt *Runtime) NewClient(ctx context.Context, id models.Identity) (*service.Client, error) {
	st, err := store.NewSQLStore(ctx, rt.DB, store.SQLOptions{
		PollInterval:  rt.Config.PollInterval,
		LeaseDuration: rt.Config.LeaseDuration,
		OnReaped:      rt.pruneRooms,
		Logger:        rt.log,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open store session: %w", models.ErrTransient, err)
	}
	return service.NewClient(service.ClientConfig{
		Identity: id,
		Store:    st,
		Puzzles:  rt.Puzzles,
		Settings: rt.Settings,
		Clock:    time.Now,
		Logger:   rt.log,
	}), nil
}

// pruneRooms deletes rooms whose last players were removed by an expired
// session's disconnect hooks
func (rt *Runtime) pruneRooms(ctx context.Context, st store.Store, removed []string) {
	if err := repository.PruneEmptyRooms(ctx, st, removed); err != nil {
		rt.log.Warn().Err(err).Msg("Failed to prune abandoned rooms")
	}
}

// Close closes the database
func (rt *Runtime) Close() error {
	return rt.DB.Close()
}

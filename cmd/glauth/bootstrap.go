package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-auth/internal/auth"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/logging"
)

// stack is the part of the service every command needs: configuration,
// a logger, and the migrated credential store behind an auth manager.
type stack struct {
	cfg  *config.Config
	log  *logging.Logger
	db   *database.DB
	auth *auth.Manager
}

// loadConfig reads the config file and builds the configured logger.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// openDatabase connects to the configured credential store.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		WALMode:      cfg.Database.WALMode,
		BusyTimeout:  cfg.Database.BusyTimeout,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "driver", db.Dialect())
	return db, nil
}

// newAuthManager wires the gorm repositories and configured hasher.
func newAuthManager(db *database.DB, cfg *config.Config, log *logging.Logger, opts ...auth.Option) (*auth.Manager, error) {
	orm, err := db.ORM(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening orm: %w", err)
	}
	hasher, err := auth.NewHasher(cfg.Auth.HashMethod, cfg.Auth.HashKey)
	if err != nil {
		return nil, fmt.Errorf("configuring password hasher: %w", err)
	}
	m, err := auth.NewManager(auth.NewGormRepositories(orm), hasher, auth.Config{
		Lifetime:      cfg.Auth.AutoLoginLifetime(),
		CookieName:    cfg.Auth.Cookie.Name,
		GCProbability: cfg.Auth.GCProbability,
	}, log.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating auth manager: %w", err)
	}
	return m, nil
}

// openStack loads config, opens and migrates the database and builds the
// auth manager. The caller must call close.
func openStack(ctx context.Context, path string, opts ...auth.Option) (*stack, error) {
	cfg, log, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	m, err := newAuthManager(db, cfg, log, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &stack{cfg: cfg, log: log, db: db, auth: m}, nil
}

func (s *stack) close() {
	if err := s.db.Close(); err != nil {
		s.log.Error("error closing database", "error", err)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package store selects and opens the user store backing the account service.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/auth/memory"
	authmongo "github.com/vidloom/accounts/internal/auth/mongo"
	"github.com/vidloom/accounts/internal/auth/postgres"
)

// Supported drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultConnectTimeout bounds the initial connection and ping.
const DefaultConnectTimeout = 10 * time.Second

// Config selects a driver and carries its connection settings.
type Config struct {
	Driver         string
	PostgresURL    string
	MongoURI       string
	MongoDatabase  string
	ConnectTimeout time.Duration
	// AutoMigrate applies pending postgres migrations on Open.
	AutoMigrate bool
}

// UserStore is a user repository that can report its health.
type UserStore interface {
	auth.UserRepository
	Ping(ctx context.Context) error
}

// Store is an opened user store.
type Store struct {
	Users  UserStore
	driver string
	close  func(ctx context.Context) error
}

// Driver returns the name of the driver that opened the store.
func (s *Store) Driver() string {
	return s.driver
}

// Ready reports whether the store answers a ping within timeout.
func (s *Store) Ready(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Users.Ping(ctx) == nil
}

// Close releases the underlying connections.
func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// Open connects to the configured driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	switch cfg.Driver {
	case DriverMemory:
		logger.Warn("using in-memory user store; data is lost on restart")
		return &Store{Users: memory.NewUserRepository(), driver: DriverMemory}, nil
	case DriverPostgres:
		return openPostgres(ctx, cfg, timeout, logger)
	case DriverMongo, "":
		return openMongo(ctx, cfg, timeout, logger)
	default:
		return nil, oops.Code("STORE_UNKNOWN_DRIVER").
			With("driver", cfg.Driver).
			Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg Config, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	if cfg.PostgresURL == "" {
		return nil, oops.Code("STORE_INVALID_CONFIG").Errorf("postgres url is required")
	}

	if cfg.AutoMigrate {
		if err := migrateUp(cfg.PostgresURL, logger); err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", DriverPostgres).Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", DriverPostgres).Wrap(err)
	}

	logger.Info("connected to user store", "driver", DriverPostgres)
	return &Store{
		Users:  postgres.NewUserRepository(pool),
		driver: DriverPostgres,
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}

func migrateUp(url string, logger *slog.Logger) error {
	migrator, err := NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if err := migrator.Up(); err != nil {
		return err
	}
	logger.Info("applied migrations", "count", len(pending))
	return nil
}

func openMongo(ctx context.Context, cfg Config, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	if cfg.MongoURI == "" || cfg.MongoDatabase == "" {
		return nil, oops.Code("STORE_INVALID_CONFIG").Errorf("mongo uri and database are required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := authmongo.Connect(connectCtx, cfg.MongoURI, timeout)
	if err != nil {
		return nil, oops.With("driver", DriverMongo).Wrap(err)
	}

	repo := authmongo.NewUserRepository(client, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // index error takes precedence
		return nil, err
	}

	logger.Info("connected to user store", "driver", DriverMongo, "database", cfg.MongoDatabase)
	return &Store{
		Users:  repo,
		driver: DriverMongo,
		close: func(ctx context.Context) error {
			if err := client.Disconnect(ctx); err != nil {
				return oops.Code("STORE_CLOSE_FAILED").With("driver", DriverMongo).Wrap(err)
			}
			return nil
		},
	}, nil
}

// Package server runs the reference board server process: database, Redis,
// demo data and the HTTP surface, with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"boardsync/internal/boardserver"
	"boardsync/internal/config"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// package-level constructor hooks to make the runtime testable. Tests may
// replace these with fakes.
var (
	// newDB opens the configured database.
	newDB = boardserver.Connect

	// newRedis builds the Redis client from a raw URL. It returns nil when
	// Redis is not configured.
	newRedis = boardserver.NewRedisClient
)

const (
	demoUsers = 8
	demoPosts = 40
	demoSeed  = 20240501
)

// Runtime owns the server and the connections it was built from.
type Runtime struct {
	Server *boardserver.Server

	db     *gorm.DB
	redis  *redis.Client
	logger *slog.Logger
}

// New connects to storage, loads demo data and fixtures as configured and
// builds the server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	db, err := newDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb, err := newRedis(cfg.RedisURL)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	if rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			closeDB(db)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	rt := &Runtime{db: db, redis: rdb, logger: logger}
	if err := rt.seed(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}

	rt.Server = boardserver.NewServer(cfg, db, rdb, logger)
	return rt, nil
}

func (rt *Runtime) seed(ctx context.Context, cfg *config.Config) error {
	seeder := boardserver.NewSeeder(rt.db, demoSeed, rt.logger)

	if cfg.SeedDemo {
		if err := seeder.SeedDemo(ctx, demoUsers, demoPosts); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	if cfg.FixturesPath != "" {
		fixtures, err := boardserver.LoadFixtures(cfg.FixturesPath)
		if err != nil {
			return err
		}
		if err := seeder.ApplyFixtures(ctx, fixtures); err != nil {
			return fmt.Errorf("failed to apply fixtures: %w", err)
		}
	}
	return nil
}

// Close releases the Redis and database connections.
func (rt *Runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	closeDB(rt.db)
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Run starts the server and blocks until a termination signal is received.
func Run(cfg *config.Config, logger *slog.Logger) error {
	// Default behavior uses real OS signals.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	return RunWithQuit(cfg, logger, quit)
}

// RunWithQuit behaves like Run but uses the provided quit channel instead of
// listening to OS signals. This makes it easier to drive shutdown in tests.
func RunWithQuit(cfg *config.Config, logger *slog.Logger, quit <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	go func() {
		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.Any("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	return rt.Server.Run(ctx)
}

// Package bootstrap initializes shared infrastructure: logging, the portal
// repository and the session store.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/portalbot/core/config"
	coredatabase "github.com/m3rciful/portalbot/core/database"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/portal/memory"
	"github.com/m3rciful/portalbot/core/portal/postgres"
	"github.com/m3rciful/portalbot/core/session"
)

// Options control the bootstrap pipeline. Nil hooks select the defaults.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(context.Context, coredatabase.Config) error
	Redis      func(coreconfig.RedisConfig) redis.UniversalClient

	// Seeders run against the memory repository only.
	Seeders []Seeder
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	// DB is nil for the memory driver.
	DB *sqlx.DB
	// Redis is nil unless sessions are stored in Redis.
	Redis redis.UniversalClient

	Repository portal.Repository
	Sessions   session.Store
}

// Close releases the database and Redis connections.
func (r *Result) Close() error {
	var errList []error
	if r.Redis != nil {
		errList = append(errList, r.Redis.Close())
	}
	if r.DB != nil {
		errList = append(errList, r.DB.Close())
	}
	return errors.Join(errList...)
}

// Run initializes the logger, opens the repository (applying migrations when
// enabled) and builds the session store.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{}
	if err := openRepository(ctx, opts, res); err != nil {
		_ = res.Close()
		return nil, err
	}
	if err := openSessions(ctx, opts, res); err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

func openRepository(ctx context.Context, opts Options, res *Result) error {
	cfg := opts.Config
	if cfg.Database.Driver == coreconfig.DriverMemory {
		repo := memory.New()
		seeders := opts.Seeders
		if cfg.Database.Fixtures != "" {
			seeders = append([]Seeder{FixtureSeeder(cfg.Database.Fixtures)}, seeders...)
		}
		for _, s := range seeders {
			if err := s.Seed(ctx, repo); err != nil {
				return fmt.Errorf("bootstrap: seeding failed: %w", err)
			}
		}
		res.Repository = repo
		logger.Info(ctx, "app", "repository", slog.String("driver", coreconfig.DriverMemory), slog.Int("seeders", len(seeders)))
		return nil
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}
	res.DB = db

	if cfg.Database.Migrate {
		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(ctx, cfg.Database); err != nil {
			return fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
	}
	res.Repository = postgres.New(db)
	logger.Info(ctx, "app", "repository", slog.String("driver", coreconfig.DriverPostgres), slog.Bool("migrate", cfg.Database.Migrate))
	return nil
}

func openSessions(ctx context.Context, opts Options, res *Result) error {
	cfg := opts.Config
	if cfg.Session.Store != coreconfig.SessionStoreRedis {
		res.Sessions = session.NewMemoryStore(cfg.Session.LockTimeout)
		return nil
	}

	newClient := opts.Redis
	if newClient == nil {
		newClient = defaultRedis
	}
	rdb := newClient(cfg.Redis)
	res.Redis = rdb
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error(ctx, "session", "redis.connect",
			slog.String("status", "fail"),
			slog.String("addr", cfg.Redis.Addr),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("bootstrap: redis unavailable: %w", err)
	}
	logger.Info(ctx, "session", "redis.connect",
		slog.String("status", "ok"),
		slog.String("addr", cfg.Redis.Addr),
		slog.Int("db", cfg.Redis.DB),
	)
	res.Sessions = session.NewRedisStore(rdb, cfg.Session.LockTTL, cfg.Session.LockTimeout)
	return nil
}

func defaultRedis(cfg coreconfig.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/portalbot/core/logger"
)

const (
	migrateComponent = "db.migrate"
	previewFiles     = 6
	readyTimeout     = 30 * time.Second
)

// RunMigrations waits for the database and applies every pending up
// migration found in cfg.MigrationsDir.
func RunMigrations(ctx context.Context, cfg Config) error {
	if err := WaitForPostgres(ctx, DSN(cfg), readyTimeout); err != nil {
		logger.Error(ctx, migrateComponent, "db.migrate", slog.String("status", "fail"), slog.String("err", err.Error()))
		return fmt.Errorf("database not ready: %w", err)
	}

	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}
	files := listMigrationFiles(dir)
	logger.Debug(ctx, migrateComponent, "resolve",
		append([]slog.Attr{slog.String("path", dir)}, files.summary()...)...)

	m, err := migrate.New("file://"+filepath.ToSlash(dir), MigrateURL(cfg))
	if err != nil {
		logger.Error(ctx, migrateComponent, "db.migrate", slog.String("status", "fail"), slog.String("err", err.Error()))
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	from, _, _ := m.Version()
	start := time.Now()
	upErr := m.Up()
	took := logger.Took(start)

	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.Error(ctx, migrateComponent, "apply",
			slog.String("status", "fail"),
			slog.String("err", upErr.Error()),
			slog.Duration("duration", took),
		)
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	to := from
	if upErr == nil {
		to, _, _ = m.Version()
	}
	applied := files.between(uint64(from), uint64(to))
	if len(applied) > 0 {
		logger.Debug(ctx, migrateComponent, "apply", applied.summary()...)
	}
	logger.Info(ctx, migrateComponent, "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

// migrationFiles holds *.up.sql names sorted by name, which with
// zero-padded prefixes is version order.
type migrationFiles []string

func listMigrationFiles(dir string) migrationFiles {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files migrationFiles
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)
	return files
}

// between returns the files with from < version <= to.
func (f migrationFiles) between(from, to uint64) migrationFiles {
	var out migrationFiles
	for _, name := range f {
		if v := fileVersion(name); v > from && v <= to {
			out = append(out, name)
		}
	}
	return out
}

func (f migrationFiles) summary() []slog.Attr {
	attrs := []slog.Attr{slog.Int("files_total", len(f))}
	preview, truncated := logger.SummarizeStrings(f, previewFiles)
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

func fileVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// Package logger provides the structured slog logger shared by the bot:
// one line per event with component, event and request correlation fields.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/portalbot/core/buildinfo"
	coreconfig "github.com/m3rciful/portalbot/core/config"
)

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	closed   bool

	out     *asyncWriter
	files   []io.Closer
	level   slog.LevelVar
	sampler = newRatioSampler(defaultSampleNum, defaultSampleDen)
	trace   bool

	// L is the process-wide logger. It stays nil until InitLogger runs, and
	// every helper in this package is a no-op until then.
	L *slog.Logger
)

// InitLogger installs the global logger described by cfg. Only the first
// call has any effect.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		err = install(optionsFrom(cfg))
	})
	return err
}

func install(o options) error {
	level.Set(o.level)
	sampler.Set(o.sampleNum, o.sampleDen)
	trace = o.trace

	sinks := []io.Writer{os.Stdout}
	if o.file != "" {
		f, err := openFile(o.file)
		if err != nil {
			// stdout still works; keep going without the file
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		} else {
			sinks = append(sinks, f)
			files = append(files, f)
		}
	}
	out = newAsyncWriter(sinks, 64*1024)

	L = slog.New(newStructuredHandler(handlerConfig{
		level:    &level,
		writer:   out,
		format:   o.format,
		keyOrder: o.keyOrder,
	}))
	slog.SetDefault(L)

	L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
		slog.String("component", "app"),
		slog.String("event", "startup"),
		slog.String("go_version", runtime.Version()),
		slog.String("build", buildinfo.String()),
		slog.String("cfg_profile", o.profile),
	)
	return nil
}

func openFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Shutdown flushes pending lines and closes the log file. Later calls do nothing.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if out != nil {
		errs = append(errs, out.Close())
	}
	for _, f := range files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// Background returns context.Background().
func Background() context.Context {
	return context.Background()
}

// Component returns L scoped to name, or nil before InitLogger.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// LogEvent writes one event through logg, falling back to the logger stored
// in ctx and then to L.
func LogEvent(ctx context.Context, logg *slog.Logger, lvl slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = fromContext(ctx)
	}
	if logg == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, lvl, "", attrs...)
}

func emit(ctx context.Context, component string, lvl slog.Level, event string, attrs []slog.Attr) {
	LogEvent(ctx, Component(component), lvl, event, attrs...)
}

// Debug logs a debug event for component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelDebug, event, attrs)
}

// Info logs an info event for component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelInfo, event, attrs)
}

// Warn logs a warning event for component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelWarn, event, attrs)
}

// Error logs an error event for component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelError, event, attrs)
}

// ShouldSampleDebug reports whether a high-volume debug line should be
// written. TRACE=1 in the environment lets every line through.
func ShouldSampleDebug() bool {
	return trace || sampler.Allow()
}

// Package cmd is the process entry point shared by the bot binaries: load
// configuration, bootstrap the application and run it until a signal arrives.
package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/portalbot/core/config"
	"github.com/m3rciful/portalbot/core/logger"
	coretelegram "github.com/m3rciful/portalbot/core/telegram"
)

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
	// Close releases infrastructure after the bot stopped.
	Close() error
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error

	// Signals cancel the run context; defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// Run loads configuration, bootstraps the app and runs the bot until one of
// opts.Signals arrives. Infrastructure is closed and the logger flushed on
// the way out.
func Run(opts Options) error {
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}
	opts = opts.withDefaults()

	cfgPath, err := opts.configPath()
	if err != nil {
		return err
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), opts.Signals...)
	defer cancel()

	startedAt := time.Now()
	app, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	defer func() {
		if err := opts.ShutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn(context.Background(), "app", "close", logger.ErrAttrs(err)...)
		}
	}()

	runOpts, err := app.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options build failed: %w", err)
	}
	return opts.RunTelegram(ctx, lifecycleLogs(runOpts, startedAt))
}

func (o Options) withDefaults() Options {
	if o.LoadConfig == nil {
		o.LoadConfig = coreconfig.Load
	}
	if o.ConfigEnvVar == "" {
		o.ConfigEnvVar = "CONFIG_PATH"
	}
	if o.ShutdownLogger == nil {
		o.ShutdownLogger = logger.Shutdown
	}
	if o.RunTelegram == nil {
		o.RunTelegram = coretelegram.RunTelegram
	}
	if len(o.Signals) == 0 {
		o.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return o
}

// configPath prefers the environment variable over DefaultConfigPath.
func (o Options) configPath() (string, error) {
	if p := os.Getenv(o.ConfigEnvVar); p != "" {
		return p, nil
	}
	if o.DefaultConfigPath != "" {
		return o.DefaultConfigPath, nil
	}
	return "", fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", o.ConfigEnvVar)
}

// lifecycleLogs adds the app ready and shutdown events around the hooks
// already present in opts.
func lifecycleLogs(opts coretelegram.RunOptions, startedAt time.Time) coretelegram.RunOptions {
	start, stop := opts.OnStart, opts.OnStop
	opts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if start != nil {
			if err := start(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "ready", slog.Duration("startup_duration", logger.Took(startedAt)))
		return nil
	}
	opts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "shutdown")
		if stop != nil {
			return stop(ctx, rt)
		}
		return nil
	}
	return opts
}

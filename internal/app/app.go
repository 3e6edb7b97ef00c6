// Package app composes the portal bot: repository, session store, wizard
// engine, dispatcher, notification fan-out and the deadline sweep.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/portalbot/core/bootstrap"
	coreconfig "github.com/m3rciful/portalbot/core/config"
	"github.com/m3rciful/portalbot/core/dispatch"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/notify"
	coretelegram "github.com/m3rciful/portalbot/core/telegram"
	"github.com/m3rciful/portalbot/core/telegram/router"
	tgsender "github.com/m3rciful/portalbot/core/telegram/sender"
	"github.com/m3rciful/portalbot/core/wizard"
	"github.com/m3rciful/portalbot/core/wizard/flows"
)

// App holds the long-lived components of one bot process.
type App struct {
	cfg     *coreconfig.Config
	infra   *bootstrap.Result
	engine  *wizard.Engine
	sweeper *notify.Sweeper
}

// New bootstraps infrastructure and registers the wizard flows.
func New(ctx context.Context, cfg *coreconfig.Config, opts bootstrap.Options) (*App, error) {
	opts.Config = cfg
	infra, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	engine := wizard.New(infra.Repository, wizard.WithTTL(cfg.Session.WizardTTL))
	if err := flows.Register(engine); err != nil {
		_ = infra.Close()
		return nil, fmt.Errorf("app: register wizards: %w", err)
	}
	return &App{cfg: cfg, infra: infra, engine: engine}, nil
}

// TelegramRunOptions returns the runtime configuration for the Telegram adapter.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{
		Config: a.cfg,
		SenderOptions: tgsender.Options{
			Workers:      a.cfg.Sender.Workers,
			QueueSize:    a.cfg.Sender.QueueSize,
			MaxRetries:   2,
			RetryBackoff: time.Second,
		},
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg),
		Wire:        a.wire,
		OnStart:     a.startSweep,
	}, nil
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	return a.infra.Close()
}

func (a *App) wire(ctx context.Context, rt coretelegram.Runtime) ([]coretelegram.Route, []dispatch.CommandInfo, error) {
	repo := a.infra.Repository
	fanout := notify.NewFanout(repo, rt.Gateway)

	d, err := dispatch.New(dispatch.Options{
		Store:    a.infra.Sessions,
		Accounts: repo,
		Engine:   a.engine,
		Gateway:  rt.Gateway,
		Entities: repo,
		Notifier: fanout,
	})
	if err != nil {
		return nil, nil, err
	}

	if !a.cfg.Notify.DisableSweep {
		a.sweeper, err = notify.NewSweeper(repo, fanout, a.cfg.Notify.DeadlineCron, a.cfg.Notify.DeadlineWindow,
			notify.WithReannounce(a.cfg.Notify.OverdueReannounce))
		if err != nil {
			return nil, nil, err
		}
	}

	logger.Info(ctx, "tg.wire", "dispatcher",
		slog.String("sessions", a.cfg.Session.Store),
		slog.String("repository", a.cfg.Database.Driver),
		slog.Bool("sweep", a.sweeper != nil),
	)
	return router.Routes(d), d.Commands(), nil
}

func (a *App) startSweep(ctx context.Context, _ coretelegram.Runtime) error {
	if a.sweeper == nil {
		return nil
	}
	go func() {
		if err := a.sweeper.Run(ctx); err != nil {
			logger.Error(ctx, "notify.sweep", "sweep.exit", logger.ErrAttrs(err)...)
		}
	}()
	return nil
}

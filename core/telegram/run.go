// Package telegram runs the bot on telebot: poller or webhook setup, the
// outbound Gateway and the command menu.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/portalbot/core/config"
	"github.com/m3rciful/portalbot/core/dispatch"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/telegram/netutil"
	tgsender "github.com/m3rciful/portalbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// WireFunc builds the routes and the command menu once the bot and its
// gateway exist.
type WireFunc func(ctx context.Context, rt Runtime) ([]Route, []dispatch.CommandInfo, error)

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config

	SenderOptions tgsender.Options

	Middlewares []Middleware
	Wire        WireFunc

	DisableWebhookCleanup bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to the wiring function and lifecycle hooks.
type Runtime struct {
	Bot     *tele.Bot
	Gateway *Gateway
	Sender  *tgsender.Dispatcher
}

// RunTelegram composes and runs a Telegram bot until the provided context is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	if opts.Wire == nil {
		return fmt.Errorf("telegram: nil wire function")
	}

	cfg := opts.Config
	poller := BuildPoller(PollerOptionsFrom(cfg))

	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: BuildHTTPClient(longPollTimeout(poller)),
		OnError: func(err error, c tele.Context) {
			lctx := logger.Background()
			if c != nil {
				lctx = logger.WithUpdateMeta(lctx, c.Update().ID, 0, 0)
			}
			logger.Error(lctx, "tg", "bot.error",
				slog.String("status", "fail"),
				slog.String("err", logger.SanitizeLimit(netutil.Redact(err), 256)),
			)
		},
	}

	buildStart := time.Now()
	bot, err := tele.NewBot(settings)
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	buildTook := time.Since(buildStart)

	queue := tgsender.NewDispatcher(opts.SenderOptions)
	rt := Runtime{
		Bot:     bot,
		Gateway: NewGateway(bot, queue),
		Sender:  queue,
	}

	logMode(ctx, poller, cfg, buildTook)
	if _, ok := poller.(*tele.LongPoller); ok && !opts.DisableWebhookCleanup {
		if err := bot.RemoveWebhook(false); err != nil {
			logger.Warn(ctx, "tg", "delete_webhook",
				slog.String("status", "fail"),
				slog.String("mode", "polling"),
				slog.String("err", logger.SanitizeLimit(netutil.Redact(err), 256)),
			)
		} else {
			logger.Info(ctx, "tg", "delete_webhook", slog.String("mode", "polling"))
		}
	}

	routes, commands, err := opts.Wire(ctx, rt)
	if err != nil {
		queue.Close()
		return fmt.Errorf("telegram: wiring failed: %w", err)
	}

	for _, mw := range opts.Middlewares {
		if mw.Use == nil {
			continue
		}
		bot.Use(mw.Use)
	}
	for _, route := range routes {
		if route.Endpoint == nil || route.Handler == nil {
			continue
		}
		bot.Handle(route.Endpoint, route.Handler)
	}
	SetupCommands(bot, commands)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			queue.Close()
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx), rt)
	}

	queue.Close()
	if failed := queue.ErrorCount(); failed > 0 {
		logger.Warn(ctx, "tg.sender", "close", slog.Uint64("failed_jobs", failed))
	}

	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func logMode(ctx context.Context, poller tele.Poller, cfg *coreconfig.Config, took time.Duration) {
	switch p := poller.(type) {
	case *tele.Webhook:
		logger.Info(ctx, "tg", "mode",
			slog.String("mode", "webhook"),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
			slog.Bool("secret", p.SecretToken != ""),
			slog.Duration("duration", logger.RoundMS(took)),
		)
	default:
		timeoutSec := 10
		if cfg.Telegram.LongPollTimeoutSeconds > 0 {
			timeoutSec = cfg.Telegram.LongPollTimeoutSeconds
		}
		logger.Info(ctx, "tg", "mode",
			slog.String("mode", "polling"),
			slog.Int("timeout_seconds", timeoutSec),
			slog.Duration("duration", logger.RoundMS(took)),
		)
	}
}

func longPollTimeout(p tele.Poller) time.Duration {
	if lp, ok := p.(*tele.LongPoller); ok {
		return lp.Timeout
	}
	return 0
}

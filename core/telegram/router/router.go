// Package router binds telebot endpoints to the update dispatcher.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/portalbot/core/dispatch"
	"github.com/m3rciful/portalbot/core/logger"
	tg "github.com/m3rciful/portalbot/core/telegram"
	tghelpers "github.com/m3rciful/portalbot/core/telegram/helpers"
	"github.com/m3rciful/portalbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Handler processes a transport-neutral update. *dispatch.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, u dispatch.Update) ([]dispatch.Action, error)
}

// Routes returns the text, media and callback routes. Every route converts the
// telebot update and hands it to h; commands are parsed by the dispatcher, so
// no per-command endpoints are registered.
func Routes(h Handler) []tg.Route {
	if h == nil {
		return nil
	}
	handler := func(c tele.Context) error {
		return route(c, h)
	}
	wrapped := middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler))

	routes := []tg.Route{
		{Endpoint: tele.OnText, Handler: wrapped},
		{Endpoint: tele.OnMedia, Handler: wrapped},
		{Endpoint: tele.OnCallback, Handler: wrapped},
	}
	logger.Info(context.Background(), "tg.wire", "complete",
		slog.Int("routes", len(routes)),
	)
	return routes
}

func route(c tele.Context, h Handler) error {
	start := time.Now()
	u, ok := tghelpers.ToUpdate(c)
	if !ok {
		if cb := c.Callback(); cb != nil {
			_ = c.Respond()
		}
		logHandlerSummary(c, "unsupported", start, "skip", nil, nil)
		return nil
	}
	name := handlerName(u)
	ctx := tghelpers.WithHandler(c, name)
	actions, err := h.Handle(ctx, u)
	logHandlerSummary(c, name, start, "", actions, err)
	return err
}

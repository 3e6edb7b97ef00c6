// Package helpers bridges telebot contexts to the bot core: request-scoped
// logging context and transport-neutral updates.
package helpers

import (
	"context"

	"github.com/m3rciful/portalbot/core/dispatch"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "logger_ctx"

// StoreContext attaches reusable context to tele.Context for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom telegram context if previously stored by middleware.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	if v := c.Get(contextKey); v != nil {
		if ctx, ok := v.(context.Context); ok {
			return ctx, true
		}
	}
	return nil, false
}

// BuildContext constructs a context.Context from tele.Context,
// enriching it with RID and update/user/chat metadata for consistent service logging.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}

	upd := c.Update()
	chatID, userID := ids(c)

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(upd.ID, chatID, userID)
	}

	ctx := logger.WithRID(logger.Background(), rid)
	ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler enriches stored context with handler metadata for downstream logs.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}

// ToUpdate converts a telebot update into the dispatcher's representation.
// ok is false for updates the dispatcher does not handle: no chat, or
// neither a message nor a button press. Media messages carry their caption.
func ToUpdate(c tele.Context) (u dispatch.Update, ok bool) {
	chatID, _ := ids(c)
	if chatID == 0 {
		return dispatch.Update{}, false
	}
	upd := c.Update()
	u = dispatch.Update{ID: int64(upd.ID), ChatID: chatID}
	if user := c.Sender(); user != nil {
		u.Username = user.Username
	}
	switch {
	case upd.Callback != nil:
		u.Kind = dispatch.KindCallback
		u.Action = callbacks.Token(upd.Callback)
		u.MessageID = callbacks.MessageID(upd.Callback)
		u.CallbackID = upd.Callback.ID
	case upd.Message != nil:
		u.Kind = dispatch.KindMessage
		u.Text = upd.Message.Text
		if u.Text == "" {
			u.Text = upd.Message.Caption
		}
	default:
		return dispatch.Update{}, false
	}
	return u, true
}

func ids(c tele.Context) (chatID, userID int64) {
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		userID = user.ID
	}
	return chatID, userID
}

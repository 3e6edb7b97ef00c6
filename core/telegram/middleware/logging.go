package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/portalbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// receiptWindow is how long an update id is remembered for receipt deduplication.
const receiptWindow = 10 * time.Second

// receipts remembers recently logged update ids so that an update passing
// through the middleware twice is logged once.
type receipts struct {
	mu   sync.Mutex
	seen map[int]time.Time
}

var recent = &receipts{seen: make(map[int]time.Time)}

func (r *receipts) first(updateID int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ts := range r.seen {
		if now.Sub(ts) > receiptWindow {
			delete(r.seen, id)
		}
	}
	if _, ok := r.seen[updateID]; ok {
		return false
	}
	r.seen[updateID] = now
	return true
}

// LoggerMiddleware builds the request context (rid plus update, chat and user
// ids) for downstream handlers and logs a sampled receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		var chatID, userID int64
		if chat := c.Chat(); chat != nil {
			chatID = chat.ID
		}
		user := c.Sender()
		if user != nil {
			userID = user.ID
		}

		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		ctx := logger.WithRID(logger.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.Component("tg"))
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() && recent.first(upd.ID, time.Now()) {
			attrs := []slog.Attr{slog.String("status", "ok")}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if user != nil && user.Username != "" {
				attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
			}
			switch {
			case upd.Callback != nil:
				attrs = append(attrs,
					slog.String("kind", "callback"),
					slog.String("action", logger.SanitizeLimit(callbacks.Token(upd.Callback), 128)),
				)
			case upd.Message != nil:
				attrs = append(attrs,
					slog.String("kind", "message"),
					slog.Int("text_len", len([]rune(c.Text()))),
				)
			}
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)
		}
		return next(c)
	}
}

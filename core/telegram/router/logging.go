package router

import (
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/dispatch"
	"github.com/m3rciful/portalbot/core/logger"
	tghelpers "github.com/m3rciful/portalbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

func logHandlerSummary(c tele.Context, handlerName string, start time.Time, statusOverride string, actions []dispatch.Action, err error) {
	ctx := tghelpers.WithHandler(c, handlerName)
	msgs, kb, failed := countActions(actions)

	status := statusOverride
	if status == "" {
		status = logger.Status(err)
	}
	outcome := "ok"
	if err != nil || failed > 0 {
		outcome = "fail"
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", handlerName),
		slog.String("outcome", outcome),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	}
	if failed > 0 {
		attrs = append(attrs, slog.Int("failed", failed))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", logger.ErrCode(err)),
			slog.String("cause", handlerName),
		)
	}
	logger.LogEvent(ctx, logger.Component("tg"), slog.LevelInfo, "handler.handled", attrs...)
}

// countActions reports delivered messages, whether any carried a keyboard,
// and how many calls failed.
func countActions(actions []dispatch.Action) (msgs int, kb bool, failed int) {
	for _, a := range actions {
		if a.Failed {
			failed++
			continue
		}
		if a.Kind == dispatch.ActAnswer {
			continue
		}
		msgs++
		if len(a.Rows) > 0 {
			kb = true
		}
	}
	return msgs, kb, failed
}

// handlerName derives a low-cardinality name for the summary line, e.g.
// "command.link", "callback.wiz.pick" or "message".
func handlerName(u dispatch.Update) string {
	switch u.Kind {
	case dispatch.KindCallback:
		tok, err := action.Parse(u.Action)
		if err != nil {
			return "callback.invalid"
		}
		name := "callback." + string(tok.Namespace)
		if parts := tok.Parts(2); len(parts) > 0 && tok.Namespace != action.NSNav {
			name += "." + parts[0]
		}
		return name
	case dispatch.KindMessage:
		text := strings.TrimSpace(u.Text)
		if strings.HasPrefix(text, "/") {
			cmd := strings.Fields(text)[0]
			cmd, _, _ = strings.Cut(cmd, "@")
			return "command." + normalizeHandlerName(cmd)
		}
		return "message"
	}
	return "unknown"
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return "unknown"
	}
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

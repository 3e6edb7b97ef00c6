package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m3rciful/portalbot/core/dispatch"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

// CommandSetter is implemented by *tele.Bot.
type CommandSetter interface {
	SetCommands(opts ...interface{}) error
}

// BotCommands converts dispatcher commands to the Bot API menu format.
// Telegram expects names without the leading slash.
func BotCommands(list []dispatch.CommandInfo) []tele.Command {
	out := make([]tele.Command, 0, len(list))
	for _, c := range list {
		name := strings.TrimPrefix(c.Name, "/")
		if name == "" || c.Description == "" {
			continue
		}
		out = append(out, tele.Command{Text: name, Description: c.Description})
	}
	return out
}

// SetupCommands publishes the command menu. Failures are logged and otherwise ignored.
func SetupCommands(bot CommandSetter, list []dispatch.CommandInfo) {
	cmds := BotCommands(list)
	if bot == nil || len(cmds) == 0 {
		return
	}
	ctx := context.Background()
	if err := bot.SetCommands(cmds); err != nil {
		logger.Error(ctx, "tg.wire", "register.commands.set_failed",
			slog.String("err", logger.SanitizeLimit(netutil.Redact(err), 256)),
		)
		return
	}
	logger.Info(ctx, "tg.wire", "register.commands", slog.Int("commands", len(cmds)))
}

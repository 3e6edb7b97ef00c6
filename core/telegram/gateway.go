package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/telegram/keyboard"
	tgsender "github.com/m3rciful/portalbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// maxMessageRunes is Telegram's limit for a message text.
const maxMessageRunes = 4096

// BotAPI is the subset of *tele.Bot used by the gateway.
type BotAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

// Gateway delivers replies and notifications through the Bot API. Messages
// are sent as HTML with an inline keyboard built from menu rows.
type Gateway struct {
	api   BotAPI
	queue *tgsender.Dispatcher
}

// NewGateway wraps api. When queue is non-nil callback answers go through it
// asynchronously; otherwise they are answered inline.
func NewGateway(api BotAPI, queue *tgsender.Dispatcher) *Gateway {
	return &Gateway{api: api, queue: queue}
}

// Send posts a new message and returns its id.
func (g *Gateway) Send(ctx context.Context, chatID int64, text string, rows [][]menu.Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.Transport("send", err)
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, ReplyMarkup: keyboard.Inline(rows)}
	msg, err := g.api.Send(tele.ChatID(chatID), clip(text), opts)
	if err != nil {
		return 0, errs.Transport("send", err)
	}
	if msg == nil {
		return 0, nil
	}
	return msg.ID, nil
}

// Edit replaces the text and keyboard of an earlier message. Telegram's
// "message is not modified" answer counts as success.
func (g *Gateway) Edit(ctx context.Context, chatID int64, messageID int, text string, rows [][]menu.Button) error {
	if err := ctx.Err(); err != nil {
		return errs.Transport("edit", err)
	}
	if messageID == 0 {
		return errs.Transport("edit", errors.New("no message to edit"))
	}
	ref := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, ReplyMarkup: keyboard.Inline(rows)}
	if _, err := g.api.Edit(ref, clip(text), opts); err != nil {
		if notModified(err) {
			logger.Debug(ctx, "tg.gateway", "edit.not_modified", slog.Int("message_id", messageID))
			return nil
		}
		return errs.Transport("edit", err)
	}
	return nil
}

// Acknowledge answers a callback query, optionally with a short toast.
func (g *Gateway) Acknowledge(ctx context.Context, callbackID, text string) error {
	if callbackID == "" {
		return nil
	}
	run := func() error {
		return g.api.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	}
	if g.queue == nil {
		if err := run(); err != nil {
			return errs.Transport("answer", err)
		}
		return nil
	}
	if err := g.queue.Enqueue(ctx, "callback.answer", "answerCallbackQuery", run); err != nil {
		if errors.Is(err, tgsender.ErrQueueFull) || errors.Is(err, tgsender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", "callback.answer"),
				slog.String("err", err.Error()),
			)
			if err := run(); err != nil {
				return errs.Transport("answer", err)
			}
			return nil
		}
		return errs.Transport("answer", err)
	}
	return nil
}

func notModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// clip shortens HTML text to the message limit. It never cuts inside a tag or
// an entity and closes the tags left open by the cut.
func clip(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageRunes {
		return text
	}
	r := []rune(text)
	n := maxMessageRunes - 1
	for n > 0 {
		n = safeCut(r[:n])
		body := string(r[:n])
		closers := closeTags(body)
		over := n + 1 + utf8.RuneCountInString(closers) - maxMessageRunes
		if over <= 0 {
			return body + "…" + closers
		}
		n -= over
	}
	return "…"
}

// safeCut backs off to before a trailing tag or entity that has no terminator.
func safeCut(r []rune) int {
	n := len(r)
	for i := n - 1; i >= 0; i-- {
		if r[i] == '>' || r[i] == ';' {
			break
		}
		if r[i] == '<' || r[i] == '&' {
			n = i
		}
	}
	for i := n - 1; i >= 0; i-- {
		if r[i] == '>' {
			break
		}
		if r[i] == '<' {
			return i
		}
	}
	return n
}

// closeTags returns the end tags for the tags body leaves open, innermost first.
func closeTags(body string) string {
	var open []string
	for {
		lt := strings.IndexByte(body, '<')
		if lt < 0 {
			break
		}
		gt := strings.IndexByte(body[lt:], '>')
		if gt < 0 {
			break
		}
		tag := body[lt+1 : lt+gt]
		body = body[lt+gt+1:]
		if name, ok := strings.CutPrefix(tag, "/"); ok {
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == name {
					open = open[:i]
					break
				}
			}
			continue
		}
		if name, _, _ := strings.Cut(tag, " "); name != "" {
			open = append(open, name)
		}
	}
	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i] + ">")
	}
	return b.String()
}

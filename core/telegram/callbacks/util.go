// Package callbacks extracts action tokens from Telegram callback queries.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Token returns the action token carried by cb. Telebot prefixes data of
// buttons built with a unique key with "\f" and joins the payload with "|";
// such data is mapped to "<unique>:<payload>".
func Token(cb *tele.Callback) string {
	if cb == nil {
		return ""
	}
	raw := strings.TrimSpace(cb.Data)
	if !strings.HasPrefix(raw, "\f") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "\f")
	unique, payload, ok := strings.Cut(raw, "|")
	if !ok || payload == "" {
		return strings.TrimSpace(unique)
	}
	return strings.TrimSpace(unique) + ":" + payload
}

// MessageID returns the id of the message that carried the pressed button.
func MessageID(cb *tele.Callback) int {
	if cb == nil || cb.Message == nil {
		return 0
	}
	return cb.Message.ID
}

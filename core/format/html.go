// Package format holds text helpers shared by the menu, wizard and notification renderers.
// Bot messages are sent with Telegram's HTML parse mode, so any user-supplied
// text must pass through EscapeHTML.
package format

import (
	"strings"
	"unicode/utf8"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeHTML escapes the three characters Telegram's HTML mode treats as markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Truncate shortens s to at most max runes, appending an ellipsis when it cuts.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max == 1 {
		return "…"
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}

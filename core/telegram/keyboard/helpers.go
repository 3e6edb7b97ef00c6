// Package keyboard renders menu button grids as Telegram inline keyboards.
package keyboard

import (
	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/menu"

	tele "gopkg.in/telebot.v4"
)

// Inline converts rows of menu buttons to an inline keyboard. Buttons whose
// action would not fit Telegram's callback data limit are dropped, as are rows
// left empty. A nil markup is returned when nothing remains.
func Inline(rows [][]menu.Button) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			if !action.Fits(b.Action) || b.Label == "" {
				continue
			}
			r = append(r, tele.InlineButton{Text: b.Label, Data: b.Action})
		}
		if len(r) > 0 {
			inline = append(inline, r)
		}
	}
	if len(inline) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// RemoveKeyboard returns a markup that hides a reply keyboard left by an older client.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

package keyboard

import (
	"strings"
	"testing"

	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/portal"
)

func TestInlineKeepsLayoutAndData(t *testing.T) {
	node := menu.Build(portal.RoleDirector, menu.Main)
	markup := Inline(node.Rows)
	if markup == nil {
		t.Fatal("nil markup")
	}
	if len(markup.InlineKeyboard) != len(node.Rows) {
		t.Fatalf("rows = %d, want %d", len(markup.InlineKeyboard), len(node.Rows))
	}
	for i, row := range node.Rows {
		for j, b := range row {
			got := markup.InlineKeyboard[i][j]
			if got.Text != b.Label || got.Data != b.Action {
				t.Fatalf("button %d/%d = %+v, want %+v", i, j, got, b)
			}
		}
	}
}

func TestInlineDropsOversizedActions(t *testing.T) {
	rows := [][]menu.Button{
		{menu.Btn("too long", "nav:"+strings.Repeat("x", 80))},
		{menu.Btn("ok", "nav:main")},
	}
	markup := Inline(rows)
	if len(markup.InlineKeyboard) != 1 || markup.InlineKeyboard[0][0].Data != "nav:main" {
		t.Fatalf("keyboard = %+v", markup.InlineKeyboard)
	}
	if Inline(nil) != nil {
		t.Fatal("empty rows should yield nil markup")
	}
}

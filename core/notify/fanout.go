package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/portal"
)

// Sender delivers one message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, rows [][]menu.Button) (int, error)
}

// Dispatcher is the fan-out contract used by the dispatcher and the sweep.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) int
}

// Fanout resolves recipients and sends each of them the rendered event.
type Fanout struct {
	recipients portal.Recipients
	out        Sender
}

var _ Dispatcher = (*Fanout)(nil)

// NewFanout constructs a Fanout.
func NewFanout(recipients portal.Recipients, out Sender) *Fanout {
	return &Fanout{recipients: recipients, out: out}
}

// Dispatch sends ev to every resolved chat and returns how many sends did not fail.
// Failures are logged per recipient and never abort the remaining deliveries.
func (f *Fanout) Dispatch(ctx context.Context, ev Event) int {
	start := time.Now()
	chats := f.Resolve(ctx, ev)
	text := Render(ev)

	sent, failed := 0, 0
	for _, chatID := range chats {
		if _, err := f.out.Send(ctx, chatID, text, nil); err != nil {
			failed++
			err = errs.Transport("send", err)
			attrs := []slog.Attr{
				slog.String("kind", string(ev.Kind)),
				slog.Int64("entity_id", ev.EntityID),
				slog.Int64("chat_id", chatID),
			}
			logger.Warn(ctx, "notify", "notify.send", append(attrs, logger.ErrAttrs(err)...)...)
			continue
		}
		sent++
	}

	status := "ok"
	if failed > 0 {
		status = "fail"
	}
	logger.Info(ctx, "notify", "notify.dispatch",
		slog.String("status", status),
		slog.String("kind", string(ev.Kind)),
		slog.Int64("entity_id", ev.EntityID),
		slog.Int("recipients", len(chats)),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
		slog.Duration("duration", logger.Took(start)),
	)
	return sent
}

// Resolve returns the deduplicated chat ids for ev: explicit recipients first,
// then role recipients, each chat at most once. A failing lookup is logged and
// the other half of the union is still used.
func (f *Fanout) Resolve(ctx context.Context, ev Event) []int64 {
	seen := make(map[int64]struct{})
	var chats []int64
	add := func(chatID int64) {
		if chatID == 0 {
			return
		}
		if _, ok := seen[chatID]; ok {
			return
		}
		seen[chatID] = struct{}{}
		chats = append(chats, chatID)
	}

	if ids := uniqueIDs(ev.ExplicitRecipients); len(ids) > 0 {
		byUser, err := f.recipients.ChatIDsForUsers(ctx, ids)
		if err != nil {
			logger.Error(ctx, "notify", "notify.resolve",
				append([]slog.Attr{slog.String("op", "users")}, logger.ErrAttrs(errs.Repository("chat_ids_for_users", err))...)...)
		}
		for _, id := range ids {
			add(byUser[id])
		}
	}
	if len(ev.RoleRecipients) > 0 {
		byRole, err := f.recipients.ChatIDsForRoles(ctx, ev.RoleRecipients)
		if err != nil {
			logger.Error(ctx, "notify", "notify.resolve",
				append([]slog.Attr{slog.String("op", "roles")}, logger.ErrAttrs(errs.Repository("chat_ids_for_roles", err))...)...)
		}
		for _, chatID := range byRole {
			add(chatID)
		}
	}
	return chats
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Package dispatch classifies inbound chat updates and turns them into
// replies: menu navigation, wizard steps and account linking. Updates for one
// chat are serialized by the session store; different chats run in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/notify"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/session"
	"github.com/m3rciful/portalbot/core/wizard"
)

// UpdateKind distinguishes typed messages from button presses.
type UpdateKind string

const (
	KindMessage  UpdateKind = "message"
	KindCallback UpdateKind = "callback"
)

// Update is a transport-neutral inbound event.
type Update struct {
	// ID is the provider's update id, strictly increasing per stream.
	ID     int64
	ChatID int64
	Kind   UpdateKind
	Text   string
	// Action is the raw action token of a button press.
	Action string
	// MessageID is the message that carried the pressed button.
	MessageID  int
	CallbackID string
	Username   string
}

// ActionKind is the type of an outbound action.
type ActionKind string

const (
	ActSend   ActionKind = "send"
	ActEdit   ActionKind = "edit"
	ActAnswer ActionKind = "answer"
)

// Action is one outbound call performed for an update.
type Action struct {
	Kind       ActionKind
	ChatID     int64
	MessageID  int
	CallbackID string
	Text       string
	Rows       [][]menu.Button
	// Failed is set when the gateway rejected the call.
	Failed bool
}

// Gateway is the outbound messaging channel.
type Gateway interface {
	Send(ctx context.Context, chatID int64, text string, rows [][]menu.Button) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, rows [][]menu.Button) error
	Acknowledge(ctx context.Context, callbackID, text string) error
}

// Options wires the dispatcher's collaborators.
type Options struct {
	Store    session.Store
	Accounts portal.Accounts
	Engine   *wizard.Engine
	Gateway  Gateway
	// Entities backs the ticket and task screens. Optional; without it those
	// buttons answer as unsupported.
	Entities portal.Entities
	// Notifier receives domain events after the chat lock is released. Optional.
	Notifier notify.Dispatcher
}

// Dispatcher routes updates.
type Dispatcher struct {
	store    session.Store
	accounts portal.Accounts
	engine   *wizard.Engine
	gateway  Gateway
	entities portal.Entities
	notifier notify.Dispatcher
	commands *registry
}

// New validates opts and registers the built-in commands.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("dispatch: nil session store")
	case opts.Accounts == nil:
		return nil, errors.New("dispatch: nil accounts")
	case opts.Engine == nil:
		return nil, errors.New("dispatch: nil wizard engine")
	case opts.Gateway == nil:
		return nil, errors.New("dispatch: nil gateway")
	}
	d := &Dispatcher{
		store:    opts.Store,
		accounts: opts.Accounts,
		engine:   opts.Engine,
		gateway:  opts.Gateway,
		entities: opts.Entities,
		notifier: opts.Notifier,
		commands: newRegistry(),
	}
	if err := registerBuiltins(d.commands); err != nil {
		return nil, err
	}
	return d, nil
}

// Commands lists the visible commands for the bot's command menu.
func (d *Dispatcher) Commands() []CommandInfo {
	return d.commands.list(true)
}

// Handle processes one update and returns the outbound actions that were
// performed. A redelivered update id changes nothing and sends nothing, but a
// button press is always acknowledged exactly once.
func (d *Dispatcher) Handle(ctx context.Context, u Update) ([]Action, error) {
	start := time.Now()
	var (
		t       *turn
		deduped bool
	)
	err := d.store.WithLock(ctx, u.ChatID, func(s *session.Session) error {
		if u.ID != 0 && u.ID <= s.LastUpdateID {
			deduped = true
			return nil
		}
		if u.ID != 0 {
			s.LastUpdateID = u.ID
		}
		t = newTurn(ctx, d, s, u)
		t.route()
		t.actions = d.deliver(ctx, s, t.actions)
		return nil
	})

	var actions []Action
	ackText := ""
	handler := "skip"
	if t != nil {
		actions = t.actions
		ackText = t.ack
		handler = t.handler
	}
	if err != nil {
		handler = "error"
		if errors.Is(err, session.ErrLockTimeout) {
			ackText = "Busy, please try again."
		}
	}
	if u.Kind == KindCallback && u.CallbackID != "" {
		ack := Action{Kind: ActAnswer, ChatID: u.ChatID, CallbackID: u.CallbackID, Text: ackText}
		if aerr := d.gateway.Acknowledge(ctx, u.CallbackID, ackText); aerr != nil {
			ack.Failed = true
			logger.Warn(ctx, "dispatch", "callback.ack",
				append([]slog.Attr{slog.String("status", "fail")}, logger.ErrAttrs(errs.Transport("answer", aerr))...)...)
		}
		actions = append(actions, ack)
	}

	if t != nil && len(t.events) > 0 && d.notifier != nil {
		for _, ev := range t.events {
			d.notifier.Dispatch(ctx, ev)
		}
	}

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("handler", handler),
		slog.String("kind", string(u.Kind)),
		slog.Int64("chat_id", u.ChatID),
		slog.Int64("update_id", u.ID),
		slog.Int("actions", len(actions)),
		slog.Bool("deduped", deduped),
		slog.Duration("duration", logger.Took(start)),
	}
	if t != nil && t.cause != nil {
		attrs = append(attrs, logger.ErrAttrs(t.cause)...)
	}
	if err != nil {
		attrs = append(attrs, logger.ErrAttrs(err)...)
		logger.Error(ctx, "dispatch", "update.routed", attrs...)
		return actions, fmt.Errorf("dispatch update %d: %w", u.ID, err)
	}
	logger.Info(ctx, "dispatch", "update.routed", attrs...)
	return actions, nil
}

// deliver performs the send and edit actions in order. A failed edit falls back
// to a new message; every successful send becomes the session's last message.
func (d *Dispatcher) deliver(ctx context.Context, s *session.Session, planned []Action) []Action {
	for i := range planned {
		a := &planned[i]
		if a.Kind == ActEdit {
			err := d.gateway.Edit(ctx, a.ChatID, a.MessageID, a.Text, a.Rows)
			if err == nil {
				s.LastMessageID = a.MessageID
				continue
			}
			logger.Warn(ctx, "dispatch", "reply.edit_fallback",
				append([]slog.Attr{slog.Int("message_id", a.MessageID)}, logger.ErrAttrs(errs.Transport("edit", err))...)...)
			a.Kind = ActSend
			a.MessageID = 0
		}
		id, err := d.gateway.Send(ctx, a.ChatID, a.Text, a.Rows)
		if err != nil {
			a.Failed = true
			logger.Error(ctx, "dispatch", "reply.send",
				append([]slog.Attr{slog.String("status", "fail")}, logger.ErrAttrs(errs.Transport("send", err))...)...)
			continue
		}
		a.MessageID = id
		s.LastMessageID = id
	}
	return planned
}

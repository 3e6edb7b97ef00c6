package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/format"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/notify"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/session"
	"github.com/m3rciful/portalbot/core/wizard"
)

const (
	textLinkFirst   = "🔒 Link your portal account first: send <code>/link your_username</code>."
	textUnsupported = "Unsupported action"
	textFailure     = "⚠️ Something went wrong, please try again."
	textExpired     = "⌛ Your unfinished form expired and was discarded."
	textNoWizard    = "This form is no longer active."
)

// turn holds the state of one update being routed under the chat lock.
type turn struct {
	ctx   context.Context
	d     *Dispatcher
	s     *session.Session
	u     Update
	actor wizard.Actor

	handler string
	actions []Action
	events  []notify.Event
	ack     string
	cause   error
}

func newTurn(ctx context.Context, d *Dispatcher, s *session.Session, u Update) *turn {
	return &turn{ctx: ctx, d: d, s: s, u: u, handler: "unknown"}
}

func (t *turn) route() {
	t.refreshAccount()
	if t.d.engine.Expire(t.ctx, t.s) {
		t.send(menu.Node{Text: textExpired})
	}
	switch t.u.Kind {
	case KindCallback:
		t.onCallback(t.u.Action, true)
	default:
		t.onText(strings.TrimSpace(t.u.Text))
	}
}

// refreshAccount re-reads the chat's portal account so role changes apply to
// the next update. A failed lookup keeps the cached identity.
func (t *turn) refreshAccount() {
	user, err := t.d.accounts.ResolveUserByChat(t.ctx, t.s.ChatID)
	if err != nil {
		logger.Warn(t.ctx, "dispatch", "account.refresh",
			append([]slog.Attr{slog.String("status", "fail")}, logger.ErrAttrs(errs.Repository("resolve_user_by_chat", err))...)...)
	} else if user == nil {
		t.s.UserID = 0
		t.s.Role = portal.RoleUnlinked
	} else {
		t.s.UserID = user.ID
		t.s.Role = user.Role
		t.actor.Name = user.DisplayName()
	}
	t.actor.UserID = t.s.UserID
	t.actor.Role = t.s.Role
	if t.s.Wizard != nil && !t.d.engine.Allowed(t.s.Role, t.s.Wizard.Kind) {
		t.s.Wizard = nil
	}
}

func (t *turn) linked() bool { return t.s.Linked() }

// reply renders node in place of the pressed button's message, or as a new
// message for typed input.
func (t *turn) reply(node menu.Node) {
	if t.u.Kind == KindCallback && t.u.MessageID != 0 {
		t.actions = append(t.actions, Action{Kind: ActEdit, ChatID: t.s.ChatID, MessageID: t.u.MessageID, Text: node.Text, Rows: node.Rows})
		return
	}
	t.send(node)
}

func (t *turn) send(node menu.Node) {
	t.actions = append(t.actions, Action{Kind: ActSend, ChatID: t.s.ChatID, Text: node.Text, Rows: node.Rows})
}

func (t *turn) fail(err error) {
	t.cause = err
	t.reply(menu.Node{Text: textFailure, Rows: [][]menu.Button{menu.Row(menu.BackButton(menu.Main))}})
}

func (t *turn) linkPrompt() {
	node := menu.Build(portal.RoleUnlinked, menu.Main)
	node.Text = textLinkFirst + "\n\n" + node.Text
	t.reply(node)
}

func (t *turn) onText(text string) {
	if strings.HasPrefix(text, "/") {
		t.onCommand(text)
		return
	}
	if t.s.Wizard != nil {
		t.handler = "wizard.text"
		res, err := t.d.engine.SubmitText(t.ctx, t.s, t.actor, text)
		t.applyResult(res, err)
		return
	}
	if !t.linked() {
		t.handler = "unlinked"
		t.linkPrompt()
		return
	}
	t.handler = "fallback"
	node := menu.Build(t.s.Role, menu.Main)
	node.Text = "I did not get that. Pick an option below or send /help.\n\n" + node.Text
	t.send(node)
}

func (t *turn) onCommand(text string) {
	name, args := splitCommand(text)
	key, cmd, ok := t.d.commands.lookup(name)
	if !ok {
		t.handler = "command.unknown"
		t.send(menu.Node{Text: "Unknown command. Send /help to see what I can do."})
		return
	}
	t.handler = "command." + strings.TrimPrefix(key, "/")
	if !cmd.public && !t.linked() {
		t.cause = &errs.UnauthorizedError{Action: key}
		t.linkPrompt()
		return
	}
	if cmd.deferred != "" && t.s.Wizard != nil {
		t.handler += ".guard"
		t.send(t.d.engine.Guard(t.s, cmd.deferred))
		return
	}
	cmd.run(t, args)
}

// splitCommand separates "/cmd@bot args" into "/cmd" and "args".
func splitCommand(text string) (string, string) {
	name, args, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	return strings.ToLower(name), strings.TrimSpace(args)
}

// onCallback routes a button press. guarded is false when the press replays a
// deferred action after the user discarded the wizard.
func (t *turn) onCallback(raw string, guarded bool) {
	tok, err := action.Parse(raw)
	if err != nil {
		t.handler = "callback.invalid"
		t.ack = textUnsupported
		return
	}
	if !t.linked() && !publicCallback(tok) {
		t.handler = "callback.unlinked"
		t.cause = &errs.UnauthorizedError{Action: raw}
		t.ack = "Link your account first"
		t.linkPrompt()
		return
	}

	switch tok.Namespace {
	case action.NSNav:
		t.handler = "callback.nav"
		if guarded && t.s.Wizard != nil {
			t.reply(t.d.engine.Guard(t.s, raw))
			return
		}
		t.navigate(tok.Payload)
	case action.NSWizard:
		t.onWizardCallback(tok, raw, guarded)
	case action.NSGuard:
		t.onGuardCallback(tok)
	case action.NSTicket, action.NSTask:
		t.onEntityCallback(tok, raw, guarded)
	default:
		t.handler = "callback.unknown"
		t.ack = textUnsupported
	}
}

func publicCallback(tok action.Token) bool {
	if tok.Namespace != action.NSNav {
		return false
	}
	loc := menu.Location(tok.Payload)
	return loc == menu.Main || loc == menu.LinkHelp
}

func (t *turn) navigate(payload string) {
	loc, ok := menu.ParseLocation(payload)
	if !ok {
		t.ack = textUnsupported
	}
	t.reply(menu.Build(t.s.Role, loc))
}

func (t *turn) onWizardCallback(tok action.Token, raw string, guarded bool) {
	parts := tok.Parts(2)
	if len(parts) > 0 && parts[0] == action.VerbStart {
		t.handler = "callback.wizard.start"
		if guarded && t.s.Wizard != nil {
			t.reply(t.d.engine.Guard(t.s, raw))
			return
		}
		kind := ""
		if len(parts) == 2 {
			kind = parts[1]
		}
		t.startWizard(kind)
		return
	}

	t.handler = "callback.wizard"
	if t.s.Wizard == nil {
		t.ack = textNoWizard
		t.reply(menu.Build(t.s.Role, menu.Main))
		return
	}
	res, err := t.d.engine.SubmitChoice(t.ctx, t.s, t.actor, tok)
	t.applyResult(res, err)
}

func (t *turn) onGuardCallback(tok action.Token) {
	parts := tok.Parts(2)
	verb := ""
	if len(parts) > 0 {
		verb = parts[0]
	}
	switch verb {
	case action.VerbKeep:
		t.handler = "callback.guard.keep"
		if t.s.Wizard == nil {
			t.ack = textNoWizard
			t.reply(menu.Build(t.s.Role, menu.Main))
			return
		}
		node, err := t.d.engine.Resume(t.ctx, t.s, t.actor)
		if err != nil {
			t.fail(err)
			return
		}
		t.reply(node)
	case action.VerbDrop:
		t.handler = "callback.guard.drop"
		if t.s.Wizard != nil {
			t.d.engine.Cancel(t.ctx, t.s)
		}
		deferred := action.Nav(string(menu.Main))
		if len(parts) == 2 && parts[1] != "" {
			deferred = parts[1]
		}
		t.onCallback(deferred, false)
	default:
		t.handler = "callback.guard"
		t.ack = textUnsupported
	}
}

func (t *turn) startWizard(kind string) {
	node, err := t.d.engine.Start(t.ctx, t.s, t.actor, kind)
	switch {
	case err == nil:
		t.reply(node)
	case errs.IsUnauthorized(err):
		t.cause = err
		t.ack = "Not available for your role"
		t.reply(menu.Build(t.s.Role, menu.Main))
	case errs.IsNotFound(err):
		t.cause = err
		t.ack = textUnsupported
		t.reply(menu.Build(t.s.Role, menu.Main))
	default:
		t.fail(err)
	}
}

// applyResult turns an engine outcome into replies and queued events.
func (t *turn) applyResult(res wizard.Result, err error) {
	switch {
	case err == nil:
	case errors.Is(err, wizard.ErrNoWizard):
		t.ack = textNoWizard
		t.reply(menu.Build(t.s.Role, menu.Main))
		return
	case errs.IsRepository(err) && res.Node.Text != "":
		t.cause = err
		t.reply(res.Node)
		return
	case errs.IsNotFound(err):
		t.cause = err
		t.reply(menu.Node{Text: "⚠️ This form is no longer available.", Rows: [][]menu.Button{menu.Row(menu.BackButton(menu.Main))}})
		return
	default:
		t.fail(err)
		return
	}
	if res.Rejected != nil {
		t.cause = res.Rejected
		if t.u.Kind == KindCallback {
			t.ack = format.Truncate(strings.TrimSuffix(reasonText(res.Rejected), "."), 180)
		}
	}
	t.reply(res.Node)
	if res.Event != nil {
		t.events = append(t.events, *res.Event)
	}
}

func reasonText(err error) string {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	if errs.IsNotFound(err) {
		return "That option is no longer available"
	}
	return ""
}

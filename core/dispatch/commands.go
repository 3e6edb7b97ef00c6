package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/format"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/portal"
)

// CommandInfo describes a command for the client's command menu.
type CommandInfo struct {
	Name        string
	Description string
}

type command struct {
	run         func(t *turn, args string)
	description string
	aliases     []string
	hidden      bool
	// public commands are available to chats without a linked account.
	public bool
	// deferred, when set, is the action performed once an active wizard is
	// discarded; such commands ask before leaving the wizard.
	deferred string
}

type registry struct {
	commands map[string]command
}

func newRegistry() *registry {
	return &registry{commands: make(map[string]command)}
}

func (r *registry) register(name string, cmd command) error {
	if name == "" || name[0] != '/' {
		return fmt.Errorf("command %q must start with a slash", name)
	}
	if cmd.run == nil || cmd.description == "" {
		return fmt.Errorf("command %s needs a handler and a description", name)
	}
	if _, exists := r.commands[name]; exists {
		logger.Warn(context.Background(), "dispatch", "register.command.duplicate", slog.String("name", name))
		return fmt.Errorf("command %s already registered", name)
	}
	r.commands[name] = cmd
	return nil
}

// lookup finds a command by name or alias and returns its canonical name.
func (r *registry) lookup(name string) (string, command, bool) {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.aliases {
			if alias == name || "/"+alias == name {
				return key, cmd, true
			}
		}
	}
	return "", command{}, false
}

func (r *registry) list(visibleOnly bool) []CommandInfo {
	out := make([]CommandInfo, 0, len(r.commands))
	for name, cmd := range r.commands {
		if visibleOnly && cmd.hidden {
			continue
		}
		out = append(out, CommandInfo{Name: name, Description: cmd.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func registerBuiltins(r *registry) error {
	toMain := action.Nav(string(menu.Main))
	builtins := map[string]command{
		"/start":     {run: cmdStart, description: "Start the bot", public: true, deferred: toMain},
		"/menu":      {run: cmdMenu, description: "Main menu", aliases: []string{"m"}, deferred: toMain},
		"/link":      {run: cmdLink, description: "Link your portal account", public: true},
		"/cancel":    {run: cmdCancel, description: "Cancel the current form"},
		"/help":      {run: cmdHelp, description: "List commands", public: true},
		"/newticket": {run: startCmd(action.KindCreateTicket), description: "Create a ticket", deferred: action.StartWizard(action.KindCreateTicket)},
		"/newtask":   {run: startCmd(action.KindCreateTask), description: "Create a task", deferred: action.StartWizard(action.KindCreateTask)},
		"/report":    {run: startCmd(action.KindReportProgress), description: "Report progress on a ticket", deferred: action.StartWizard(action.KindReportProgress)},
	}
	for name, cmd := range builtins {
		if err := r.register(name, cmd); err != nil {
			return err
		}
	}
	return nil
}

func cmdStart(t *turn, _ string) {
	t.send(menu.Build(t.s.Role, menu.Main))
}

func cmdMenu(t *turn, _ string) {
	t.send(menu.Build(t.s.Role, menu.Main))
}

func cmdHelp(t *turn, _ string) {
	t.send(menu.Node{Text: menu.HelpText(t.s.Role)})
}

func cmdCancel(t *turn, _ string) {
	t.send(t.d.engine.Cancel(t.ctx, t.s))
}

func startCmd(kind string) func(*turn, string) {
	return func(t *turn, _ string) { t.startWizard(kind) }
}

func cmdLink(t *turn, args string) {
	username := strings.TrimPrefix(strings.TrimSpace(args), "@")
	if username == "" {
		t.send(menu.Node{Text: "Send <code>/link your_username</code> with the username you use in the portal."})
		return
	}
	user, err := t.d.accounts.LinkAccount(t.ctx, t.s.ChatID, username)
	if err != nil {
		t.fail(errs.Repository("link_account", err))
		return
	}
	if user == nil {
		t.cause = &errs.NotFoundError{Kind: "user", ID: username}
		t.send(menu.Node{Text: fmt.Sprintf("❌ No portal account with username <b>%s</b>.", format.EscapeHTML(username))})
		return
	}
	t.s.UserID = user.ID
	t.s.Role = user.Role
	t.actor.UserID = user.ID
	t.actor.Role = user.Role
	t.actor.Name = user.DisplayName()
	logger.Info(t.ctx, "dispatch", "account.linked",
		slog.Int64("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	if user.Role == portal.RoleUnlinked {
		t.send(menu.Node{Text: "✅ Account linked, but it has no bot role yet. Ask a director to assign one."})
		return
	}
	node := menu.Build(user.Role, menu.Main)
	node.Text = fmt.Sprintf("✅ Linked as <b>%s</b>.\n\n%s", format.EscapeHTML(user.DisplayName()), node.Text)
	t.send(node)
}

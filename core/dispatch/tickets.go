package dispatch

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/format"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/notify"
	"github.com/m3rciful/portalbot/core/portal"
)

const (
	textForbidden = "Not available for your role"
	textGone      = "That item no longer exists"
	listLimit     = 15
)

// canAssign reports whether role may hand tickets to managers.
func canAssign(role portal.Role) bool {
	return role == portal.RoleDirector || role == portal.RoleManager
}

// canComplete reports whether the actor may close task: its assignee, its
// creator or a director.
func (t *turn) canComplete(task *portal.TaskRef) bool {
	uid := t.s.UserID
	return t.s.Role == portal.RoleDirector || (uid != 0 && (task.AssigneeID == uid || task.CreatedBy == uid))
}

// onEntityCallback routes the ticket and task namespaces. Like navigation, a
// press while a form is open asks whether to discard it first.
func (t *turn) onEntityCallback(tok action.Token, raw string, guarded bool) {
	parts := tok.Parts(0)
	verb := ""
	if len(parts) > 0 {
		verb = parts[0]
	}
	t.handler = "callback." + string(tok.Namespace) + "." + verb
	if t.d.entities == nil {
		t.ack = textUnsupported
		t.reply(menu.Build(t.s.Role, menu.Main))
		return
	}
	if guarded && t.s.Wizard != nil {
		t.reply(t.d.engine.Guard(t.s, raw))
		return
	}

	id, hasID := tok.ID(1)
	switch {
	case tok.Namespace == action.NSTicket && verb == action.VerbList:
		t.listTickets()
	case tok.Namespace == action.NSTicket && verb == action.VerbShow && hasID:
		t.showTicket(id, "")
	case tok.Namespace == action.NSTicket && verb == action.VerbAssign && hasID:
		t.pickAssignee(id, "")
	case tok.Namespace == action.NSTicket && verb == action.VerbAssignTo && hasID:
		uid, ok := tok.ID(2)
		if !ok {
			t.ack = textUnsupported
			return
		}
		t.assignTicket(id, uid)
	case tok.Namespace == action.NSTask && verb == action.VerbList:
		t.listTasks()
	case tok.Namespace == action.NSTask && verb == action.VerbShow && hasID:
		t.showTask(id, "")
	case tok.Namespace == action.NSTask && verb == action.VerbDone && hasID:
		t.completeTask(id)
	default:
		t.ack = textUnsupported
	}
}

// entityFailed reports a lookup or persistence error. Missing entities get a
// terminal message; anything else is a generic failure.
func (t *turn) entityFailed(err error, back string) {
	if errs.IsNotFound(err) {
		t.cause = err
		t.ack = textGone
		t.reply(menu.Node{Text: "⚠️ " + textGone + ".", Rows: [][]menu.Button{menu.Row(menu.Btn("🔙 Back", back))}})
		return
	}
	t.fail(err)
}

func (t *turn) candidateList(kind portal.CandidateKind, userID int64, title, empty string, open func(int64) string) {
	items, err := t.d.entities.ListCandidates(t.ctx, kind, portal.Filter{UserID: userID, Limit: listLimit})
	if err != nil {
		t.fail(errs.Repository("list_"+string(kind), err))
		return
	}
	text := title
	if len(items) == 0 {
		text += "\n\n" + empty
	}
	rows := make([][]menu.Button, 0, len(items)+1)
	for _, it := range items {
		rows = append(rows, menu.Row(menu.Btn(format.Truncate(it.Label, 48), open(it.ID))))
	}
	rows = append(rows, menu.Row(menu.BackButton(menu.Main)))
	t.reply(menu.Node{Text: text, Rows: rows})
}

func (t *turn) listTickets() {
	var uid int64
	if t.s.Role != portal.RoleDirector {
		uid = t.s.UserID
	}
	kind := portal.CandidateOpenTickets
	if uid != 0 {
		kind = portal.CandidateMyTickets
	}
	t.candidateList(kind, uid, "📋 <b>Open tickets</b>", "No open tickets.", action.ShowTicket)
}

func (t *turn) listTasks() {
	var uid int64
	if t.s.Role != portal.RoleDirector {
		uid = t.s.UserID
	}
	t.candidateList(portal.CandidateOpenTasks, uid, "📝 <b>Open tasks</b>", "No open tasks.", action.ShowTask)
}

func deadlineLabel(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return format.HumanDate(d)
}

func ticketText(tk *portal.TicketRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎫 <b>Ticket #%d</b>\n%s\n", tk.ID, format.EscapeHTML(tk.Title))
	fmt.Fprintf(&b, "\nStatus: %s", format.EscapeHTML(tk.Status))
	if tk.Priority != "" {
		fmt.Fprintf(&b, "\nPriority: %s", format.EscapeHTML(tk.Priority))
	}
	if !tk.Deadline.IsZero() {
		fmt.Fprintf(&b, "\nDeadline: %s", format.HumanDate(tk.Deadline))
	}
	assignee := "nobody yet"
	if tk.Assignee != "" {
		assignee = tk.Assignee
	}
	fmt.Fprintf(&b, "\nAssignee: %s", format.EscapeHTML(assignee))
	return b.String()
}

func (t *turn) showTicket(id int64, notice string) {
	tk, err := t.d.entities.GetTicket(t.ctx, id)
	if err != nil {
		t.entityFailed(err, action.TicketList())
		return
	}
	text := ticketText(tk)
	if notice != "" {
		text = notice + "\n\n" + text
	}
	var rows [][]menu.Button
	if canAssign(t.s.Role) && tk.Status != portal.StatusClosed {
		rows = append(rows, menu.Row(menu.Btn("👤 Assign", action.AssignTicket(id))))
	}
	rows = append(rows, menu.Row(menu.Btn("🔙 Back", action.TicketList())))
	t.reply(menu.Node{Text: text, Rows: rows})
}

func (t *turn) pickAssignee(id int64, notice string) {
	if !canAssign(t.s.Role) {
		t.cause = &errs.UnauthorizedError{Action: action.AssignTicket(id)}
		t.ack = textForbidden
		return
	}
	managers, err := t.d.entities.ListCandidates(t.ctx, portal.CandidateManagers, portal.Filter{Limit: listLimit})
	if err != nil {
		t.fail(errs.Repository("list_managers", err))
		return
	}
	text := fmt.Sprintf("👤 <b>Assign ticket #%d</b>\n\nWho should work on it?", id)
	if notice != "" {
		text = notice + "\n\n" + text
	}
	rows := make([][]menu.Button, 0, len(managers)+1)
	for _, m := range managers {
		rows = append(rows, menu.Row(menu.Btn(m.Label, action.AssignTo(id, m.ID))))
	}
	rows = append(rows, menu.Row(menu.Btn("🔙 Back", action.ShowTicket(id))))
	t.reply(menu.Node{Text: text, Rows: rows})
}

// assignTicket hands the ticket to userID and notifies the new assignee.
// The assignee must still hold a role that can take tickets.
func (t *turn) assignTicket(id, userID int64) {
	if !canAssign(t.s.Role) {
		t.cause = &errs.UnauthorizedError{Action: action.AssignTo(id, userID)}
		t.ack = textForbidden
		return
	}
	role, err := t.d.accounts.ResolveRole(t.ctx, userID)
	if err != nil && !errs.IsNotFound(err) {
		t.fail(errs.Repository("resolve_role", err))
		return
	}
	if err != nil || !canAssign(role) {
		t.cause = &errs.NotFoundError{Kind: "assignee", ID: fmt.Sprint(userID)}
		t.ack = "That option is no longer available"
		t.pickAssignee(id, "⚠️ That person can no longer take tickets.")
		return
	}

	tk, err := t.d.entities.AssignTicket(t.ctx, id, userID)
	if errs.IsValidation(err) {
		t.cause = err
		t.ack = "Ticket is closed"
		t.showTicket(id, "")
		return
	}
	if err != nil {
		t.entityFailed(err, action.TicketList())
		return
	}
	logger.Info(t.ctx, "dispatch", "ticket.assign",
		slog.String("status", "ok"),
		slog.Int64("ticket_id", id),
		slog.Int64("assignee_id", userID),
	)
	t.events = append(t.events, notify.Event{
		Kind:     notify.TicketAssigned,
		EntityID: tk.ID,
		Fields: map[string]string{
			notify.FieldTitle:    tk.Title,
			notify.FieldPriority: tk.Priority,
			notify.FieldDeadline: deadlineLabel(tk.Deadline),
			notify.FieldAuthor:   t.actor.Name,
		},
		ExplicitRecipients: []int64{userID},
	})
	t.ack = "Assigned"
	t.reply(menu.Node{
		Text: "✅ Assigned.\n\n" + ticketText(tk),
		Rows: [][]menu.Button{menu.Row(menu.Btn("🔙 Back", action.TicketList()))},
	})
}

func taskText(task *portal.TaskRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 <b>Task #%d</b>\n%s\n", task.ID, format.EscapeHTML(task.Title))
	if task.Ticket != "" {
		fmt.Fprintf(&b, "\nTicket: %s", format.EscapeHTML(task.Ticket))
	}
	fmt.Fprintf(&b, "\nStatus: %s", format.EscapeHTML(task.Status))
	if task.Priority != "" {
		fmt.Fprintf(&b, "\nPriority: %s", format.EscapeHTML(task.Priority))
	}
	if !task.Deadline.IsZero() {
		fmt.Fprintf(&b, "\nDeadline: %s", format.HumanDate(task.Deadline))
	}
	if task.Assignee != "" {
		fmt.Fprintf(&b, "\nAssignee: %s", format.EscapeHTML(task.Assignee))
	}
	return b.String()
}

func (t *turn) showTask(id int64, notice string) {
	task, err := t.d.entities.GetTask(t.ctx, id)
	if err != nil {
		t.entityFailed(err, action.TaskList())
		return
	}
	text := taskText(task)
	if notice != "" {
		text = notice + "\n\n" + text
	}
	var rows [][]menu.Button
	if task.Status != portal.StatusCompleted && t.canComplete(task) {
		rows = append(rows, menu.Row(menu.Btn("✅ Mark completed", action.CompleteTask(id))))
	}
	rows = append(rows, menu.Row(menu.Btn("🔙 Back", action.TaskList())))
	t.reply(menu.Node{Text: text, Rows: rows})
}

// completeTask closes the task and notifies its creator and the directors.
func (t *turn) completeTask(id int64) {
	task, err := t.d.entities.GetTask(t.ctx, id)
	if err != nil {
		t.entityFailed(err, action.TaskList())
		return
	}
	if !t.canComplete(task) {
		t.cause = &errs.UnauthorizedError{Action: action.CompleteTask(id)}
		t.ack = textForbidden
		return
	}
	done, err := t.d.entities.CompleteTask(t.ctx, id)
	if errs.IsValidation(err) {
		t.cause = err
		t.ack = "Task is already completed"
		t.showTask(id, "")
		return
	}
	if err != nil {
		t.entityFailed(err, action.TaskList())
		return
	}
	logger.Info(t.ctx, "dispatch", "task.complete",
		slog.String("status", "ok"),
		slog.Int64("task_id", id),
	)
	ev := notify.Event{
		Kind:     notify.TaskCompleted,
		EntityID: done.ID,
		Fields: map[string]string{
			notify.FieldTitle:    done.Title,
			notify.FieldTicket:   done.Ticket,
			notify.FieldAssignee: t.actor.Name,
		},
		RoleRecipients: []portal.Role{portal.RoleDirector},
	}
	if done.CreatedBy != 0 {
		ev.ExplicitRecipients = []int64{done.CreatedBy}
	}
	t.events = append(t.events, ev)
	t.ack = "Completed"
	t.reply(menu.Node{
		Text: "🏁 Task completed.\n\n" + taskText(done),
		Rows: [][]menu.Button{menu.Row(menu.Btn("🔙 Back", action.TaskList()))},
	})
}

package notify

import (
	"fmt"
	"strings"

	"github.com/m3rciful/portalbot/core/format"
)

type template struct {
	heading string
	lines   []line
}

type line struct {
	field   string
	caption string
}

var templates = map[Kind]template{
	TicketCreated: {heading: "🎫 <b>New ticket #%d</b>", lines: []line{
		{FieldTitle, ""}, {FieldPriority, "Priority"}, {FieldDeadline, "Deadline"},
		{FieldAssignee, "Assignee"}, {FieldAuthor, "Author"},
	}},
	TicketAssigned: {heading: "👤 <b>Ticket #%d assigned to you</b>", lines: []line{
		{FieldTitle, ""}, {FieldPriority, "Priority"}, {FieldDeadline, "Deadline"}, {FieldAuthor, "Assigned by"},
	}},
	TaskCreated: {heading: "✅ <b>New task #%d</b>", lines: []line{
		{FieldTitle, ""}, {FieldTicket, "Ticket"}, {FieldPriority, "Priority"},
		{FieldDeadline, "Deadline"}, {FieldAssignee, "Assignee"}, {FieldAuthor, "Author"},
	}},
	TaskCompleted: {heading: "🏁 <b>Task #%d completed</b>", lines: []line{
		{FieldTitle, ""}, {FieldTicket, "Ticket"}, {FieldAssignee, "By"},
	}},
	DeadlineApproaching: {heading: "⏰ <b>Deadline approaching for ticket #%d</b>", lines: []line{
		{FieldTitle, ""}, {FieldDeadline, "Deadline"}, {FieldPriority, "Priority"}, {FieldAssignee, "Assignee"},
	}},
	DeadlineOverdue: {heading: "🚨 <b>Ticket #%d is overdue</b>", lines: []line{
		{FieldTitle, ""}, {FieldDeadline, "Deadline"}, {FieldPriority, "Priority"}, {FieldAssignee, "Assignee"},
	}},
	ReportSubmitted: {heading: "✍️ <b>New progress report #%d</b>", lines: []line{
		{FieldTicket, "Ticket"}, {FieldAuthor, "Author"}, {FieldBody, ""},
	}},
}

// Render formats ev as an HTML message body. Field values are escaped.
func Render(ev Event) string {
	tpl, ok := templates[ev.Kind]
	if !ok {
		return fmt.Sprintf("🔔 <b>%s</b> #%d", format.EscapeHTML(string(ev.Kind)), ev.EntityID)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf(tpl.heading, ev.EntityID))
	b.WriteString("\n")
	for _, l := range tpl.lines {
		v := strings.TrimSpace(ev.Fields[l.field])
		if v == "" {
			continue
		}
		v = format.EscapeHTML(format.Truncate(v, 500))
		b.WriteString("\n")
		if l.caption == "" {
			b.WriteString(v)
			continue
		}
		b.WriteString(l.caption)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

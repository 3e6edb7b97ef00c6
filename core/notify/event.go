// Package notify fans domain events out to the chats of their recipients.
package notify

import (
	"github.com/m3rciful/portalbot/core/portal"
)

// Kind classifies a domain event.
type Kind string

const (
	TicketCreated       Kind = "ticket_created"
	TicketAssigned      Kind = "ticket_assigned"
	TaskCreated         Kind = "task_created"
	TaskCompleted       Kind = "task_completed"
	DeadlineApproaching Kind = "deadline_approaching"
	DeadlineOverdue     Kind = "deadline_overdue"
	ReportSubmitted     Kind = "report_submitted"
)

// Summary field keys understood by the message templates.
const (
	FieldTitle       = "title"
	FieldPriority    = "priority"
	FieldDeadline    = "deadline"
	FieldAssignee    = "assignee"
	FieldAuthor      = "author"
	FieldTicket      = "ticket"
	FieldBody        = "body"
	FieldDescription = "description"
)

// Event is produced once, handed to Fanout.Dispatch and then discarded.
// The final recipient set is the union of ExplicitRecipients (portal user ids)
// and every account holding one of RoleRecipients, deduplicated by chat.
type Event struct {
	Kind               Kind
	EntityID           int64
	Fields             map[string]string
	ExplicitRecipients []int64
	RoleRecipients     []portal.Role
}

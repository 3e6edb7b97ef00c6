// Package portal describes the narrow contract the bot core needs from the
// portal's entity store: account resolution, entity creation, candidate
// listing for choice steps and recipient lookup for notifications.
package portal

import (
	"context"
	"strings"
	"time"
)

// Role is the access-level classification of a portal account.
type Role string

const (
	RoleDirector Role = "director"
	RoleManager  Role = "manager"
	RoleArtist   Role = "artist"
	// RoleUnlinked marks a chat with no linked portal account.
	RoleUnlinked Role = "unlinked"
)

// ParseRole maps a stored role name to a Role, falling back to RoleUnlinked.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDirector:
		return RoleDirector
	case RoleManager:
		return RoleManager
	case RoleArtist:
		return RoleArtist
	}
	return RoleUnlinked
}

// UserRef identifies a linked portal account.
type UserRef struct {
	ID       int64
	Username string
	FullName string
	Role     Role
	ChatID   int64
}

// DisplayName returns the full name when known, otherwise the username.
func (u UserRef) DisplayName() string {
	if strings.TrimSpace(u.FullName) != "" {
		return u.FullName
	}
	return u.Username
}

// EntityKind names a persistable business entity.
type EntityKind string

const (
	EntityTicket EntityKind = "ticket"
	EntityTask   EntityKind = "task"
	EntityReport EntityKind = "report"
)

// Draft is a validated entity ready for persistence.
type Draft struct {
	Kind      EntityKind
	CreatedBy int64
	Fields    map[string]string
}

// CandidateKind names a dynamic choice source.
type CandidateKind string

const (
	CandidateManagers    CandidateKind = "managers"
	CandidateOpenTickets CandidateKind = "open_tickets"
	CandidateMyTickets   CandidateKind = "my_tickets"
	// CandidateOpenTasks lists unfinished tasks; a non-zero Filter.UserID keeps
	// only tasks assigned to or created by that user.
	CandidateOpenTasks CandidateKind = "open_tasks"
)

// Ticket and task statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
	StatusCompleted  = "completed"
)

// Filter narrows a candidate listing.
type Filter struct {
	UserID int64
	Limit  int
}

// Candidate is a selectable option produced by the repository.
type Candidate struct {
	ID    int64
	Label string
}

// DeadlineItem describes an open ticket with a deadline, used by the deadline sweep.
type DeadlineItem struct {
	TicketID   int64
	Title      string
	Priority   string
	Deadline   time.Time
	AssigneeID int64
	Assignee   string
	Creator    string
}

// TicketRef is the detail view of one ticket.
type TicketRef struct {
	ID         int64
	Title      string
	Priority   string
	Status     string
	Deadline   time.Time
	CreatedBy  int64
	AssigneeID int64
	Assignee   string
}

// TaskRef is the detail view of one task.
type TaskRef struct {
	ID         int64
	TicketID   int64
	Ticket     string
	Title      string
	Priority   string
	Status     string
	Deadline   time.Time
	CreatedBy  int64
	AssigneeID int64
	Assignee   string
}

// Accounts resolves chat identities to portal accounts.
type Accounts interface {
	ResolveRole(ctx context.Context, userID int64) (Role, error)
	ResolveUserByChat(ctx context.Context, chatID int64) (*UserRef, error)
	LinkAccount(ctx context.Context, chatID int64, username string) (*UserRef, error)
}

// Entities persists drafts and lists candidates for dynamic choice steps.
type Entities interface {
	CreateEntity(ctx context.Context, draft Draft) (int64, error)
	ListCandidates(ctx context.Context, kind CandidateKind, filter Filter) ([]Candidate, error)

	// GetTicket and GetTask return a NotFoundError for unknown ids.
	GetTicket(ctx context.Context, id int64) (*TicketRef, error)
	GetTask(ctx context.Context, id int64) (*TaskRef, error)
	// AssignTicket sets the ticket's assignee and moves an open ticket to in
	// progress. Closed tickets are rejected with a ValidationError.
	AssignTicket(ctx context.Context, ticketID, assigneeID int64) (*TicketRef, error)
	// CompleteTask marks a task completed. A task that is already completed is
	// rejected with a ValidationError so completion is reported once.
	CompleteTask(ctx context.Context, taskID int64) (*TaskRef, error)
}

// Recipients resolves notification targets to chat identities.
// Accounts without a linked chat are omitted from the results.
type Recipients interface {
	ChatIDsForUsers(ctx context.Context, userIDs []int64) (map[int64]int64, error)
	ChatIDsForRoles(ctx context.Context, roles []Role) ([]int64, error)
}

// Deadlines lists open tickets by deadline for the sweep.
type Deadlines interface {
	DueBetween(ctx context.Context, from, to time.Time) ([]DeadlineItem, error)
	Overdue(ctx context.Context, now time.Time) ([]DeadlineItem, error)
}

// Repository is the full collaborator surface implemented by the storage adapters.
type Repository interface {
	Accounts
	Entities
	Recipients
	Deadlines
}

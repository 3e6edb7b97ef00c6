// Package memory provides an in-process portal repository for tests and local development.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/portal"
)

// Ticket is the stored form of a ticket.
type Ticket struct {
	ID          int64
	Title       string
	Description string
	Priority    string
	Status      string
	Deadline    time.Time
	CreatedBy   int64
	AssignedTo  int64
}

// Task is the stored form of a task.
type Task struct {
	ID          int64
	TicketID    int64
	Title       string
	Priority    string
	Status      string
	Deadline    time.Time
	CreatedBy   int64
	AssignedTo  int64
	CompletedAt time.Time
}

// Record is a stored entity that is not a ticket (tasks and reports).
type Record struct {
	ID     int64
	Kind   portal.EntityKind
	Author int64
	Fields map[string]string
}

// Repository is a mutex-guarded in-memory implementation of portal.Repository.
type Repository struct {
	mu      sync.RWMutex
	users   map[int64]*portal.UserRef
	tickets map[int64]*Ticket
	tasks   map[int64]*Task
	records []Record
	nextID  int64

	// CreateErr, when set, is returned by CreateEntity without storing anything.
	CreateErr error
	creates   int
}

var _ portal.Repository = (*Repository)(nil)

// New returns an empty repository.
func New() *Repository {
	return &Repository{
		users:   make(map[int64]*portal.UserRef),
		tickets: make(map[int64]*Ticket),
		tasks:   make(map[int64]*Task),
		nextID:  100,
	}
}

// AddUser registers an account. A zero ChatID means the account is not linked yet.
func (r *Repository) AddUser(u portal.UserRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := u
	r.users[u.ID] = &cp
}

// AddTicket stores a ticket directly, bypassing the wizard.
func (r *Repository) AddTicket(t Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := t
	if cp.Status == "" {
		cp.Status = portal.StatusOpen
	}
	r.tickets[t.ID] = &cp
}

// AddTask stores a task directly, bypassing the wizard.
func (r *Repository) AddTask(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := t
	if cp.Status == "" {
		cp.Status = portal.StatusOpen
	}
	r.tasks[t.ID] = &cp
}

// Task returns a stored task by id.
func (r *Repository) Task(id int64) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Ticket returns a stored ticket by id.
func (r *Repository) Ticket(id int64) (Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	if !ok {
		return Ticket{}, false
	}
	return *t, true
}

// Records returns stored non-ticket entities in creation order.
func (r *Repository) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Record(nil), r.records...)
}

// CreateCalls reports how many times CreateEntity was invoked.
func (r *Repository) CreateCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creates
}

// ResolveRole returns the role of a user.
func (r *Repository) ResolveRole(_ context.Context, userID int64) (portal.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return portal.RoleUnlinked, &errs.NotFoundError{Kind: "user", ID: strconv.FormatInt(userID, 10)}
	}
	return u.Role, nil
}

// ResolveUserByChat returns the account linked to chatID, or nil when none is linked.
func (r *Repository) ResolveUserByChat(_ context.Context, chatID int64) (*portal.UserRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.ChatID == chatID && chatID != 0 {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// LinkAccount binds chatID to the account with the given username.
func (r *Repository) LinkAccount(_ context.Context, chatID int64, username string) (*portal.UserRef, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			u.ChatID = chatID
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateEntity stores a draft and returns its id.
func (r *Repository) CreateEntity(_ context.Context, draft portal.Draft) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.CreateErr != nil {
		return 0, r.CreateErr
	}
	r.nextID++
	id := r.nextID
	fields := make(map[string]string, len(draft.Fields))
	for k, v := range draft.Fields {
		fields[k] = v
	}
	if draft.Kind == portal.EntityTicket {
		t := &Ticket{
			ID:          id,
			Title:       fields["title"],
			Description: fields["description"],
			Priority:    fields["priority"],
			Status:      portal.StatusOpen,
			CreatedBy:   draft.CreatedBy,
		}
		if d, err := time.Parse(time.RFC3339, fields["deadline"]); err == nil {
			t.Deadline = d
		}
		if a, err := strconv.ParseInt(fields["assignee_id"], 10, 64); err == nil {
			t.AssignedTo = a
			t.Status = portal.StatusInProgress
		}
		r.tickets[id] = t
		return id, nil
	}
	if draft.Kind == portal.EntityTask {
		t := &Task{ID: id, Title: fields["title"], Priority: fields["priority"], Status: portal.StatusOpen, CreatedBy: draft.CreatedBy}
		t.TicketID, _ = strconv.ParseInt(fields["ticket_id"], 10, 64)
		t.AssignedTo, _ = strconv.ParseInt(fields["assignee_id"], 10, 64)
		if d, err := time.Parse(time.RFC3339, fields["deadline"]); err == nil {
			t.Deadline = d
		}
		r.tasks[id] = t
		if tk, ok := r.tickets[t.TicketID]; ok && tk.Status == portal.StatusOpen {
			tk.Status = portal.StatusInProgress
		}
	}
	r.records = append(r.records, Record{ID: id, Kind: draft.Kind, Author: draft.CreatedBy, Fields: fields})
	return id, nil
}

func (r *Repository) name(id int64) string {
	if u, ok := r.users[id]; ok {
		return u.DisplayName()
	}
	return ""
}

func (r *Repository) ticketRef(t *Ticket) *portal.TicketRef {
	return &portal.TicketRef{
		ID:         t.ID,
		Title:      t.Title,
		Priority:   t.Priority,
		Status:     t.Status,
		Deadline:   t.Deadline,
		CreatedBy:  t.CreatedBy,
		AssigneeID: t.AssignedTo,
		Assignee:   r.name(t.AssignedTo),
	}
}

func (r *Repository) taskRef(t *Task) *portal.TaskRef {
	ref := &portal.TaskRef{
		ID:         t.ID,
		TicketID:   t.TicketID,
		Title:      t.Title,
		Priority:   t.Priority,
		Status:     t.Status,
		Deadline:   t.Deadline,
		CreatedBy:  t.CreatedBy,
		AssigneeID: t.AssignedTo,
		Assignee:   r.name(t.AssignedTo),
	}
	if tk, ok := r.tickets[t.TicketID]; ok {
		ref.Ticket = "#" + strconv.FormatInt(tk.ID, 10) + " " + tk.Title
	}
	return ref
}

// GetTicket returns the detail view of a ticket.
func (r *Repository) GetTicket(_ context.Context, id int64) (*portal.TicketRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "ticket", ID: strconv.FormatInt(id, 10)}
	}
	return r.ticketRef(t), nil
}

// GetTask returns the detail view of a task.
func (r *Repository) GetTask(_ context.Context, id int64) (*portal.TaskRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "task", ID: strconv.FormatInt(id, 10)}
	}
	return r.taskRef(t), nil
}

// AssignTicket sets the assignee of an unclosed ticket.
func (r *Repository) AssignTicket(_ context.Context, ticketID, assigneeID int64) (*portal.TicketRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "ticket", ID: strconv.FormatInt(ticketID, 10)}
	}
	if _, ok := r.users[assigneeID]; !ok {
		return nil, &errs.NotFoundError{Kind: "user", ID: strconv.FormatInt(assigneeID, 10)}
	}
	if t.Status == portal.StatusClosed {
		return nil, &errs.ValidationError{Field: "status", Reason: "ticket is closed"}
	}
	t.AssignedTo = assigneeID
	if t.Status == portal.StatusOpen {
		t.Status = portal.StatusInProgress
	}
	return r.ticketRef(t), nil
}

// CompleteTask marks a task completed.
func (r *Repository) CompleteTask(_ context.Context, taskID int64) (*portal.TaskRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "task", ID: strconv.FormatInt(taskID, 10)}
	}
	if t.Status == portal.StatusCompleted {
		return nil, &errs.ValidationError{Field: "status", Reason: "task is already completed"}
	}
	t.Status = portal.StatusCompleted
	t.CompletedAt = time.Now()
	return r.taskRef(t), nil
}

// ListCandidates lists choices for dynamic wizard steps.
func (r *Repository) ListCandidates(_ context.Context, kind portal.CandidateKind, filter portal.Filter) ([]portal.Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []portal.Candidate
	switch kind {
	case portal.CandidateManagers:
		for _, u := range r.users {
			if u.Role == portal.RoleManager {
				out = append(out, portal.Candidate{ID: u.ID, Label: u.DisplayName()})
			}
		}
	case portal.CandidateOpenTickets, portal.CandidateMyTickets:
		for _, t := range r.tickets {
			if t.Status == portal.StatusClosed {
				continue
			}
			if kind == portal.CandidateMyTickets && t.AssignedTo != filter.UserID && t.CreatedBy != filter.UserID {
				continue
			}
			out = append(out, portal.Candidate{ID: t.ID, Label: "#" + strconv.FormatInt(t.ID, 10) + " " + t.Title})
		}
	case portal.CandidateOpenTasks:
		for _, t := range r.tasks {
			if t.Status == portal.StatusCompleted {
				continue
			}
			if filter.UserID != 0 && t.AssignedTo != filter.UserID && t.CreatedBy != filter.UserID {
				continue
			}
			out = append(out, portal.Candidate{ID: t.ID, Label: "#" + strconv.FormatInt(t.ID, 10) + " " + t.Title})
		}
	default:
		return nil, &errs.NotFoundError{Kind: "candidate source", ID: string(kind)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ChatIDsForUsers maps user ids to linked chat ids.
func (r *Repository) ChatIDsForUsers(_ context.Context, userIDs []int64) (map[int64]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]int64, len(userIDs))
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok && u.ChatID != 0 {
			out[id] = u.ChatID
		}
	}
	return out, nil
}

// ChatIDsForRoles returns linked chat ids of all accounts holding one of the roles.
func (r *Repository) ChatIDsForRoles(_ context.Context, roles []portal.Role) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[portal.Role]struct{}, len(roles))
	for _, role := range roles {
		want[role] = struct{}{}
	}
	var out []int64
	for _, u := range r.users {
		if _, ok := want[u.Role]; ok && u.ChatID != 0 {
			out = append(out, u.ChatID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DueBetween lists open tickets with deadline in (from, to].
func (r *Repository) DueBetween(_ context.Context, from, to time.Time) ([]portal.DeadlineItem, error) {
	return r.deadlines(func(d time.Time) bool { return d.After(from) && !d.After(to) }), nil
}

// Overdue lists open tickets with deadline before now.
func (r *Repository) Overdue(_ context.Context, now time.Time) ([]portal.DeadlineItem, error) {
	return r.deadlines(func(d time.Time) bool { return d.Before(now) }), nil
}

func (r *Repository) deadlines(match func(time.Time) bool) []portal.DeadlineItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []portal.DeadlineItem
	for _, t := range r.tickets {
		if t.Status == portal.StatusClosed || t.Deadline.IsZero() || !match(t.Deadline) {
			continue
		}
		item := portal.DeadlineItem{
			TicketID:   t.ID,
			Title:      t.Title,
			Priority:   t.Priority,
			Deadline:   t.Deadline,
			AssigneeID: t.AssignedTo,
		}
		if u, ok := r.users[t.AssignedTo]; ok {
			item.Assignee = u.DisplayName()
		}
		if u, ok := r.users[t.CreatedBy]; ok {
			item.Creator = u.DisplayName()
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out
}

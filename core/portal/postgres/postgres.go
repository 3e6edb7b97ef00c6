// Package postgres implements portal.Repository on top of sqlx and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/portal"
)

const defaultCandidateLimit = 15

// Repository talks to the portal's relational store.
type Repository struct {
	db *sqlx.DB
}

var _ portal.Repository = (*Repository)(nil)

// New wraps an open sqlx handle.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type userRow struct {
	ID       int64         `db:"id"`
	Username string        `db:"username"`
	FullName string        `db:"full_name"`
	Role     string        `db:"role"`
	ChatID   sql.NullInt64 `db:"telegram_chat_id"`
}

func (u userRow) ref() *portal.UserRef {
	return &portal.UserRef{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Role:     portal.ParseRole(u.Role),
		ChatID:   u.ChatID.Int64,
	}
}

// ResolveRole returns the role of a user.
func (r *Repository) ResolveRole(ctx context.Context, userID int64) (portal.Role, error) {
	var role string
	err := r.db.GetContext(ctx, &role, `SELECT role FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return portal.RoleUnlinked, &errs.NotFoundError{Kind: "user", ID: strconv.FormatInt(userID, 10)}
	}
	if err != nil {
		return portal.RoleUnlinked, errs.Repository("resolve_role", err)
	}
	return portal.ParseRole(role), nil
}

// ResolveUserByChat returns the account linked to chatID, or nil when none is linked.
func (r *Repository) ResolveUserByChat(ctx context.Context, chatID int64) (*portal.UserRef, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, username, full_name, role, telegram_chat_id FROM users WHERE telegram_chat_id = $1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Repository("resolve_user_by_chat", err)
	}
	return row.ref(), nil
}

// LinkAccount binds chatID to the account with the given username.
// Any other account previously linked to the same chat is unlinked in the same transaction.
func (r *Repository) LinkAccount(ctx context.Context, chatID int64, username string) (*portal.UserRef, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.Repository("link_account", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = NULL WHERE telegram_chat_id = $1 AND lower(username) <> lower($2)`,
		chatID, username); err != nil {
		return nil, errs.Repository("link_account", err)
	}
	var row userRow
	err = tx.GetContext(ctx, &row,
		`UPDATE users SET telegram_chat_id = $1 WHERE lower(username) = lower($2)
		 RETURNING id, username, full_name, role, telegram_chat_id`, chatID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Repository("link_account", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Repository("link_account", err)
	}
	logger.Info(ctx, "portal", "account.linked",
		slog.Int64("user_id", row.ID),
		slog.Int64("chat_id", chatID),
		slog.String("role", row.Role),
	)
	return row.ref(), nil
}

// CreateEntity inserts a ticket, task or report and returns its id.
func (r *Repository) CreateEntity(ctx context.Context, draft portal.Draft) (int64, error) {
	start := time.Now()
	var (
		id  int64
		err error
	)
	f := draft.Fields
	switch draft.Kind {
	case portal.EntityTicket:
		status := "open"
		if f["assignee_id"] != "" {
			status = "in_progress"
		}
		err = r.db.GetContext(ctx, &id,
			`INSERT INTO tickets (title, description, priority, status, deadline, created_by, assigned_to)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			f["title"], f["description"], f["priority"], status,
			nullTime(f["deadline"]), draft.CreatedBy, nullInt(f["assignee_id"]))
	case portal.EntityTask:
		id, err = r.createTask(ctx, draft)
	case portal.EntityReport:
		err = r.db.GetContext(ctx, &id,
			`INSERT INTO ticket_reports (ticket_id, author_id, body) VALUES ($1, $2, $3) RETURNING id`,
			nullInt(f["ticket_id"]), draft.CreatedBy, f["body"])
	default:
		return 0, &errs.NotFoundError{Kind: "entity kind", ID: string(draft.Kind)}
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return 0, &errs.NotFoundError{Kind: "reference", ID: pqErr.Constraint}
		}
		return 0, errs.Repository("create_"+string(draft.Kind), err)
	}
	logger.Info(ctx, "portal", "entity.created",
		slog.String("kind", string(draft.Kind)),
		slog.Int64("entity_id", id),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return id, nil
}

func (r *Repository) createTask(ctx context.Context, draft portal.Draft) (int64, error) {
	f := draft.Fields
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.GetContext(ctx, &id,
		`INSERT INTO tasks (ticket_id, title, description, priority, status, deadline, created_by, assigned_to)
		 VALUES ($1, $2, $3, $4, 'open', $5, $6, $7) RETURNING id`,
		nullInt(f["ticket_id"]), f["title"], f["description"], f["priority"],
		nullTime(f["deadline"]), draft.CreatedBy, nullInt(f["assignee_id"]))
	if err != nil {
		return 0, err
	}
	if f["ticket_id"] != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tickets SET status = 'in_progress' WHERE id = $1 AND status = 'open'`,
			nullInt(f["ticket_id"])); err != nil {
			return 0, err
		}
	}
	return id, tx.Commit()
}

// ListCandidates lists choices for dynamic wizard steps.
func (r *Repository) ListCandidates(ctx context.Context, kind portal.CandidateKind, filter portal.Filter) ([]portal.Candidate, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultCandidateLimit
	}
	var (
		query string
		args  []any
	)
	switch kind {
	case portal.CandidateManagers:
		query = `SELECT id, COALESCE(NULLIF(full_name, ''), username) AS label
		         FROM users WHERE role = 'manager' ORDER BY label LIMIT $1`
		args = []any{limit}
	case portal.CandidateOpenTickets:
		query = `SELECT id, '#' || id || ' ' || title AS label
		         FROM tickets WHERE status <> 'closed' ORDER BY created_at DESC LIMIT $1`
		args = []any{limit}
	case portal.CandidateMyTickets:
		query = `SELECT id, '#' || id || ' ' || title AS label
		         FROM tickets WHERE status <> 'closed' AND (assigned_to = $1 OR created_by = $1)
		         ORDER BY created_at DESC LIMIT $2`
		args = []any{filter.UserID, limit}
	case portal.CandidateOpenTasks:
		query = `SELECT id, '#' || id || ' ' || title AS label
		         FROM tasks WHERE status <> 'completed' AND ($1 = 0 OR assigned_to = $1 OR created_by = $1)
		         ORDER BY created_at DESC LIMIT $2`
		args = []any{filter.UserID, limit}
	default:
		return nil, &errs.NotFoundError{Kind: "candidate source", ID: string(kind)}
	}
	var rows []struct {
		ID    int64  `db:"id"`
		Label string `db:"label"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errs.Repository("list_candidates", err)
	}
	out := make([]portal.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, portal.Candidate{ID: row.ID, Label: row.Label})
	}
	return out, nil
}

const ticketSelect = `
SELECT t.id, t.title, t.priority, t.status, t.deadline,
       COALESCE(t.created_by, 0) AS created_by,
       COALESCE(t.assigned_to, 0) AS assignee_id,
       COALESCE(NULLIF(m.full_name, ''), m.username, '') AS assignee
FROM tickets t
LEFT JOIN users m ON t.assigned_to = m.id
WHERE t.id = $1`

type ticketRow struct {
	ID         int64        `db:"id"`
	Title      string       `db:"title"`
	Priority   string       `db:"priority"`
	Status     string       `db:"status"`
	Deadline   sql.NullTime `db:"deadline"`
	CreatedBy  int64        `db:"created_by"`
	AssigneeID int64        `db:"assignee_id"`
	Assignee   string       `db:"assignee"`
}

func (t ticketRow) ref() *portal.TicketRef {
	return &portal.TicketRef{
		ID:         t.ID,
		Title:      t.Title,
		Priority:   t.Priority,
		Status:     t.Status,
		Deadline:   t.Deadline.Time,
		CreatedBy:  t.CreatedBy,
		AssigneeID: t.AssigneeID,
		Assignee:   t.Assignee,
	}
}

const taskSelect = `
SELECT k.id, COALESCE(k.ticket_id, 0) AS ticket_id,
       COALESCE('#' || t.id || ' ' || t.title, '') AS ticket,
       k.title, k.priority, k.status, k.deadline,
       COALESCE(k.created_by, 0) AS created_by,
       COALESCE(k.assigned_to, 0) AS assignee_id,
       COALESCE(NULLIF(m.full_name, ''), m.username, '') AS assignee
FROM tasks k
LEFT JOIN tickets t ON k.ticket_id = t.id
LEFT JOIN users m ON k.assigned_to = m.id
WHERE k.id = $1`

type taskRow struct {
	ID         int64        `db:"id"`
	TicketID   int64        `db:"ticket_id"`
	Ticket     string       `db:"ticket"`
	Title      string       `db:"title"`
	Priority   string       `db:"priority"`
	Status     string       `db:"status"`
	Deadline   sql.NullTime `db:"deadline"`
	CreatedBy  int64        `db:"created_by"`
	AssigneeID int64        `db:"assignee_id"`
	Assignee   string       `db:"assignee"`
}

func (t taskRow) ref() *portal.TaskRef {
	return &portal.TaskRef{
		ID:         t.ID,
		TicketID:   t.TicketID,
		Ticket:     t.Ticket,
		Title:      t.Title,
		Priority:   t.Priority,
		Status:     t.Status,
		Deadline:   t.Deadline.Time,
		CreatedBy:  t.CreatedBy,
		AssigneeID: t.AssigneeID,
		Assignee:   t.Assignee,
	}
}

// GetTicket returns the detail view of a ticket.
func (r *Repository) GetTicket(ctx context.Context, id int64) (*portal.TicketRef, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row, ticketSelect, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Kind: "ticket", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, errs.Repository("get_ticket", err)
	}
	return row.ref(), nil
}

// GetTask returns the detail view of a task.
func (r *Repository) GetTask(ctx context.Context, id int64) (*portal.TaskRef, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, taskSelect, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Kind: "task", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, errs.Repository("get_task", err)
	}
	return row.ref(), nil
}

// AssignTicket sets the assignee of an unclosed ticket and moves an open one to in progress.
func (r *Repository) AssignTicket(ctx context.Context, ticketID, assigneeID int64) (*portal.TicketRef, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET assigned_to = $2,
		        status = CASE WHEN status = 'open' THEN 'in_progress' ELSE status END
		 WHERE id = $1 AND status <> 'closed'`, ticketID, assigneeID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return nil, &errs.NotFoundError{Kind: "user", ID: strconv.FormatInt(assigneeID, 10)}
		}
		return nil, errs.Repository("assign_ticket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errs.Repository("assign_ticket", err)
	}
	ref, err := r.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &errs.ValidationError{Field: "status", Reason: "ticket is closed"}
	}
	logger.Info(ctx, "portal", "ticket.assigned",
		slog.Int64("ticket_id", ticketID),
		slog.Int64("assignee_id", assigneeID),
	)
	return ref, nil
}

// CompleteTask marks a task completed. Only the first completion succeeds.
func (r *Repository) CompleteTask(ctx context.Context, taskID int64) (*portal.TaskRef, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', completed_at = NOW()
		 WHERE id = $1 AND status <> 'completed'`, taskID)
	if err != nil {
		return nil, errs.Repository("complete_task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errs.Repository("complete_task", err)
	}
	ref, err := r.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &errs.ValidationError{Field: "status", Reason: "task is already completed"}
	}
	logger.Info(ctx, "portal", "task.completed", slog.Int64("task_id", taskID))
	return ref, nil
}

// ChatIDsForUsers maps user ids to linked chat ids.
func (r *Repository) ChatIDsForUsers(ctx context.Context, userIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ID     int64 `db:"id"`
		ChatID int64 `db:"telegram_chat_id"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, telegram_chat_id FROM users WHERE id = ANY($1) AND telegram_chat_id IS NOT NULL`,
		pq.Array(userIDs))
	if err != nil {
		return nil, errs.Repository("chat_ids_for_users", err)
	}
	for _, row := range rows {
		out[row.ID] = row.ChatID
	}
	return out, nil
}

// ChatIDsForRoles returns linked chat ids of all accounts holding one of the roles.
func (r *Repository) ChatIDsForRoles(ctx context.Context, roles []portal.Role) ([]int64, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT telegram_chat_id FROM users WHERE role = ANY($1) AND telegram_chat_id IS NOT NULL ORDER BY telegram_chat_id`,
		pq.Array(names))
	if err != nil {
		return nil, errs.Repository("chat_ids_for_roles", err)
	}
	return ids, nil
}

const deadlineSelect = `
SELECT t.id, t.title, t.priority, t.deadline,
       COALESCE(t.assigned_to, 0) AS assignee_id,
       COALESCE(NULLIF(m.full_name, ''), m.username, '') AS assignee,
       COALESCE(NULLIF(c.full_name, ''), c.username, '') AS creator
FROM tickets t
LEFT JOIN users m ON t.assigned_to = m.id
LEFT JOIN users c ON t.created_by = c.id
WHERE t.status IN ('open', 'in_progress') AND t.deadline IS NOT NULL`

type deadlineRow struct {
	ID         int64     `db:"id"`
	Title      string    `db:"title"`
	Priority   string    `db:"priority"`
	Deadline   time.Time `db:"deadline"`
	AssigneeID int64     `db:"assignee_id"`
	Assignee   string    `db:"assignee"`
	Creator    string    `db:"creator"`
}

// DueBetween lists open tickets with deadline in (from, to].
func (r *Repository) DueBetween(ctx context.Context, from, to time.Time) ([]portal.DeadlineItem, error) {
	return r.selectDeadlines(ctx, "due_between",
		deadlineSelect+` AND t.deadline > $1 AND t.deadline <= $2 ORDER BY t.deadline`, from, to)
}

// Overdue lists open tickets with deadline before now.
func (r *Repository) Overdue(ctx context.Context, now time.Time) ([]portal.DeadlineItem, error) {
	return r.selectDeadlines(ctx, "overdue",
		deadlineSelect+` AND t.deadline < $1 ORDER BY t.deadline`, now)
}

func (r *Repository) selectDeadlines(ctx context.Context, op, query string, args ...any) ([]portal.DeadlineItem, error) {
	var rows []deadlineRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errs.Repository(op, err)
	}
	out := make([]portal.DeadlineItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, portal.DeadlineItem{
			TicketID:   row.ID,
			Title:      row.Title,
			Priority:   row.Priority,
			Deadline:   row.Deadline,
			AssigneeID: row.AssigneeID,
			Assignee:   row.Assignee,
			Creator:    row.Creator,
		})
	}
	return out, nil
}

func nullInt(s string) sql.NullInt64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullTime(s string) sql.NullTime {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// Ping checks connectivity; used by readiness logging at startup.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("portal ping: %w", err)
	}
	return nil
}

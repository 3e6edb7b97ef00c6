package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/portal"
)

func seeded() *Repository {
	r := New()
	r.AddUser(portal.UserRef{ID: 1, Username: "dina", FullName: "Dina D", Role: portal.RoleDirector, ChatID: 501})
	r.AddUser(portal.UserRef{ID: 2, Username: "max", Role: portal.RoleManager, ChatID: 502})
	r.AddUser(portal.UserRef{ID: 3, Username: "lee", Role: portal.RoleManager})
	r.AddUser(portal.UserRef{ID: 4, Username: "ari", Role: portal.RoleArtist, ChatID: 504})
	return r
}

func TestLinkAccountIgnoresAtAndCase(t *testing.T) {
	ctx := context.Background()
	r := seeded()

	u, err := r.LinkAccount(ctx, 503, "@LEE")
	if err != nil || u == nil || u.ID != 3 {
		t.Fatalf("link = %+v, %v", u, err)
	}
	got, _ := r.ResolveUserByChat(ctx, 503)
	if got == nil || got.Username != "lee" {
		t.Fatalf("resolve after link = %+v", got)
	}
	if u, _ := r.LinkAccount(ctx, 600, "nobody"); u != nil {
		t.Fatalf("unknown username linked: %+v", u)
	}
	if u, _ := r.ResolveUserByChat(ctx, 0); u != nil {
		t.Fatal("chat 0 must never resolve")
	}
}

func TestResolveRoleUnknownUser(t *testing.T) {
	role, err := seeded().ResolveRole(context.Background(), 99)
	if role != portal.RoleUnlinked || !errs.IsNotFound(err) {
		t.Fatalf("role = %s, err = %v", role, err)
	}
}

func TestCreateEntityTicketAndRecords(t *testing.T) {
	ctx := context.Background()
	r := seeded()
	id, err := r.CreateEntity(ctx, portal.Draft{
		Kind:      portal.EntityTicket,
		CreatedBy: 4,
		Fields: map[string]string{
			"title":       "Fix mix",
			"priority":    "urgent",
			"deadline":    "2026-10-20T23:59:59Z",
			"assignee_id": "2",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tk, ok := r.Ticket(id)
	if !ok || tk.Status != "in_progress" || tk.AssignedTo != 2 || tk.Deadline.IsZero() {
		t.Fatalf("ticket = %+v", tk)
	}

	if _, err := r.CreateEntity(ctx, portal.Draft{Kind: portal.EntityReport, CreatedBy: 2, Fields: map[string]string{"text": "done"}}); err != nil {
		t.Fatalf("create report: %v", err)
	}
	if recs := r.Records(); len(recs) != 1 || recs[0].Fields["text"] != "done" {
		t.Fatalf("records = %+v", recs)
	}

	r.CreateErr = errors.New("db down")
	if _, err := r.CreateEntity(ctx, portal.Draft{Kind: portal.EntityTask}); err == nil {
		t.Fatal("CreateErr should be returned")
	}
	if r.CreateCalls() != 3 {
		t.Fatalf("create calls = %d", r.CreateCalls())
	}
}

func TestListCandidates(t *testing.T) {
	ctx := context.Background()
	r := seeded()
	r.AddTicket(Ticket{ID: 10, Title: "A", CreatedBy: 4})
	r.AddTicket(Ticket{ID: 11, Title: "B", AssignedTo: 2})
	r.AddTicket(Ticket{ID: 12, Title: "C", Status: "closed", AssignedTo: 2})

	managers, _ := r.ListCandidates(ctx, portal.CandidateManagers, portal.Filter{})
	if len(managers) != 2 || managers[0].ID != 2 || managers[1].ID != 3 {
		t.Fatalf("managers = %+v", managers)
	}
	mine, _ := r.ListCandidates(ctx, portal.CandidateMyTickets, portal.Filter{UserID: 2})
	if len(mine) != 1 || mine[0].Label != "#11 B" {
		t.Fatalf("my tickets = %+v", mine)
	}
	open, _ := r.ListCandidates(ctx, portal.CandidateOpenTickets, portal.Filter{Limit: 1})
	if len(open) != 1 || open[0].ID != 10 {
		t.Fatalf("open tickets = %+v", open)
	}
	if _, err := r.ListCandidates(ctx, "bogus", portal.Filter{}); !errs.IsNotFound(err) {
		t.Fatalf("unknown source err = %v", err)
	}
}

func TestRecipientLookups(t *testing.T) {
	ctx := context.Background()
	r := seeded()

	chats, _ := r.ChatIDsForRoles(ctx, []portal.Role{portal.RoleManager, portal.RoleDirector})
	if len(chats) != 2 || chats[0] != 501 || chats[1] != 502 {
		t.Fatalf("role chats = %v", chats)
	}
	byUser, _ := r.ChatIDsForUsers(ctx, []int64{2, 3, 42})
	if len(byUser) != 1 || byUser[2] != 502 {
		t.Fatalf("user chats = %v", byUser)
	}
}

func TestDeadlineQueries(t *testing.T) {
	ctx := context.Background()
	r := seeded()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	r.AddTicket(Ticket{ID: 20, Title: "soon", Deadline: now.Add(3 * time.Hour), AssignedTo: 2, CreatedBy: 1})
	r.AddTicket(Ticket{ID: 21, Title: "late", Deadline: now.Add(-time.Hour)})
	r.AddTicket(Ticket{ID: 22, Title: "done", Deadline: now.Add(-time.Hour), Status: "closed"})
	r.AddTicket(Ticket{ID: 23, Title: "none"})

	due, _ := r.DueBetween(ctx, now, now.Add(24*time.Hour))
	if len(due) != 1 || due[0].TicketID != 20 || due[0].Assignee != "max" || due[0].Creator != "Dina D" {
		t.Fatalf("due = %+v", due)
	}
	over, _ := r.Overdue(ctx, now)
	if len(over) != 1 || over[0].TicketID != 21 {
		t.Fatalf("overdue = %+v", over)
	}
}

func TestAssignTicket(t *testing.T) {
	ctx := context.Background()
	r := seeded()
	r.AddTicket(Ticket{ID: 10, Title: "A", CreatedBy: 4})
	r.AddTicket(Ticket{ID: 11, Title: "B", Status: portal.StatusClosed})

	ref, err := r.AssignTicket(ctx, 10, 2)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ref.AssigneeID != 2 || ref.Assignee != "max" || ref.Status != portal.StatusInProgress {
		t.Fatalf("ref = %+v", ref)
	}
	if _, err := r.AssignTicket(ctx, 11, 2); !errs.IsValidation(err) {
		t.Fatalf("closed ticket err = %v", err)
	}
	if _, err := r.AssignTicket(ctx, 10, 99); !errs.IsNotFound(err) {
		t.Fatalf("unknown assignee err = %v", err)
	}
	if _, err := r.AssignTicket(ctx, 99, 2); !errs.IsNotFound(err) {
		t.Fatalf("unknown ticket err = %v", err)
	}
}

func TestTasksCompleteOnce(t *testing.T) {
	ctx := context.Background()
	r := seeded()
	r.AddTicket(Ticket{ID: 10, Title: "Album"})
	id, err := r.CreateEntity(ctx, portal.Draft{
		Kind:      portal.EntityTask,
		CreatedBy: 1,
		Fields:    map[string]string{"ticket_id": "10", "title": "Master", "assignee_id": "2"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if tk, _ := r.Ticket(10); tk.Status != portal.StatusInProgress {
		t.Fatalf("ticket status = %s", tk.Status)
	}
	mine, _ := r.ListCandidates(ctx, portal.CandidateOpenTasks, portal.Filter{UserID: 2})
	if len(mine) != 1 || mine[0].ID != id {
		t.Fatalf("open tasks = %+v", mine)
	}

	ref, err := r.CompleteTask(ctx, id)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ref.Status != portal.StatusCompleted || ref.Ticket != "#10 Album" || ref.CreatedBy != 1 {
		t.Fatalf("ref = %+v", ref)
	}
	if _, err := r.CompleteTask(ctx, id); !errs.IsValidation(err) {
		t.Fatalf("second completion err = %v", err)
	}
	if all, _ := r.ListCandidates(ctx, portal.CandidateOpenTasks, portal.Filter{}); len(all) != 0 {
		t.Fatalf("completed task still listed: %+v", all)
	}
	if _, err := r.GetTask(ctx, 999); !errs.IsNotFound(err) {
		t.Fatalf("missing task err = %v", err)
	}
}

package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/portal/memory"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []int64
	texts []string
	fail  map[int64]bool
}

func (r *recordingSender) Send(_ context.Context, chatID int64, text string, _ [][]menu.Button) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[chatID] {
		return 0, errors.New("chat not found")
	}
	r.sent = append(r.sent, chatID)
	r.texts = append(r.texts, text)
	return len(r.sent), nil
}

func newRepo() *memory.Repository {
	repo := memory.New()
	repo.AddUser(portal.UserRef{ID: 1, Username: "boss", Role: portal.RoleDirector, ChatID: 1001})
	repo.AddUser(portal.UserRef{ID: 7, Username: "seven", Role: portal.RoleDirector, ChatID: 1007})
	repo.AddUser(portal.UserRef{ID: 8, Username: "mgr", FullName: "Mila Manager", Role: portal.RoleManager, ChatID: 1008})
	repo.AddUser(portal.UserRef{ID: 9, Username: "ghost", Role: portal.RoleManager})
	return repo
}

func TestDispatchDeduplicatesByChat(t *testing.T) {
	out := &recordingSender{}
	f := NewFanout(newRepo(), out)
	n := f.Dispatch(context.Background(), Event{
		Kind:               TicketCreated,
		EntityID:           5,
		Fields:             map[string]string{FieldTitle: "Fix mix"},
		ExplicitRecipients: []int64{7},
		RoleRecipients:     []portal.Role{portal.RoleDirector},
	})
	if n != 2 {
		t.Fatalf("sent = %d, want 2", n)
	}
	count := map[int64]int{}
	for _, c := range out.sent {
		count[c]++
	}
	if count[1007] != 1 || count[1001] != 1 {
		t.Fatalf("sends per chat = %v", count)
	}
}

func TestDispatchIsBestEffort(t *testing.T) {
	out := &recordingSender{fail: map[int64]bool{1001: true}}
	f := NewFanout(newRepo(), out)
	n := f.Dispatch(context.Background(), Event{
		Kind:               DeadlineOverdue,
		EntityID:           3,
		ExplicitRecipients: []int64{8, 9},
		RoleRecipients:     []portal.Role{portal.RoleDirector},
	})
	if n != 2 {
		t.Fatalf("sent = %d, want 2 (one failure, one unlinked)", n)
	}
	if len(out.sent) != 2 || out.sent[0] != 1008 {
		t.Fatalf("sent to %v", out.sent)
	}
}

type failingRoles struct{ *memory.Repository }

func (failingRoles) ChatIDsForRoles(context.Context, []portal.Role) ([]int64, error) {
	return nil, errors.New("db down")
}

func TestDispatchSurvivesRoleLookupFailure(t *testing.T) {
	out := &recordingSender{}
	f := NewFanout(failingRoles{newRepo()}, out)
	n := f.Dispatch(context.Background(), Event{
		Kind:               TaskCreated,
		EntityID:           11,
		ExplicitRecipients: []int64{8},
		RoleRecipients:     []portal.Role{portal.RoleDirector},
	})
	if n != 1 || out.sent[0] != 1008 {
		t.Fatalf("sent = %d to %v", n, out.sent)
	}
}

func TestRenderEscapesAndSkipsEmpty(t *testing.T) {
	text := Render(Event{
		Kind:     TicketCreated,
		EntityID: 42,
		Fields:   map[string]string{FieldTitle: "<script>", FieldPriority: "urgent", FieldAssignee: ""},
	})
	if !strings.Contains(text, "#42") || !strings.Contains(text, "&lt;script&gt;") {
		t.Fatalf("render = %q", text)
	}
	if strings.Contains(text, "Assignee") {
		t.Fatalf("empty assignee rendered: %q", text)
	}
	if !strings.Contains(Render(Event{Kind: "custom", EntityID: 1}), "custom") {
		t.Fatal("unknown kinds should still render")
	}
}

type countingDispatcher struct {
	events []Event
}

func (c *countingDispatcher) Dispatch(_ context.Context, ev Event) int {
	c.events = append(c.events, ev)
	return 1 + len(ev.ExplicitRecipients)
}

func TestSweepOnceAnnouncesOnce(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	repo := newRepo()
	repo.AddTicket(memory.Ticket{ID: 1, Title: "soon", Deadline: now.Add(3 * time.Hour), AssignedTo: 8})
	repo.AddTicket(memory.Ticket{ID: 2, Title: "late", Deadline: now.Add(-time.Hour)})
	repo.AddTicket(memory.Ticket{ID: 3, Title: "far", Deadline: now.Add(72 * time.Hour)})
	repo.AddTicket(memory.Ticket{ID: 4, Title: "done", Deadline: now.Add(-time.Hour), Status: "closed"})

	disp := &countingDispatcher{}
	s, err := NewSweeper(repo, disp, "*/30 * * * *", 24*time.Hour, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sent, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(disp.events) != 2 {
		t.Fatalf("events = %+v", disp.events)
	}
	if disp.events[0].Kind != DeadlineApproaching || disp.events[0].EntityID != 1 || disp.events[0].ExplicitRecipients[0] != 8 {
		t.Fatalf("approaching event = %+v", disp.events[0])
	}
	if disp.events[1].Kind != DeadlineOverdue || disp.events[1].EntityID != 2 || len(disp.events[1].ExplicitRecipients) != 0 {
		t.Fatalf("overdue event = %+v", disp.events[1])
	}
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}

	if _, err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(disp.events) != 2 {
		t.Fatalf("second sweep repeated announcements: %d events", len(disp.events))
	}
}

func TestSweeperSchedule(t *testing.T) {
	if _, err := NewSweeper(newRepo(), &countingDispatcher{}, "not a cron", time.Hour); err == nil {
		t.Fatal("expected invalid cron error")
	}
	s, err := NewSweeper(newRepo(), &countingDispatcher{}, "*/30 * * * *", time.Hour)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	ref := time.Date(2026, 10, 19, 12, 10, 0, 0, time.UTC)
	next, err := s.Next(ref)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := time.Date(2026, 10, 19, 12, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}
}

func TestSweepReannouncesOverdueOnInterval(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	repo := newRepo()
	repo.AddTicket(memory.Ticket{ID: 2, Title: "late", Deadline: now.Add(-time.Hour), AssignedTo: 8})
	repo.AddTicket(memory.Ticket{ID: 5, Title: "soon", Deadline: now.Add(2 * time.Hour)})

	disp := &countingDispatcher{}
	clock := now
	s, err := NewSweeper(repo, disp, "*/30 * * * *", 24*time.Hour,
		WithClock(func() time.Time { return clock }), WithReannounce(6*time.Hour))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	count := func(kind Kind) int {
		n := 0
		for _, ev := range disp.events {
			if ev.Kind == kind {
				n++
			}
		}
		return n
	}

	sweepAt := func(d time.Duration) {
		t.Helper()
		clock = now.Add(d)
		if _, err := s.SweepOnce(context.Background()); err != nil {
			t.Fatalf("sweep at +%s: %v", d, err)
		}
	}
	sweepAt(0)
	sweepAt(time.Hour)
	if got := count(DeadlineOverdue); got != 1 {
		t.Fatalf("overdue announcements within interval = %d, want 1", got)
	}
	sweepAt(5 * time.Hour)
	if got := count(DeadlineOverdue); got != 2 {
		t.Fatalf("overdue announcements after ticket 5 lapsed = %d, want 2", got)
	}
	sweepAt(6 * time.Hour)
	if got := count(DeadlineOverdue); got != 3 {
		t.Fatalf("overdue announcements after interval = %d, want 3", got)
	}
	if got := count(DeadlineApproaching); got != 1 {
		t.Fatalf("approaching announcements = %d, want 1", got)
	}
}

func TestSweepWithoutReannounceAnnouncesOverdueOnce(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	repo := newRepo()
	repo.AddTicket(memory.Ticket{ID: 2, Title: "late", Deadline: now.Add(-time.Hour)})

	disp := &countingDispatcher{}
	clock := now
	s, err := NewSweeper(repo, disp, "*/30 * * * *", time.Hour, WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	for day := range 10 {
		clock = now.Add(time.Duration(day) * 24 * time.Hour)
		if _, err := s.SweepOnce(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}
	if len(disp.events) != 1 {
		t.Fatalf("events = %d, want 1", len(disp.events))
	}
}

func TestRenderAssignmentAndCompletion(t *testing.T) {
	got := Render(Event{Kind: TicketAssigned, EntityID: 7, Fields: map[string]string{
		FieldTitle: "Album", FieldAuthor: "Dina",
	}})
	if !strings.Contains(got, "Ticket #7 assigned to you") || !strings.Contains(got, "Assigned by: Dina") {
		t.Fatalf("assigned = %q", got)
	}
	got = Render(Event{Kind: TaskCompleted, EntityID: 40, Fields: map[string]string{
		FieldTitle: "Master", FieldTicket: "#7 Album", FieldAssignee: "Max",
	}})
	if !strings.Contains(got, "Task #40 completed") || !strings.Contains(got, "Ticket: #7 Album") || !strings.Contains(got, "By: Max") {
		t.Fatalf("completed = %q", got)
	}
}

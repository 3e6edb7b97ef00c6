package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/notify"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/portal/memory"
	"github.com/m3rciful/portalbot/core/session"
	"github.com/m3rciful/portalbot/core/wizard"
	"github.com/m3rciful/portalbot/core/wizard/flows"
)

type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	sends   []Action
	edits   []Action
	acks    []Action
	editErr error
}

func (g *fakeGateway) Send(_ context.Context, chatID int64, text string, rows [][]menu.Button) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.sends = append(g.sends, Action{Kind: ActSend, ChatID: chatID, MessageID: g.nextID, Text: text, Rows: rows})
	return g.nextID, nil
}

func (g *fakeGateway) Edit(_ context.Context, chatID int64, messageID int, text string, rows [][]menu.Button) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editErr != nil {
		return g.editErr
	}
	g.edits = append(g.edits, Action{Kind: ActEdit, ChatID: chatID, MessageID: messageID, Text: text, Rows: rows})
	return nil
}

func (g *fakeGateway) Acknowledge(_ context.Context, callbackID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acks = append(g.acks, Action{Kind: ActAnswer, CallbackID: callbackID, Text: text})
	return nil
}

func (g *fakeGateway) counts() (sends, edits, acks int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends), len(g.edits), len(g.acks)
}

func (g *fakeGateway) lastSend() Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sends[len(g.sends)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, ev notify.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return 1
}

type harness struct {
	d        *Dispatcher
	repo     *memory.Repository
	store    *session.MemoryStore
	gw       *fakeGateway
	notifier *recordingNotifier
	nextID   int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.New()
	repo.AddUser(portal.UserRef{ID: 1, Username: "dina", FullName: "Dina", Role: portal.RoleDirector, ChatID: 900})
	repo.AddUser(portal.UserRef{ID: 2, Username: "alice", FullName: "Alice", Role: portal.RoleManager})
	engine := wizard.New(repo)
	if err := flows.Register(engine); err != nil {
		t.Fatalf("register flows: %v", err)
	}
	h := &harness{
		repo:     repo,
		store:    session.NewMemoryStore(5 * time.Second),
		gw:       &fakeGateway{},
		notifier: &recordingNotifier{},
	}
	d, err := New(Options{Store: h.store, Accounts: repo, Engine: engine, Gateway: h.gw, Entities: repo, Notifier: h.notifier})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	h.d = d
	return h
}

func (h *harness) text(t *testing.T, chat int64, text string) []Action {
	t.Helper()
	h.nextID++
	acts, err := h.d.Handle(context.Background(), Update{ID: h.nextID, ChatID: chat, Kind: KindMessage, Text: text})
	if err != nil {
		t.Fatalf("handle %q: %v", text, err)
	}
	return acts
}

func (h *harness) press(t *testing.T, chat int64, token string, messageID int) []Action {
	t.Helper()
	h.nextID++
	acts, err := h.d.Handle(context.Background(), Update{
		ID: h.nextID, ChatID: chat, Kind: KindCallback, Action: token,
		MessageID: messageID, CallbackID: fmt.Sprintf("cb-%d", h.nextID),
	})
	if err != nil {
		t.Fatalf("handle %q: %v", token, err)
	}
	return acts
}

func (h *harness) session(t *testing.T, chat int64) *session.Session {
	t.Helper()
	s, err := h.store.GetOrCreate(context.Background(), chat)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func tokens(rows [][]menu.Button) []string {
	var out []string
	for _, r := range rows {
		for _, b := range r {
			out = append(out, b.Action)
		}
	}
	return out
}

func answers(acts []Action) int {
	n := 0
	for _, a := range acts {
		if a.Kind == ActAnswer {
			n++
		}
	}
	return n
}

func TestStartThenLinkShowsRoleMenu(t *testing.T) {
	h := newHarness(t)
	const chat = 500

	acts := h.text(t, chat, "/start")
	if len(acts) != 1 || acts[0].Kind != ActSend {
		t.Fatalf("actions = %+v", acts)
	}
	got := tokens(acts[0].Rows)
	if len(got) != 1 || got[0] != action.Nav(string(menu.LinkHelp)) {
		t.Fatalf("unlinked menu offers %v, want only link", got)
	}

	acts = h.text(t, chat, "/link @alice")
	if !strings.Contains(acts[0].Text, "Alice") {
		t.Fatalf("link reply = %q", acts[0].Text)
	}
	if s := h.session(t, chat); s.UserID != 2 || s.Role != portal.RoleManager {
		t.Fatalf("session after link = %+v", s)
	}

	acts = h.text(t, chat, "/start")
	want := menu.Build(portal.RoleManager, menu.Main)
	if acts[0].Text != want.Text || strings.Join(tokens(acts[0].Rows), ",") != strings.Join(tokens(want.Rows), ",") {
		t.Fatalf("/start after link = %+v", acts[0])
	}
}

func TestLinkUnknownUsername(t *testing.T) {
	h := newHarness(t)
	acts := h.text(t, 501, "/link nobody")
	if !strings.Contains(acts[0].Text, "No portal account") {
		t.Fatalf("reply = %q", acts[0].Text)
	}
	if h.session(t, 501).Linked() {
		t.Fatal("chat must stay unlinked")
	}
}

func TestUnlinkedChatRestricted(t *testing.T) {
	h := newHarness(t)
	const chat = 502

	acts := h.text(t, chat, "/newticket")
	if !strings.Contains(acts[0].Text, "Link your portal account first") {
		t.Fatalf("command reply = %q", acts[0].Text)
	}
	acts = h.text(t, chat, "hello there")
	if !strings.Contains(acts[0].Text, "/link") {
		t.Fatalf("text reply = %q", acts[0].Text)
	}
	acts = h.press(t, chat, action.Nav(string(menu.Analytics)), 10)
	if answers(acts) != 1 {
		t.Fatalf("callback answered %d times", answers(acts))
	}
	if acts[len(acts)-1].Text != "Link your account first" {
		t.Fatalf("ack text = %q", acts[len(acts)-1].Text)
	}
	acts = h.press(t, chat, action.Nav(string(menu.LinkHelp)), 10)
	if acts[0].Kind != ActEdit || !strings.Contains(acts[0].Text, "Link account") {
		t.Fatalf("link help = %+v", acts[0])
	}
}

func TestRedeliveredUpdateIsIgnored(t *testing.T) {
	h := newHarness(t)
	const chat = 900
	ctx := context.Background()

	u := Update{ID: 42, ChatID: chat, Kind: KindMessage, Text: "/newtask"}
	if _, err := h.d.Handle(ctx, u); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	before := h.session(t, chat)
	sends, _, _ := h.gw.counts()

	acts, err := h.d.Handle(ctx, u)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(acts) != 0 {
		t.Fatalf("redelivery produced actions: %+v", acts)
	}
	if again, _, _ := h.gw.counts(); again != sends {
		t.Fatalf("redelivery sent %d extra messages", again-sends)
	}
	after := h.session(t, chat)
	if after.LastUpdateID != before.LastUpdateID || after.Wizard == nil || after.Wizard.StartedAt != before.Wizard.StartedAt {
		t.Fatalf("redelivery mutated session: before=%+v after=%+v", before, after)
	}

	older := Update{ID: 41, ChatID: chat, Kind: KindMessage, Text: "/cancel"}
	if _, err := h.d.Handle(ctx, older); err != nil {
		t.Fatalf("older delivery: %v", err)
	}
	if h.session(t, chat).Wizard == nil {
		t.Fatal("older update id must not be applied")
	}
}

func TestDuplicateCallbackStillAnsweredOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := Update{ID: 7, ChatID: 900, Kind: KindCallback, Action: action.Nav(string(menu.Analytics)), MessageID: 3, CallbackID: "cb"}

	first, err := h.d.Handle(ctx, u)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := h.d.Handle(ctx, u)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if answers(first) != 1 || answers(second) != 1 {
		t.Fatalf("answers: first=%d second=%d", answers(first), answers(second))
	}
	if _, edits, acks := h.gw.counts(); edits != 1 || acks != 2 {
		t.Fatalf("edits=%d acks=%d", edits, acks)
	}
}

func TestMenuCommandDuringWizardAsksFirst(t *testing.T) {
	h := newHarness(t)
	const chat = 900

	h.press(t, chat, action.StartWizard(action.KindCreateTicket), 1)
	h.text(t, chat, "Fix mix")
	h.text(t, chat, "—")

	acts := h.text(t, chat, "/menu")
	if len(acts) != 1 {
		t.Fatalf("actions = %+v", acts)
	}
	got := tokens(acts[0].Rows)
	if len(got) != 2 || got[0] != action.Keep() || got[1] != "guard:drop:nav:main" {
		t.Fatalf("guard buttons = %v", got)
	}
	s := h.session(t, chat)
	if s.Wizard == nil || len(s.Wizard.Collected) != 2 {
		t.Fatalf("wizard lost input: %+v", s.Wizard)
	}

	msg := h.gw.lastSend().MessageID
	acts = h.press(t, chat, action.Keep(), msg)
	if !strings.Contains(acts[0].Text, "priority") {
		t.Fatalf("resume prompt = %q", acts[0].Text)
	}

	acts = h.press(t, chat, "guard:drop:nav:main", msg)
	if h.session(t, chat).Wizard != nil {
		t.Fatal("discard kept the wizard")
	}
	if acts[0].Text != menu.Build(portal.RoleDirector, menu.Main).Text {
		t.Fatalf("discard should open the deferred menu, got %q", acts[0].Text)
	}
}

func TestNewTicketCommandDiscardStartsDeferredWizard(t *testing.T) {
	h := newHarness(t)
	const chat = 900
	h.text(t, chat, "/newtask")
	acts := h.text(t, chat, "/newticket")
	drop := tokens(acts[0].Rows)[1]
	if drop != action.Drop(action.StartWizard(action.KindCreateTicket)) {
		t.Fatalf("drop token = %q", drop)
	}
	h.press(t, chat, drop, h.gw.lastSend().MessageID)
	s := h.session(t, chat)
	if s.Wizard == nil || s.Wizard.Kind != action.KindCreateTicket {
		t.Fatalf("wizard = %+v", s.Wizard)
	}
}

func TestTicketWizardEmitsEventAfterSave(t *testing.T) {
	h := newHarness(t)
	h.repo.AddUser(portal.UserRef{ID: 3, Username: "mo", FullName: "Mo", Role: portal.RoleManager, ChatID: 903})
	const chat = 900

	h.text(t, chat, "/newticket")
	h.text(t, chat, "Fix mix")
	h.text(t, chat, "Clipping on track 2")
	acts := h.press(t, chat, action.Pick(2, "urgent"), 5)
	if acts[0].Kind != ActEdit {
		t.Fatalf("choice should edit the prompt: %+v", acts[0])
	}
	h.press(t, chat, action.Pick(3, "week"), 5)
	h.press(t, chat, action.Pick(4, "3"), 5)

	if len(h.notifier.events) != 1 {
		t.Fatalf("events = %+v", h.notifier.events)
	}
	ev := h.notifier.events[0]
	if ev.Kind != notify.TicketCreated || ev.EntityID == 0 || ev.ExplicitRecipients[0] != 3 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Fields[notify.FieldAuthor] != "Dina" {
		t.Fatalf("author = %q", ev.Fields[notify.FieldAuthor])
	}
	if h.session(t, chat).Wizard != nil {
		t.Fatal("wizard not cleared")
	}
}

func TestRepositoryFailureKeepsWizardAndRetries(t *testing.T) {
	h := newHarness(t)
	const chat = 900
	h.repo.AddTicket(memory.Ticket{ID: 7, Title: "Album"})

	h.text(t, chat, "/newtask")
	h.press(t, chat, action.Pick(0, "7"), 5)
	h.text(t, chat, "Master")
	h.press(t, chat, action.Skip(2), 5)
	h.press(t, chat, action.Pick(3, "low"), 5)
	h.press(t, chat, action.Pick(4, "today"), 5)

	h.repo.CreateErr = errors.New("db down")
	acts := h.press(t, chat, action.Skip(5), 5)
	if !strings.Contains(acts[0].Text, "Could not save") {
		t.Fatalf("retry prompt = %q", acts[0].Text)
	}
	s := h.session(t, chat)
	if s.Wizard == nil || s.Wizard.Step != 5 || len(s.Wizard.Collected) != 5 {
		t.Fatalf("wizard after failure = %+v", s.Wizard)
	}
	if len(h.notifier.events) != 0 {
		t.Fatal("failed save must not notify")
	}

	h.repo.CreateErr = nil
	h.press(t, chat, action.Skip(5), 5)
	if h.session(t, chat).Wizard != nil || len(h.notifier.events) != 1 {
		t.Fatalf("retry did not complete: events=%d", len(h.notifier.events))
	}
}

func TestMissingReferenceEndsWizard(t *testing.T) {
	h := newHarness(t)
	const chat = 900
	h.repo.AddTicket(memory.Ticket{ID: 7, Title: "Album"})

	h.text(t, chat, "/newtask")
	h.press(t, chat, action.Pick(0, "7"), 5)
	h.text(t, chat, "Master")
	h.press(t, chat, action.Skip(2), 5)
	h.press(t, chat, action.Pick(3, "low"), 5)
	h.press(t, chat, action.Pick(4, "today"), 5)

	h.repo.CreateErr = &errs.NotFoundError{Kind: "ticket", ID: "7"}
	acts := h.press(t, chat, action.Skip(5), 5)
	if !strings.Contains(acts[0].Text, "no longer available") {
		t.Fatalf("reply = %q", acts[0].Text)
	}
	if w := h.session(t, chat).Wizard; w != nil {
		t.Fatalf("wizard kept after missing reference: %+v", w)
	}

	h.repo.CreateErr = nil
	acts = h.text(t, chat, "hello")
	for _, a := range acts {
		if strings.Contains(a.Text, "step 6/6") {
			t.Fatalf("free text re-entered the dropped form: %q", a.Text)
		}
	}
	if len(h.notifier.events) != 0 {
		t.Fatal("failed save must not notify")
	}
}

func TestRoleWithoutWizardAccess(t *testing.T) {
	h := newHarness(t)
	h.repo.AddUser(portal.UserRef{ID: 4, Username: "art", Role: portal.RoleArtist, ChatID: 904})
	acts := h.press(t, 904, action.StartWizard(action.KindCreateTask), 2)
	if acts[len(acts)-1].Text != "Not available for your role" {
		t.Fatalf("ack = %q", acts[len(acts)-1].Text)
	}
	if h.session(t, 904).Wizard != nil {
		t.Fatal("artist started a task wizard")
	}
}

func TestEditFailureFallsBackToSend(t *testing.T) {
	h := newHarness(t)
	h.gw.editErr = errors.New("message to edit not found")
	acts := h.press(t, 900, action.Nav(string(menu.Analytics)), 77)
	if acts[0].Kind != ActSend || acts[0].Failed {
		t.Fatalf("fallback action = %+v", acts[0])
	}
	if got := h.session(t, 900).LastMessageID; got != acts[0].MessageID {
		t.Fatalf("last message id = %d, want %d", got, acts[0].MessageID)
	}
}

func TestUnknownCallbackAcknowledged(t *testing.T) {
	h := newHarness(t)
	acts := h.press(t, 900, "legacy|payload", 3)
	if len(acts) != 1 || acts[0].Kind != ActAnswer || acts[0].Text != textUnsupported {
		t.Fatalf("actions = %+v", acts)
	}
}

func TestChatsProcessedIndependently(t *testing.T) {
	h := newHarness(t)
	const chats = 16
	for i := 0; i < chats; i++ {
		h.repo.AddUser(portal.UserRef{ID: int64(100 + i), Username: fmt.Sprintf("m%d", i), Role: portal.RoleManager, ChatID: int64(2000 + i)})
	}
	var wg sync.WaitGroup
	for i := 0; i < chats; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chat := int64(2000 + i)
			for j, text := range []string{"/newticket", "Title", "Body"} {
				u := Update{ID: int64(j + 1), ChatID: chat, Kind: KindMessage, Text: text}
				if _, err := h.d.Handle(context.Background(), u); err != nil {
					t.Errorf("chat %d: %v", chat, err)
				}
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < chats; i++ {
		s := h.session(t, int64(2000+i))
		if s.Wizard == nil || s.Wizard.Step != 2 {
			t.Fatalf("chat %d wizard = %+v", 2000+i, s.Wizard)
		}
	}
}

func hasToken(acts []Action, token string) bool {
	for _, a := range acts {
		for _, tok := range tokens(a.Rows) {
			if tok == token {
				return true
			}
		}
	}
	return false
}

func lastAck(acts []Action) string {
	for i := len(acts) - 1; i >= 0; i-- {
		if acts[i].Kind == ActAnswer {
			return acts[i].Text
		}
	}
	return ""
}

func TestAssignTicketNotifiesAssignee(t *testing.T) {
	h := newHarness(t)
	const chat = 900
	h.repo.AddUser(portal.UserRef{ID: 4, Username: "art", Role: portal.RoleArtist, ChatID: 904})
	h.repo.AddTicket(memory.Ticket{ID: 7, Title: "Album", Priority: "high", CreatedBy: 4})

	if acts := h.press(t, chat, action.TicketList(), 5); !hasToken(acts, action.ShowTicket(7)) {
		t.Fatalf("ticket list = %+v", acts)
	}
	if acts := h.press(t, chat, action.ShowTicket(7), 5); !hasToken(acts, action.AssignTicket(7)) {
		t.Fatalf("ticket screen = %+v", acts)
	}
	acts := h.press(t, chat, action.AssignTicket(7), 5)
	if !hasToken(acts, action.AssignTo(7, 2)) || hasToken(acts, action.AssignTo(7, 4)) {
		t.Fatalf("assignee picker = %+v", acts)
	}

	acts = h.press(t, chat, action.AssignTo(7, 4), 5)
	if lastAck(acts) != "That option is no longer available" || len(h.notifier.events) != 0 {
		t.Fatalf("artist accepted as assignee: ack=%q events=%d", lastAck(acts), len(h.notifier.events))
	}

	acts = h.press(t, chat, action.AssignTo(7, 2), 5)
	if lastAck(acts) != "Assigned" {
		t.Fatalf("ack = %q", lastAck(acts))
	}
	if len(h.notifier.events) != 1 {
		t.Fatalf("events = %+v", h.notifier.events)
	}
	ev := h.notifier.events[0]
	if ev.Kind != notify.TicketAssigned || ev.EntityID != 7 || len(ev.ExplicitRecipients) != 1 || ev.ExplicitRecipients[0] != 2 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Fields[notify.FieldTitle] != "Album" || ev.Fields[notify.FieldAuthor] != "Dina" {
		t.Fatalf("event fields = %v", ev.Fields)
	}
	tk, _ := h.repo.Ticket(7)
	if tk.AssignedTo != 2 || tk.Status != portal.StatusInProgress {
		t.Fatalf("ticket = %+v", tk)
	}
}

func TestArtistCannotAssign(t *testing.T) {
	h := newHarness(t)
	h.repo.AddUser(portal.UserRef{ID: 4, Username: "art", Role: portal.RoleArtist, ChatID: 904})
	h.repo.AddTicket(memory.Ticket{ID: 7, Title: "Album", CreatedBy: 4})

	if acts := h.press(t, 904, action.ShowTicket(7), 5); hasToken(acts, action.AssignTicket(7)) {
		t.Fatal("artist offered assign button")
	}
	acts := h.press(t, 904, action.AssignTo(7, 2), 5)
	if lastAck(acts) != textForbidden {
		t.Fatalf("ack = %q", lastAck(acts))
	}
	if tk, _ := h.repo.Ticket(7); tk.AssignedTo != 0 || len(h.notifier.events) != 0 {
		t.Fatalf("artist assigned ticket: %+v", tk)
	}
}

func TestCompleteTaskNotifiesCreatorAndDirectors(t *testing.T) {
	h := newHarness(t)
	const chat = 905
	h.repo.AddUser(portal.UserRef{ID: 5, Username: "max", FullName: "Max", Role: portal.RoleManager, ChatID: chat})
	h.repo.AddTicket(memory.Ticket{ID: 7, Title: "Album"})
	h.repo.AddTask(memory.Task{ID: 40, TicketID: 7, Title: "Master", CreatedBy: 1, AssignedTo: 5})

	if acts := h.press(t, chat, action.TaskList(), 5); !hasToken(acts, action.ShowTask(40)) {
		t.Fatalf("task list = %+v", acts)
	}
	if acts := h.press(t, chat, action.ShowTask(40), 5); !hasToken(acts, action.CompleteTask(40)) {
		t.Fatalf("task screen = %+v", acts)
	}
	acts := h.press(t, chat, action.CompleteTask(40), 5)
	if lastAck(acts) != "Completed" {
		t.Fatalf("ack = %q", lastAck(acts))
	}
	if len(h.notifier.events) != 1 {
		t.Fatalf("events = %+v", h.notifier.events)
	}
	ev := h.notifier.events[0]
	if ev.Kind != notify.TaskCompleted || ev.EntityID != 40 {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.ExplicitRecipients) != 1 || ev.ExplicitRecipients[0] != 1 {
		t.Fatalf("explicit recipients = %v", ev.ExplicitRecipients)
	}
	if len(ev.RoleRecipients) != 1 || ev.RoleRecipients[0] != portal.RoleDirector {
		t.Fatalf("role recipients = %v", ev.RoleRecipients)
	}
	if ev.Fields[notify.FieldAssignee] != "Max" || ev.Fields[notify.FieldTicket] != "#7 Album" {
		t.Fatalf("event fields = %v", ev.Fields)
	}
	if task, _ := h.repo.Task(40); task.Status != portal.StatusCompleted {
		t.Fatalf("task = %+v", task)
	}

	acts = h.press(t, chat, action.CompleteTask(40), 5)
	if lastAck(acts) != "Task is already completed" || len(h.notifier.events) != 1 {
		t.Fatalf("second completion: ack=%q events=%d", lastAck(acts), len(h.notifier.events))
	}
}

func TestCompleteTaskRequiresOwnership(t *testing.T) {
	h := newHarness(t)
	h.repo.AddUser(portal.UserRef{ID: 4, Username: "art", Role: portal.RoleArtist, ChatID: 904})
	h.repo.AddTask(memory.Task{ID: 41, Title: "Cover art", CreatedBy: 1, AssignedTo: 2})

	acts := h.press(t, 904, action.CompleteTask(41), 5)
	if lastAck(acts) != textForbidden {
		t.Fatalf("ack = %q", lastAck(acts))
	}
	if task, _ := h.repo.Task(41); task.Status != portal.StatusOpen || len(h.notifier.events) != 0 {
		t.Fatalf("task completed by stranger: %+v", task)
	}

	acts = h.press(t, 900, action.ShowTask(99), 5)
	if lastAck(acts) != textGone || !strings.Contains(acts[0].Text, "no longer exists") {
		t.Fatalf("missing task: ack=%q text=%q", lastAck(acts), acts[0].Text)
	}
}

func TestEntityButtonDuringWizardAsksFirst(t *testing.T) {
	h := newHarness(t)
	h.repo.AddTicket(memory.Ticket{ID: 7, Title: "Album"})
	h.text(t, 900, "/newticket")

	acts := h.press(t, 900, action.ShowTicket(7), 5)
	if !hasToken(acts, action.Drop(action.ShowTicket(7))) || !hasToken(acts, action.Keep()) {
		t.Fatalf("guard = %+v", acts)
	}
	acts = h.press(t, 900, action.Drop(action.ShowTicket(7)), 5)
	if !strings.Contains(acts[0].Text, "Ticket #7") || h.session(t, 900).Wizard != nil {
		t.Fatalf("deferred ticket screen = %+v", acts[0])
	}
}

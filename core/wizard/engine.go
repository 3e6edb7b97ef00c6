package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/format"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/menu"
	"github.com/m3rciful/portalbot/core/notify"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/session"
)

var (
	// ErrNoWizard is returned when input arrives for a chat without an active wizard.
	ErrNoWizard = errors.New("wizard: no active wizard")
	// ErrWizardActive is returned by Start while another wizard is in progress.
	ErrWizardActive = errors.New("wizard: another wizard is active")
)

const (
	defaultCandidateLimit = 15
	optionLabelRunes      = 40
)

// Result is the outcome of one wizard transition.
type Result struct {
	// Node is the screen to show next.
	Node menu.Node
	// Event is set when the wizard completed and the entity was stored.
	Event    *notify.Event
	EntityID int64
	Done     bool
	// Rejected carries the validation or lookup error shown to the user; the step did not advance.
	Rejected error
}

// Engine runs registered wizard kinds against sessions. It never locks; the
// caller is expected to hold the session's chat lock.
type Engine struct {
	kinds map[string]*Kind
	repo  portal.Entities
	now   func() time.Time
	ttl   time.Duration
	limit int
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTTL discards wizards idle for longer than d. Zero disables expiry.
func WithTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = d }
}

// WithCandidateLimit caps dynamic choice lists.
func WithCandidateLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// New constructs an Engine with no kinds registered.
func New(repo portal.Entities, opts ...EngineOption) *Engine {
	e := &Engine{
		kinds: make(map[string]*Kind),
		repo:  repo,
		now:   time.Now,
		limit: defaultCandidateLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a wizard kind.
func (e *Engine) Register(k Kind) error {
	switch {
	case k.Name == "":
		return fmt.Errorf("wizard kind without name")
	case len(k.Steps) == 0:
		return fmt.Errorf("wizard %s has no steps", k.Name)
	case k.Finalize == nil:
		return fmt.Errorf("wizard %s has no finalizer", k.Name)
	}
	if _, dup := e.kinds[k.Name]; dup {
		return fmt.Errorf("wizard %s already registered", k.Name)
	}
	for i, st := range k.Steps {
		if st.Field == "" {
			return fmt.Errorf("wizard %s step %d has no field", k.Name, i)
		}
		if st.Mode == Choice && len(st.Options) == 0 && !st.dynamic() {
			return fmt.Errorf("wizard %s step %s has no options", k.Name, st.Field)
		}
	}
	kind := k
	e.kinds[k.Name] = &kind
	return nil
}

// Allowed reports whether role may start kind.
func (e *Engine) Allowed(role portal.Role, kind string) bool {
	k, ok := e.kinds[kind]
	return ok && k.allowed(role)
}

// Title returns the display title of kind.
func (e *Engine) Title(kind string) string {
	if k, ok := e.kinds[kind]; ok {
		return k.Title
	}
	return kind
}

// Start opens a wizard of kind on s and renders the first prompt.
func (e *Engine) Start(ctx context.Context, s *session.Session, actor Actor, kind string) (menu.Node, error) {
	k, ok := e.kinds[kind]
	if !ok {
		return menu.Node{}, &errs.NotFoundError{Kind: "wizard", ID: kind}
	}
	if !k.allowed(actor.Role) {
		return menu.Node{}, &errs.UnauthorizedError{Action: kind}
	}
	if s.Wizard != nil {
		return menu.Node{}, ErrWizardActive
	}
	now := e.now()
	w := &session.WizardState{Kind: kind, StartedAt: now, TouchedAt: now}
	node, err := e.render(ctx, k, w, actor, "")
	if err != nil {
		return menu.Node{}, err
	}
	s.Wizard = w
	logger.Info(ctx, "wizard", "wizard.start",
		slog.String("wizard", kind),
		slog.String("step", k.Steps[0].Field),
	)
	return node, nil
}

// SubmitText feeds typed input to the current step.
func (e *Engine) SubmitText(ctx context.Context, s *session.Session, actor Actor, text string) (Result, error) {
	k, st, err := e.current(s)
	if err != nil {
		return Result{}, err
	}
	now := e.now()
	text = strings.TrimSpace(text)

	opts, err := e.options(ctx, st, actor)
	if err != nil {
		return Result{}, err
	}
	if st.Mode != FreeText {
		if opt, ok := matchOption(opts, text); ok {
			return e.advance(ctx, s, k, actor, resolve(st, opt, now))
		}
		if st.SkipLabel != "" && (strings.EqualFold(text, "skip") || strings.EqualFold(text, st.SkipLabel)) {
			return e.advance(ctx, s, k, actor, Answer{})
		}
	}

	var ans Answer
	switch {
	case st.Mode == Choice:
		err = &errs.ValidationError{Field: st.Field, Reason: "please pick one of the buttons"}
	case st.Validate != nil:
		ans, err = st.Validate(text, now)
	case text == "":
		err = &errs.ValidationError{Field: st.Field, Reason: "the answer cannot be empty"}
	default:
		ans = Answer{Value: text, Label: text}
	}
	if err != nil {
		return e.reject(ctx, s, k, actor, err)
	}
	return e.advance(ctx, s, k, actor, ans)
}

// SubmitChoice feeds a pressed wizard button ("wiz:pick", "wiz:skip", "wiz:cancel") to the engine.
func (e *Engine) SubmitChoice(ctx context.Context, s *session.Session, actor Actor, tok action.Token) (Result, error) {
	if tok.Namespace != action.NSWizard {
		return Result{}, &errs.NotFoundError{Kind: "action", ID: tok.String()}
	}
	parts := tok.Parts(3)
	if len(parts) > 0 && parts[0] == action.VerbCancel {
		return Result{Node: e.Cancel(ctx, s)}, nil
	}
	k, st, err := e.current(s)
	if err != nil {
		return Result{}, err
	}
	if len(parts) < 2 {
		return e.reject(ctx, s, k, actor, &errs.ValidationError{Field: st.Field, Reason: "unknown button"})
	}
	idx, convErr := strconv.Atoi(parts[1])
	if convErr != nil || idx != s.Wizard.Step {
		return e.reject(ctx, s, k, actor, &errs.ValidationError{Field: st.Field, Reason: "that button belongs to another step"})
	}

	switch parts[0] {
	case action.VerbSkip:
		if st.SkipLabel == "" {
			return e.reject(ctx, s, k, actor, &errs.ValidationError{Field: st.Field, Reason: "this step cannot be skipped"})
		}
		return e.advance(ctx, s, k, actor, Answer{})
	case action.VerbPick:
		if len(parts) < 3 {
			return e.reject(ctx, s, k, actor, &errs.ValidationError{Field: st.Field, Reason: "unknown button"})
		}
		opts, err := e.options(ctx, st, actor)
		if err != nil {
			return Result{}, err
		}
		for _, opt := range opts {
			if opt.Value == parts[2] {
				return e.advance(ctx, s, k, actor, resolve(st, opt, e.now()))
			}
		}
		return e.reject(ctx, s, k, actor, &errs.NotFoundError{Kind: st.Caption, ID: parts[2]})
	}
	return e.reject(ctx, s, k, actor, &errs.ValidationError{Field: st.Field, Reason: "unknown button"})
}

// Cancel clears the wizard without persisting anything.
func (e *Engine) Cancel(ctx context.Context, s *session.Session) menu.Node {
	if s.Wizard == nil {
		return menu.Node{Text: "Nothing to cancel.", Rows: [][]menu.Button{menu.Row(menu.BackButton(menu.Main))}}
	}
	kind := s.Wizard.Kind
	step := s.Wizard.Step
	s.Wizard = nil
	logger.Info(ctx, "wizard", "wizard.cancel",
		slog.String("status", "cancelled"),
		slog.String("wizard", kind),
		slog.Int("step", step),
	)
	return menu.Node{
		Text: fmt.Sprintf("❌ %s cancelled. Nothing was saved.", e.Title(kind)),
		Rows: [][]menu.Button{menu.Row(menu.BackButton(menu.Main))},
	}
}

// Resume re-renders the current step of the active wizard.
func (e *Engine) Resume(ctx context.Context, s *session.Session, actor Actor) (menu.Node, error) {
	k, _, err := e.current(s)
	if err != nil {
		return menu.Node{}, err
	}
	return e.render(ctx, k, s.Wizard, actor, "")
}

// Guard renders the cancel-or-continue question shown when a navigation
// action arrives while a wizard is active. deferred is the action token to
// perform once the user agrees to discard the wizard.
func (e *Engine) Guard(s *session.Session, deferred string) menu.Node {
	w := s.Wizard
	if w == nil {
		return menu.Node{}
	}
	total := 0
	if k, ok := e.kinds[w.Kind]; ok {
		total = len(k.Steps)
	}
	text := fmt.Sprintf("📝 You have an unfinished <b>%s</b> form (step %d of %d).\n\nDiscard it and continue, or go back to the form?",
		format.EscapeHTML(e.Title(w.Kind)), w.Step+1, total)
	return menu.Node{
		Text: text,
		Rows: [][]menu.Button{
			menu.Row(menu.Btn("▶️ Back to the form", action.Keep())),
			menu.Row(menu.Btn("🗑 Discard and continue", action.Drop(deferred))),
		},
	}
}

// Expire drops a wizard idle for longer than the configured TTL and reports whether it did.
func (e *Engine) Expire(ctx context.Context, s *session.Session) bool {
	if e.ttl <= 0 || s.Wizard == nil {
		return false
	}
	last := s.Wizard.TouchedAt
	if last.IsZero() {
		last = s.Wizard.StartedAt
	}
	idle := e.now().Sub(last)
	if idle <= e.ttl {
		return false
	}
	logger.Info(ctx, "wizard", "wizard.expire",
		slog.String("wizard", s.Wizard.Kind),
		slog.Int("step", s.Wizard.Step),
		slog.Duration("idle", idle),
	)
	s.Wizard = nil
	return true
}

func (e *Engine) current(s *session.Session) (*Kind, Step, error) {
	if s == nil || s.Wizard == nil {
		return nil, Step{}, ErrNoWizard
	}
	k, ok := e.kinds[s.Wizard.Kind]
	if !ok || s.Wizard.Step < 0 || s.Wizard.Step >= len(k.Steps) {
		kind := s.Wizard.Kind
		s.Wizard = nil
		return nil, Step{}, &errs.NotFoundError{Kind: "wizard", ID: kind}
	}
	return k, k.Steps[s.Wizard.Step], nil
}

// advance records ans for the current step. The session is only touched once
// the next prompt rendered or the entity was stored.
func (e *Engine) advance(ctx context.Context, s *session.Session, k *Kind, actor Actor, ans Answer) (Result, error) {
	w := s.Wizard
	st := k.Steps[w.Step]
	if ans.Label == "" {
		ans.Label = ans.Value
		if ans.Value == "" {
			ans.Label = "—"
		}
	}
	collected := make([]session.Field, 0, len(w.Collected)+1)
	collected = append(collected, w.Collected...)
	collected = append(collected, session.Field{Name: st.Field, Value: ans.Value, Label: ans.Label})

	if w.Step+1 < len(k.Steps) {
		next := *w
		next.Collected = collected
		next.Step = w.Step + 1
		next.TouchedAt = e.now()
		node, err := e.render(ctx, k, &next, actor, "")
		if err != nil {
			return Result{}, err
		}
		s.Wizard = &next
		logger.Debug(ctx, "wizard", "wizard.advance",
			slog.String("wizard", k.Name),
			slog.String("step", k.Steps[next.Step].Field),
		)
		return Result{Node: node}, nil
	}
	return e.finish(ctx, s, k, actor, collected)
}

func (e *Engine) finish(ctx context.Context, s *session.Session, k *Kind, actor Actor, collected []session.Field) (Result, error) {
	start := time.Now()
	draft, ev := k.Finalize(collected, actor)
	id, err := e.repo.CreateEntity(ctx, draft)
	if err != nil {
		err = errs.Repository("create_"+string(draft.Kind), err)
		if errs.IsNotFound(err) {
			// A referenced entity is gone; the form cannot be saved as collected.
			step := s.Wizard.Step
			s.Wizard = nil
			logger.Warn(ctx, "wizard", "wizard.cancel",
				append([]slog.Attr{
					slog.String("status", "cancelled"),
					slog.String("wizard", k.Name),
					slog.Int("step", step),
				}, logger.ErrAttrs(err)...)...)
			return Result{}, err
		}
		logger.Error(ctx, "wizard", "wizard.finish",
			append([]slog.Attr{
				slog.String("status", "fail"),
				slog.String("wizard", k.Name),
				slog.Bool("retryable", true),
			}, logger.ErrAttrs(err)...)...)
		node, rerr := e.render(ctx, k, s.Wizard, actor, "Could not save right now. Please try again.")
		if rerr != nil {
			node = menu.Node{Text: "⚠️ Could not save right now. Please try again.", Rows: [][]menu.Button{menu.Row(cancelButton())}}
		}
		return Result{Node: node}, err
	}

	ev.EntityID = id
	s.Wizard = nil
	logger.Info(ctx, "wizard", "wizard.finish",
		slog.String("status", "ok"),
		slog.String("wizard", k.Name),
		slog.Int64("entity_id", id),
		slog.Duration("duration", logger.Took(start)),
	)
	text := fmt.Sprintf("✅ %s saved (#%d).", k.Title, id)
	if k.Done != nil {
		text = k.Done(id, collected)
	}
	return Result{
		Node:     menu.Node{Text: text, Rows: [][]menu.Button{menu.Row(menu.BackButton(menu.Main))}},
		Event:    &ev,
		EntityID: id,
		Done:     true,
	}, nil
}

// reject re-renders the current step with the reason annotated; nothing is recorded.
func (e *Engine) reject(ctx context.Context, s *session.Session, k *Kind, actor Actor, cause error) (Result, error) {
	logger.Debug(ctx, "wizard", "wizard.reject",
		append([]slog.Attr{
			slog.String("wizard", k.Name),
			slog.String("step", k.Steps[s.Wizard.Step].Field),
		}, logger.ErrAttrs(cause)...)...)
	node, err := e.render(ctx, k, s.Wizard, actor, reason(cause))
	if err != nil {
		return Result{}, err
	}
	return Result{Node: node, Rejected: cause}, nil
}

func reason(err error) string {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		return upperFirst(ve.Reason) + "."
	}
	var nf *errs.NotFoundError
	if errors.As(err, &nf) {
		return "That option is no longer available, please choose again."
	}
	return "Please try again."
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func (e *Engine) options(ctx context.Context, st Step, actor Actor) ([]Option, error) {
	if !st.dynamic() {
		return st.Options, nil
	}
	cands, err := e.repo.ListCandidates(ctx, st.Source, portal.Filter{UserID: actor.UserID, Limit: e.limit})
	if err != nil {
		return nil, errs.Repository("list_candidates", err)
	}
	opts := make([]Option, 0, len(cands))
	for _, c := range cands {
		opts = append(opts, Option{Value: strconv.FormatInt(c.ID, 10), Label: c.Label})
	}
	return opts, nil
}

func matchOption(opts []Option, text string) (Option, bool) {
	if text == "" {
		return Option{}, false
	}
	for _, o := range opts {
		if strings.EqualFold(o.Value, text) || strings.EqualFold(o.Label, text) {
			return o, true
		}
	}
	return Option{}, false
}

func resolve(st Step, opt Option, now time.Time) Answer {
	if st.Resolve != nil {
		return st.Resolve(opt, now)
	}
	return Answer{Value: opt.Value, Label: opt.Label}
}

func cancelButton() menu.Button {
	return menu.Btn("❌ Cancel", action.CancelWizard())
}

func (e *Engine) render(ctx context.Context, k *Kind, w *session.WizardState, actor Actor, annotation string) (menu.Node, error) {
	st := k.Steps[w.Step]
	var b strings.Builder
	fmt.Fprintf(&b, "📝 <b>%s</b> · step %d/%d\n", format.EscapeHTML(k.Title), w.Step+1, len(k.Steps))
	for i, f := range w.Collected {
		caption := f.Name
		if i < len(k.Steps) && k.Steps[i].Caption != "" {
			caption = k.Steps[i].Caption
		}
		fmt.Fprintf(&b, "\n<b>%s:</b> %s", format.EscapeHTML(caption), format.EscapeHTML(format.Truncate(f.Label, 80)))
	}
	b.WriteString("\n\n")
	b.WriteString(st.Prompt)

	var rows [][]menu.Button
	if st.Mode != FreeText {
		opts, err := e.options(ctx, st, actor)
		if err != nil {
			return menu.Node{}, err
		}
		if len(opts) == 0 && st.SkipLabel == "" {
			b.WriteString("\n\n<i>Nothing to choose from yet.</i>")
		}
		perRow := 1
		if !st.dynamic() {
			perRow = 2
		}
		var row []menu.Button
		for _, o := range opts {
			tok := action.Pick(w.Step, o.Value)
			if !action.Fits(tok) {
				continue
			}
			row = append(row, menu.Btn(format.Truncate(o.Label, optionLabelRunes), tok))
			if len(row) == perRow {
				rows = append(rows, row)
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if st.SkipLabel != "" {
		rows = append(rows, menu.Row(menu.Btn(st.SkipLabel, action.Skip(w.Step))))
	}
	rows = append(rows, menu.Row(cancelButton()))

	if annotation != "" {
		b.WriteString("\n\n⚠️ ")
		b.WriteString(format.EscapeHTML(annotation))
	}
	return menu.Node{Text: b.String(), Rows: rows}, nil
}

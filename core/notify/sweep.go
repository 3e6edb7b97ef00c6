package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/m3rciful/portalbot/core/format"
	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/portal"
)

// Sweeper periodically looks for tickets whose deadline is near or already
// past and emits DeadlineApproaching and DeadlineOverdue events to the
// assignee and every director. An approaching deadline is announced once per
// (ticket, deadline). An overdue ticket is announced again every reannounce
// interval while it stays overdue; a zero interval announces it once.
// Announcements are remembered per process only.
type Sweeper struct {
	deadlines  portal.Deadlines
	fanout     Dispatcher
	expr       string
	window     time.Duration
	reannounce time.Duration
	now        func() time.Time

	mu       sync.Mutex
	notified map[string]announcement
}

type announcement struct {
	kind Kind
	at   time.Time
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// WithReannounce repeats the overdue announcement of a ticket every d while it
// stays overdue. Zero disables repeats.
func WithReannounce(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d >= 0 {
			s.reannounce = d
		}
	}
}

// NewSweeper validates the cron expression and builds a Sweeper.
func NewSweeper(deadlines portal.Deadlines, fanout Dispatcher, expr string, window time.Duration, opts ...SweeperOption) (*Sweeper, error) {
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, fmt.Errorf("invalid deadline cron %q", expr)
	}
	if window <= 0 {
		return nil, fmt.Errorf("deadline window must be positive")
	}
	s := &Sweeper{
		deadlines: deadlines,
		fanout:    fanout,
		expr:      expr,
		window:    window,
		now:       time.Now,
		notified:  make(map[string]announcement),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first schedule tick strictly after ref.
func (s *Sweeper) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, ref, false)
}

// Run sweeps on every schedule tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	logger.Info(ctx, "notify.sweep", "sweep.start",
		slog.String("schedule", s.expr),
		slog.Duration("window", s.window),
		slog.Duration("reannounce", s.reannounce),
	)
	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(ctx, "notify.sweep", "sweep.stop")
			return nil
		case <-timer.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			logger.Error(ctx, "notify.sweep", "sweep.run", logger.ErrAttrs(err)...)
		}
	}
}

// SweepOnce runs one pass and returns how many messages were sent.
// Repository errors of one query do not prevent the other query from running.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.now()

	var firstErr error
	sent, events := 0, 0

	due, err := s.deadlines.DueBetween(ctx, now, now.Add(s.window))
	if err != nil {
		firstErr = err
	} else {
		s.retain(DeadlineApproaching, due)
	}
	for _, item := range due {
		if !s.mark(DeadlineApproaching, item, now) {
			continue
		}
		events++
		sent += s.fanout.Dispatch(ctx, deadlineEvent(DeadlineApproaching, item))
	}

	overdue, err := s.deadlines.Overdue(ctx, now)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	if err == nil {
		s.retain(DeadlineOverdue, overdue)
	}
	for _, item := range overdue {
		if !s.mark(DeadlineOverdue, item, now) {
			continue
		}
		events++
		sent += s.fanout.Dispatch(ctx, deadlineEvent(DeadlineOverdue, item))
	}

	logger.Info(ctx, "notify.sweep", "sweep.done",
		slog.String("status", logger.Status(firstErr)),
		slog.Int("count", events),
		slog.Int("sent", sent),
		slog.Duration("duration", logger.Took(start)),
	)
	return sent, firstErr
}

func deadlineEvent(kind Kind, item portal.DeadlineItem) Event {
	ev := Event{
		Kind:     kind,
		EntityID: item.TicketID,
		Fields: map[string]string{
			FieldTitle:    item.Title,
			FieldDeadline: format.HumanDate(item.Deadline),
			FieldPriority: item.Priority,
			FieldAssignee: item.Assignee,
		},
		RoleRecipients: []portal.Role{portal.RoleDirector},
	}
	if item.AssigneeID != 0 {
		ev.ExplicitRecipients = []int64{item.AssigneeID}
	}
	return ev
}

func announceKey(kind Kind, item portal.DeadlineItem) string {
	return string(kind) + ":" + strconv.FormatInt(item.TicketID, 10) + ":" + strconv.FormatInt(item.Deadline.Unix(), 10)
}

// mark records an announcement and reports whether it is due now.
func (s *Sweeper) mark(kind Kind, item portal.DeadlineItem, now time.Time) bool {
	key := announceKey(kind, item)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.notified[key]; ok {
		if kind != DeadlineOverdue || s.reannounce <= 0 || now.Sub(prev.at) < s.reannounce {
			return false
		}
	}
	s.notified[key] = announcement{kind: kind, at: now}
	return true
}

// retain forgets announcements of kind whose ticket is no longer listed, so a
// closed or rescheduled ticket does not keep its entry.
func (s *Sweeper) retain(kind Kind, items []portal.DeadlineItem) {
	live := make(map[string]struct{}, len(items))
	for _, item := range items {
		live[announceKey(kind, item)] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, a := range s.notified {
		if a.kind != kind {
			continue
		}
		if _, ok := live[k]; !ok {
			delete(s.notified, k)
		}
	}
}

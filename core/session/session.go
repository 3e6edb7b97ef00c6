// Package session keeps per-chat conversation state and serializes all work
// on a chat behind a per-chat lock.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/portalbot/core/portal"
)

// ErrLockTimeout is returned when the per-chat lock could not be acquired in time.
var ErrLockTimeout = errors.New("session: lock wait timed out")

// ErrLockLost is returned when the lock lease lapsed before the session was
// written back. Nothing is committed in that case.
var ErrLockLost = errors.New("session: lock lost before commit")

// Field is one collected wizard answer. Value is the canonical form handed to
// the repository; Label is what the user saw.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// WizardState tracks an in-progress multi-step creation flow.
type WizardState struct {
	Kind      string    `json:"kind"`
	Step      int       `json:"step"`
	Collected []Field   `json:"collected"`
	StartedAt time.Time `json:"started_at"`
	TouchedAt time.Time `json:"touched_at"`
}

// Value returns the collected value for name.
func (w *WizardState) Value(name string) (string, bool) {
	if w == nil {
		return "", false
	}
	for _, f := range w.Collected {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Session is the conversation state of one chat.
type Session struct {
	ChatID int64 `json:"chat_id"`
	// UserID is zero while the chat is not linked to a portal account.
	UserID        int64        `json:"user_id"`
	Role          portal.Role  `json:"role"`
	Wizard        *WizardState `json:"wizard,omitempty"`
	LastUpdateID  int64        `json:"last_update_id"`
	LastMessageID int          `json:"last_message_id"`
}

// New returns a fresh unlinked session.
func New(chatID int64) *Session {
	return &Session{ChatID: chatID, Role: portal.RoleUnlinked}
}

// Linked reports whether the chat is bound to a portal account.
func (s *Session) Linked() bool {
	return s != nil && s.UserID != 0 && s.Role != portal.RoleUnlinked
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Wizard != nil {
		w := *s.Wizard
		w.Collected = append([]Field(nil), s.Wizard.Collected...)
		cp.Wizard = &w
	}
	return &cp
}

// Store persists sessions and serializes mutations per chat.
//
// WithLock runs fn on a private copy of the chat's session while holding the
// chat lock. The copy is committed only when fn returns nil; a panic inside fn
// is recovered and returned as an error. The lock is released on every path.
type Store interface {
	GetOrCreate(ctx context.Context, chatID int64) (*Session, error)
	WithLock(ctx context.Context, chatID int64, fn func(*Session) error) error
	ClearWizard(ctx context.Context, chatID int64) error
}

// PanicError carries a panic recovered from a locked section.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "session: panic in locked section"
}

func runGuarded(fn func(*Session) error, s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(s)
}

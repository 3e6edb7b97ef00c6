package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/portalbot/core/logger"
)

type memoryEntry struct {
	lock chan struct{}
	sess *Session
}

// MemoryStore keeps sessions in process memory. Each chat has its own
// one-slot channel lock; the map mutex is held only for lookups.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[int64]*memoryEntry
	lockTimeout time.Duration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a MemoryStore. A non-positive lockTimeout waits until ctx ends.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:     make(map[int64]*memoryEntry),
		lockTimeout: lockTimeout,
	}
}

func (m *MemoryStore) entry(chatID int64) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[chatID]
	if !ok {
		e = &memoryEntry{lock: make(chan struct{}, 1), sess: New(chatID)}
		m.entries[chatID] = e
	}
	return e
}

// GetOrCreate returns a snapshot of the chat's session.
func (m *MemoryStore) GetOrCreate(_ context.Context, chatID int64) (*Session, error) {
	e := m.entry(chatID)
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.sess.Clone(), nil
}

// WithLock runs fn under the chat lock and commits its changes on success.
func (m *MemoryStore) WithLock(ctx context.Context, chatID int64, fn func(*Session) error) error {
	e := m.entry(chatID)

	waitCtx := ctx
	if m.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.lockTimeout)
		defer cancel()
	}
	start := time.Now()
	select {
	case e.lock <- struct{}{}:
	case <-waitCtx.Done():
		logger.Warn(ctx, "session", "session.lock",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.Duration("wait", time.Since(start)),
		)
		return fmt.Errorf("chat %d: %w", chatID, ErrLockTimeout)
	}
	defer func() { <-e.lock }()

	m.mu.Lock()
	work := e.sess.Clone()
	m.mu.Unlock()

	if err := runGuarded(fn, work); err != nil {
		return err
	}
	work.ChatID = chatID

	m.mu.Lock()
	e.sess = work
	m.mu.Unlock()
	return nil
}

// ClearWizard drops any in-progress wizard of the chat.
func (m *MemoryStore) ClearWizard(ctx context.Context, chatID int64) error {
	return m.WithLock(ctx, chatID, func(s *Session) error {
		s.Wizard = nil
		return nil
	})
}

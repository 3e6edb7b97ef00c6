package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/logger"
)

const (
	defaultKeyPrefix    = "session:"
	defaultPollInterval = 25 * time.Millisecond
)

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// saveScript writes the session only while the lock still carries our token.
var saveScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// renewScript extends the lock lease while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore keeps sessions as JSON documents in Redis so that several bot
// replicas can share conversation state. The chat lock is a SET NX PX key
// holding a random token.
type RedisStore struct {
	rdb          redis.UniversalClient
	prefix       string
	lockTTL      time.Duration
	lockTimeout  time.Duration
	pollInterval time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the "session:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithPollInterval sets how often a blocked WithLock retries the lock.
func WithPollInterval(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewRedisStore constructs a RedisStore. lockTTL bounds how long a crashed
// holder can keep a chat locked; lockTimeout bounds how long callers wait.
func NewRedisStore(rdb redis.UniversalClient, lockTTL, lockTimeout time.Duration, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:          rdb,
		prefix:       defaultKeyPrefix,
		lockTTL:      lockTTL,
		lockTimeout:  lockTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(chatID int64) string {
	return s.prefix + strconv.FormatInt(chatID, 10)
}

func (s *RedisStore) lockKey(chatID int64) string {
	return s.key(chatID) + ":lock"
}

func (s *RedisStore) load(ctx context.Context, chatID int64) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(chatID), nil
	}
	if err != nil {
		return nil, errs.Repository("session_get", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		logger.Warn(ctx, "session", "session.decode",
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return New(chatID), nil
	}
	sess.ChatID = chatID
	return &sess, nil
}

// save commits sess under the lock identified by token. A holder whose lease
// lapsed gets ErrLockLost and writes nothing.
func (s *RedisStore) save(ctx context.Context, sess *Session, token string) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	keys := []string{s.lockKey(sess.ChatID), s.key(sess.ChatID)}
	n, err := saveScript.Run(ctx, s.rdb, keys, token, raw).Int()
	if err != nil {
		return errs.Repository("session_set", err)
	}
	if n == 0 {
		return fmt.Errorf("chat %d: %w", sess.ChatID, ErrLockLost)
	}
	return nil
}

// GetOrCreate returns the stored session or a fresh one. It does not take the lock.
func (s *RedisStore) GetOrCreate(ctx context.Context, chatID int64) (*Session, error) {
	return s.load(ctx, chatID)
}

func (s *RedisStore) acquire(ctx context.Context, chatID int64) (string, error) {
	token := uuid.NewString()
	waitCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		ok, err := s.rdb.SetNX(waitCtx, s.lockKey(chatID), token, s.lockTTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return "", errs.Repository("session_lock", err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-waitCtx.Done():
			return "", fmt.Errorf("chat %d: %w", chatID, ErrLockTimeout)
		case <-ticker.C:
		}
	}
}

func (s *RedisStore) release(chatID int64, token string) {
	// A cancelled caller context must not leave the lock behind.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, s.rdb, []string{s.lockKey(chatID)}, token).Err(); err != nil {
		logger.Warn(ctx, "session", "session.unlock",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
	}
}

// keepAlive extends the lease every third of lockTTL until stop is closed.
func (s *RedisStore) keepAlive(chatID int64, token string, stop <-chan struct{}) {
	if s.lockTTL <= 0 {
		return
	}
	ticker := time.NewTicker(max(s.lockTTL/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
		n, err := renewScript.Run(ctx, s.rdb, []string{s.lockKey(chatID)}, token, s.lockTTL.Milliseconds()).Int()
		cancel()
		if err != nil {
			logger.Warn(ctx, "session", "session.renew",
				slog.String("status", "fail"),
				slog.Int64("chat_id", chatID),
				slog.String("err", err.Error()),
			)
			continue
		}
		if n == 0 {
			logger.Warn(ctx, "session", "session.renew",
				slog.String("status", "lost"),
				slog.Int64("chat_id", chatID),
			)
			return
		}
	}
}

// WithLock runs fn under the distributed chat lock and writes the session back on success.
func (s *RedisStore) WithLock(ctx context.Context, chatID int64, fn func(*Session) error) error {
	start := time.Now()
	token, err := s.acquire(ctx, chatID)
	if err != nil {
		logger.Warn(ctx, "session", "session.lock",
			slog.String("status", "fail"),
			slog.String("store", "redis"),
			slog.Int64("chat_id", chatID),
			slog.Duration("wait", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return err
	}
	defer s.release(chatID, token)
	stop := make(chan struct{})
	defer close(stop)
	go s.keepAlive(chatID, token, stop)

	sess, err := s.load(ctx, chatID)
	if err != nil {
		return err
	}
	if err := runGuarded(fn, sess); err != nil {
		return err
	}
	sess.ChatID = chatID
	return s.save(ctx, sess, token)
}

// ClearWizard drops any in-progress wizard of the chat.
func (s *RedisStore) ClearWizard(ctx context.Context, chatID int64) error {
	return s.WithLock(ctx, chatID, func(sess *Session) error {
		sess.Wizard = nil
		return nil
	})
}

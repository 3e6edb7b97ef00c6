// Package sender runs fire-and-forget Telegram calls (callback
// acknowledgements) on a small worker pool with bounded retries.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/telegram/netutil"
)

const component = "tg.sender"

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned when no queue slot is free; the job is dropped.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options sizes the dispatcher. Zero values select defaults.
type Options struct {
	QueueSize int
	Workers   int
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	// RetryBackoff grows linearly with the attempt number unless Telegram
	// asks for a specific wait.
	RetryBackoff time.Duration
	// MaxDuration bounds one job including its retries.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

func (o Options) backoff(attempt int, err error) time.Duration {
	if wait, ok := netutil.RetryAfter(err); ok {
		return wait
	}
	return o.RetryBackoff * time.Duration(attempt)
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher executes queued Telegram calls on a fixed set of workers.
type Dispatcher struct {
	opts Options
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	failed atomic.Uint64
}

// NewDispatcher starts opts.Workers workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{opts: opts, jobs: make(chan job, opts.QueueSize)}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.exec(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run without waiting for it. run may be called several
// times, so it has to be idempotent. ctx supplies log correlation only; the
// job outlives its cancellation.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount reports how many jobs failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.failed.Load()
}

// Close rejects new jobs and waits until queued ones are done.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) exec(j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts, err := d.attempt(ctx, j)
	attrs := []slog.Attr{
		slog.String("action", j.action),
		slog.String("op", j.endpoint),
		slog.Int("attempts", attempts),
		slog.Duration("duration", logger.Took(start)),
	}
	switch {
	case err != nil:
		d.failed.Add(1)
		logger.Error(ctx, component, "send.fail", append(attrs,
			slog.String("status", "fail"),
			slog.String("err", netutil.Redact(err)),
			slog.String("cause", netutil.Kind(err)),
		)...)
	case attempts > 1:
		logger.Info(ctx, component, "send.retry.success", attrs...)
	default:
		logger.Debug(ctx, component, "send.success", attrs...)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, j job) (int, error) {
	limit := d.opts.MaxRetries + 1
	for n := 1; ; n++ {
		err := j.run()
		if err == nil {
			return n, nil
		}
		if n >= limit || !netutil.ShouldRetry(err) {
			return n, err
		}
		wait := d.opts.backoff(n, err)
		logger.Debug(ctx, component, "send.retry",
			slog.String("action", j.action),
			slog.Int("attempts", n),
			slog.Duration("backoff", wait),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return n, fmt.Errorf("%w after: %w", ctx.Err(), err)
		case <-t.C:
		}
	}
}

package sender

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestDispatcherRetriesServerErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	err := d.Enqueue(context.Background(), "callback.answer", "answerCallbackQuery", func() error {
		if calls.Add(1) < 3 {
			return &tele.Error{Code: 502, Description: "Bad Gateway"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("error count = %d", d.ErrorCount())
	}
}

func TestDispatcherGivesUpOnPermanentErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	_ = d.Enqueue(context.Background(), "callback.answer", "", func() error {
		calls.Add(1)
		return &tele.Error{Code: 400, Description: "Bad Request: query is too old"}
	})
	d.Close()
	if calls.Load() != 1 {
		t.Fatalf("permanent error retried %d times", calls.Load())
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("error count = %d", d.ErrorCount())
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	d.Close()
	err := d.Enqueue(context.Background(), "x", "", func() error { return nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v", err)
	}
	if err := d.Enqueue(context.Background(), "x", "", nil); err == nil {
		t.Fatal("nil run should be rejected")
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	_ = d.Enqueue(context.Background(), "block", "", func() error {
		close(started)
		<-release
		return nil
	})
	<-started
	if err := d.Enqueue(context.Background(), "fill", "", func() error { return nil }); err != nil {
		t.Fatalf("second job should fit the queue: %v", err)
	}
	if err := d.Enqueue(context.Background(), "overflow", "", func() error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v", err)
	}
	close(release)
	d.Close()
}

func TestDispatcherOutlivesCallerContext(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	if err := d.Enqueue(ctx, "callback.answer", "", func() error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()
	if calls.Load() != 1 {
		t.Fatalf("job skipped after caller cancellation, calls = %d", calls.Load())
	}
}

func TestBackoffHonoursFloodWait(t *testing.T) {
	o := Options{RetryBackoff: time.Second}.withDefaults()
	if got := o.backoff(3, errors.New("x")); got != 3*time.Second {
		t.Fatalf("linear backoff = %s", got)
	}
	if got := o.backoff(1, tele.FloodError{RetryAfter: 7}); got != 7*time.Second {
		t.Fatalf("flood backoff = %s", got)
	}
}

package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// asyncWriter copies lines to every sink from a single goroutine. Sinks are
// flushed whenever the queue runs dry, so bursts share one syscall per sink.
type asyncWriter struct {
	ops  chan writeOp
	done chan struct{}

	// gate keeps Write and Flush from sending on ops after Close.
	gate   sync.RWMutex
	closed bool

	sinks []*bufio.Writer

	errMu sync.Mutex
	err   error
}

// writeOp is either a line to write or, when ack is set, a flush request.
type writeOp struct {
	line []byte
	ack  chan error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &asyncWriter{
		ops:  make(chan writeOp, 256),
		done: make(chan struct{}),
	}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(out, bufSize))
		}
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		if op.ack != nil {
			op.ack <- w.flushSinks()
			continue
		}
		w.writeSinks(op.line)
		if len(w.ops) == 0 {
			w.remember(w.flushSinks())
		}
	}
	w.remember(w.flushSinks())
}

// Write queues a copy of p. It blocks when the queue is full rather than
// dropping lines.
func (w *asyncWriter) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := w.firstErr(); err != nil {
		return err
	}
	line := append([]byte(nil), p...)

	w.gate.RLock()
	defer w.gate.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	w.ops <- writeOp{line: line}
	return nil
}

// Flush returns once everything queued before it has reached the sinks.
func (w *asyncWriter) Flush() error {
	w.gate.RLock()
	if w.closed {
		w.gate.RUnlock()
		return w.firstErr()
	}
	ack := make(chan error, 1)
	w.ops <- writeOp{ack: ack}
	w.gate.RUnlock()

	if err := <-ack; err != nil {
		return err
	}
	return w.firstErr()
}

// Close drains the queue and returns the first write error seen.
func (w *asyncWriter) Close() error {
	w.gate.Lock()
	if !w.closed {
		w.closed = true
		close(w.ops)
	}
	w.gate.Unlock()
	<-w.done
	return w.firstErr()
}

func (w *asyncWriter) writeSinks(line []byte) {
	for _, s := range w.sinks {
		if _, err := s.Write(line); err != nil {
			w.remember(err)
		}
	}
}

func (w *asyncWriter) flushSinks() error {
	var errs []error
	for _, s := range w.sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) remember(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

func (w *asyncWriter) firstErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

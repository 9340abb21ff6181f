// Package dispatch provides the single serialized execution context every
// storm state mutation runs on. Timer callbacks and external calls post work
// here instead of touching state from their own goroutines.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted to a loop that has stopped.
var ErrClosed = errors.New("dispatch loop closed")

// Dispatcher runs tasks one at a time, in submission order.
type Dispatcher interface {
	// Post queues f and returns immediately. It reports false when the task
	// was dropped because the dispatcher no longer accepts work.
	Post(f func()) bool
	// Do queues f and waits for it to finish. A cancelled ctx only aborts
	// the wait while f is not yet queued.
	Do(ctx context.Context, f func()) error
}

// Loop is a single-consumer task queue drained by Run.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewLoop creates a loop with room for buffer queued tasks.
func NewLoop(buffer int, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run drains tasks until ctx is cancelled. Tasks still queued at that point
// are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()
	l.logger.Debug("dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("dispatch loop stopped")
			return nil
		case f := <-l.tasks:
			l.run(f)
		}
	}
}

func (l *Loop) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatched task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	f()
}

func (l *Loop) close() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues f. It blocks while the queue is full and the loop is running.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do queues f and waits for it to run. It must not be called from a task
// already running on this loop. ctx only bounds the wait for a queue slot:
// once f is queued, Do waits for it to finish so the caller never sees an
// error for work that still happens.
func (l *Loop) Do(ctx context.Context, f func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		f()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// Run discards queued tasks on shutdown.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Inline runs every task on the calling goroutine. It suits tests and hosts
// that are already single-threaded.
type Inline struct{}

// Post runs f immediately.
func (Inline) Post(f func()) bool {
	f()
	return true
}

// Do runs f immediately.
func (Inline) Do(ctx context.Context, f func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f()
	return nil
}

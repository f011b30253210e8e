// Package eventloop runs the client's engine on a single goroutine.
//
// Transport callbacks, timer firings and UI actions are all posted to one
// Loop and executed in FIFO order, so engine state never needs locking.
// Code that touches engine state must run inside a task.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrStopped = errors.New("event loop stopped")

// Loop is a FIFO task queue drained by a single goroutine.
type Loop struct {
	clock Clock
	log   zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a loop driven by clock. Run must be called to start it.
func New(clock Clock, logger zerolog.Logger) *Loop {
	if clock == nil {
		clock = RealClock()
	}
	return &Loop{
		clock: clock,
		log:   logger.With().Str("component", "eventloop").Logger(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return ErrStopped
		}
		tasks := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, task := range tasks {
			l.exec(task)
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	task()
}

// Stop makes Run return after the task in progress. Queued tasks are dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	l.signal()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn. It is safe to call from any goroutine, including the loop
// itself. It reports false when the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// AfterFunc schedules fn to run on the loop after d. It must be called on
// the loop goroutine.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{deadline: l.clock.Now().Add(d)}
	t.inner = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// Timer is a cancellable callback scheduled with Loop.AfterFunc. Its state
// is only touched on the loop goroutine.
type Timer struct {
	inner    Stopper
	deadline time.Time
	stopped  bool
	fired    bool
}

// Stop cancels the timer. A firing that is already queued on the loop is
// discarded. It reports whether the call prevented the callback.
func (t *Timer) Stop() bool {
	if t == nil || t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.inner.Stop()
	return true
}

// Deadline is when the timer is due.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

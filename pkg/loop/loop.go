// Package loop provides the single logical thread that every device callback runs on.  Timer
// ticks, analog read completions and commands from other goroutines are all funnelled through
// one goroutine so no two callbacks ever touch the same device concurrently.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
)

type Scheduler interface {
	// Every runs fn every d until the returned task is stopped.  The first run is after d.
	Every(d time.Duration, fn func()) *Task
	// After runs fn once after d unless the task is stopped first.
	After(d time.Duration, fn func()) *Task
	// Post queues fn to run on the scheduler's thread.  Safe to call from any goroutine.
	Post(fn func())
}

// Task is the handle for a scheduled callback.  Handles are compared by identity: a new
// schedule always returns a new *Task.
type Task struct {
	id     uint64
	period time.Duration
	fn     func()

	lock    sync.Mutex
	stopped bool
	onStop  func()

	// Virtual due time, only used by Manual.
	due time.Duration
}

func (t *Task) ID() uint64 {
	return t.id
}

// Stop cancels the task.  Once Stop returns the callback will not start again.
func (t *Task) Stop() {
	t.lock.Lock()
	if t.stopped {
		t.lock.Unlock()
		return
	}
	t.stopped = true
	onStop := t.onStop
	t.onStop = nil
	t.lock.Unlock()
	if onStop != nil {
		onStop()
	}
}

func (t *Task) Stopped() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.stopped
}

func (t *Task) setOnStop(f func()) {
	t.lock.Lock()
	t.onStop = f
	t.lock.Unlock()
}

var taskIDs uint64

func newTask(period time.Duration, fn func()) *Task {
	return &Task{
		id:     atomic.AddUint64(&taskIDs, 1),
		period: period,
		fn:     fn,
	}
}

const queueLen = 64

// Loop is the real-time Scheduler.  Timers come from the injected clock; their callbacks are
// posted back onto the goroutine running Run.
type Loop struct {
	clock  clock.Clock
	logger golog.Logger

	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func New(clk clock.Clock, logger golog.Logger) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clock:  clk,
		logger: logger,
		queue:  make(chan func(), queueLen),
		done:   make(chan struct{}),
	}
}

var _ Scheduler = (*Loop)(nil)

// Run services the queue until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Debug("loop started")
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopped")
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) Post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(fn func()) {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
	case <-l.done:
	}
}

func (l *Loop) After(d time.Duration, fn func()) *Task {
	t := newTask(0, fn)
	timer := l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.Stopped() {
				return
			}
			t.Stop()
			fn()
		})
	})
	t.setOnStop(func() { timer.Stop() })
	return t
}

func (l *Loop) Every(d time.Duration, fn func()) *Task {
	t := newTask(d, fn)
	l.arm(t)
	return t
}

func (l *Loop) arm(t *Task) {
	timer := l.clock.AfterFunc(t.period, func() {
		l.Post(func() {
			if t.Stopped() {
				return
			}
			t.fn()
			if !t.Stopped() {
				l.arm(t)
			}
		})
	})
	t.setOnStop(func() { timer.Stop() })
}

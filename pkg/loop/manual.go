package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by virtual time.  Nothing runs until Advance or Drain is called,
// and then everything runs on the caller's goroutine in due-time order.
type Manual struct {
	lock   sync.Mutex
	now    time.Duration
	tasks  []*Task
	posted []func()
}

func NewManual() *Manual {
	return &Manual{}
}

var _ Scheduler = (*Manual)(nil)

// Elapsed returns the virtual time since the scheduler was created.
func (m *Manual) Elapsed() time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.now
}

func (m *Manual) Post(fn func()) {
	m.lock.Lock()
	m.posted = append(m.posted, fn)
	m.lock.Unlock()
}

func (m *Manual) After(d time.Duration, fn func()) *Task {
	t := newTask(0, fn)
	m.add(t, d)
	return t
}

func (m *Manual) Every(d time.Duration, fn func()) *Task {
	t := newTask(d, fn)
	m.add(t, d)
	return t
}

func (m *Manual) add(t *Task, d time.Duration) {
	m.lock.Lock()
	t.due = m.now + d
	m.tasks = append(m.tasks, t)
	m.lock.Unlock()
	t.setOnStop(func() { m.remove(t) })
}

func (m *Manual) remove(t *Task) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for i, other := range m.tasks {
		if other == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

// Pending returns the number of live timer tasks.
func (m *Manual) Pending() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.tasks)
}

// Drain runs every posted function, including ones posted while draining.
func (m *Manual) Drain() {
	for {
		m.lock.Lock()
		if len(m.posted) == 0 {
			m.lock.Unlock()
			return
		}
		fn := m.posted[0]
		m.posted = m.posted[1:]
		m.lock.Unlock()
		fn()
	}
}

// Advance moves virtual time forward by d, running every task that falls due on the way.
// Tasks due at the same instant run in the order they were scheduled.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()
	m.lock.Lock()
	target := m.now + d
	m.lock.Unlock()
	for {
		t := m.next(target)
		if t == nil {
			break
		}
		if t.period == 0 {
			t.Stop()
			t.fn()
		} else {
			t.fn()
			if !t.Stopped() {
				m.lock.Lock()
				t.due += t.period
				m.lock.Unlock()
			}
		}
		m.Drain()
	}
	m.lock.Lock()
	m.now = target
	m.lock.Unlock()
}

func (m *Manual) next(limit time.Duration) *Task {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.tasks) == 0 {
		return nil
	}
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].due != m.tasks[j].due {
			return m.tasks[i].due < m.tasks[j].due
		}
		return m.tasks[i].id < m.tasks[j].id
	})
	t := m.tasks[0]
	if t.due > limit {
		return nil
	}
	m.now = t.due
	return t
}

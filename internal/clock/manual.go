package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Clock that only moves when Advance is called. Timers due at the
// same instant fire in the order they were created; a repeating timer keeps
// its original creation order across re-arms. Callbacks run synchronously on
// the goroutine calling Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	timers map[uint64]*manualTimer
}

type manualTimer struct {
	clock  *Manual
	id     uint64
	due    time.Time
	period time.Duration
	fn     func()
	live   bool
}

// NewManual returns a manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:    start,
		timers: make(map[uint64]*manualTimer),
	}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f once, d after the current manual time.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	return m.add(d, 0, f)
}

// Every schedules f every d. Non-positive periods are rejected by firing never.
func (m *Manual) Every(d time.Duration, f func()) Timer {
	if d <= 0 {
		return &manualTimer{clock: m}
	}
	return m.add(d, d, f)
}

func (m *Manual) add(d, period time.Duration, f func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.nextID++
	t := &manualTimer{
		clock:  m,
		id:     m.nextID,
		due:    m.now.Add(d),
		period: period,
		fn:     f,
		live:   true,
	}
	m.timers[t.id] = t
	return t
}

// Pending returns how many timers are currently armed.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves time forward by d, firing every timer that becomes due on
// the way, in due order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	if m.now.Before(target) {
		m.now = target
	}
	m.mu.Unlock()
}

// popDue removes (or re-arms) the earliest timer due at or before target and
// advances the clock to its due time.
func (m *Manual) popDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})

	t := due[0]
	if t.due.After(m.now) {
		m.now = t.due
	}
	if t.period > 0 {
		t.due = t.due.Add(t.period)
	} else {
		t.live = false
		delete(m.timers, t.id)
	}
	return t
}

func (t *manualTimer) Stop() bool {
	if t.clock == nil || t.fn == nil {
		return false
	}
	m := t.clock
	m.mu.Lock()
	defer m.mu.Unlock()
	if !t.live {
		return false
	}
	t.live = false
	delete(m.timers, t.id)
	return true
}

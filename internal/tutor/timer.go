package tutor

import (
	"sync"
	"time"
)

// Timer measures how long the player has spent on the current lesson.
type Timer struct {
	mu        sync.Mutex
	now       func() time.Time
	startedAt time.Time
	elapsed   time.Duration
	running   bool
}

func NewTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{now: now}
}

// Start resets the timer and begins counting.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elapsed = 0
	t.startedAt = t.now()
	t.running = true
}

// Resume continues counting from the stopped total.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.startedAt = t.now()
	t.running = true
}

// Stop freezes the timer and returns the final elapsed time. Stopping twice is harmless.
func (t *Timer) Stop() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.elapsed += t.now().Sub(t.startedAt)
		t.running = false
	}
	return t.elapsed
}

func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.elapsed + t.now().Sub(t.startedAt)
	}
	return t.elapsed
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

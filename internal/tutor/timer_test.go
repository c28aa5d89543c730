package tutor

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTimerLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tm := NewTimer(clock.Now)
	if tm.Running() || tm.Elapsed() != 0 {
		t.Fatalf("new timer should be idle")
	}
	tm.Start()
	clock.Advance(3 * time.Second)
	if tm.Elapsed() != 3*time.Second {
		t.Fatalf("elapsed = %v", tm.Elapsed())
	}
	if got := tm.Stop(); got != 3*time.Second {
		t.Fatalf("stop = %v", got)
	}
	clock.Advance(time.Minute)
	if tm.Stop() != 3*time.Second || tm.Elapsed() != 3*time.Second {
		t.Fatalf("stopped timer kept counting")
	}

	tm.Resume()
	clock.Advance(2 * time.Second)
	if tm.Elapsed() != 5*time.Second {
		t.Fatalf("resumed elapsed = %v", tm.Elapsed())
	}

	tm.Start()
	if tm.Elapsed() != 0 || !tm.Running() {
		t.Fatalf("start should reset")
	}
}

package service

import (
	"testing"
	"time"
)

func TestBudgetExceeded(t *testing.T) {
	current := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	b := NewBudget(40*time.Second, clock)

	if b.Exceeded() {
		t.Error("fresh budget reports exceeded")
	}

	current = current.Add(39 * time.Second)
	if b.Exceeded() {
		t.Error("budget exceeded at 39s of 40s")
	}
	if got := b.Remaining(); got != time.Second {
		t.Errorf("Remaining() = %v, want 1s", got)
	}

	current = current.Add(time.Second)
	if !b.Exceeded() {
		t.Error("budget not exceeded at exactly the ceiling")
	}

	current = current.Add(time.Minute)
	if got := b.Remaining(); got != 0 {
		t.Errorf("Remaining() = %v, want 0 past the ceiling", got)
	}
}

func TestBudgetDefaultsToWallClock(t *testing.T) {
	b := NewBudget(time.Hour, nil)
	if b.Exceeded() {
		t.Error("hour-long budget exceeded immediately")
	}
	if b.Elapsed() < 0 {
		t.Errorf("Elapsed() = %v, want non-negative", b.Elapsed())
	}
}

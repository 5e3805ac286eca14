package service

import "time"

// Budget enforces one wall-clock ceiling for an entire run. The hosting
// environment kills long invocations regardless of internal state, so the
// outer loops consult the budget and stop early instead of being cut off
// mid-write. Stopping on budget is success with partial progress, not a
// failure; the next run resumes because imports are idempotent.
type Budget struct {
	start   time.Time
	ceiling time.Duration
	now     func() time.Time
}

// NewBudget starts a budget running now. A nil clock means time.Now.
func NewBudget(ceiling time.Duration, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	return &Budget{
		start:   now(),
		ceiling: ceiling,
		now:     now,
	}
}

// Exceeded reports whether the run has used up its wall-clock budget.
func (b *Budget) Exceeded() bool {
	return b.Elapsed() >= b.ceiling
}

// Elapsed returns how long the run has been going.
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// Remaining returns how much budget is left, never negative.
func (b *Budget) Remaining() time.Duration {
	if r := b.ceiling - b.Elapsed(); r > 0 {
		return r
	}
	return 0
}

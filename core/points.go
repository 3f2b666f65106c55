package core

import (
	"fmt"
	"math"
	"sync/atomic"
)

// PointSnapshot is an immutable view of the point-value table. Each applied
// event reads exactly one snapshot, so a concurrent admin replace can never
// produce a torn read or retroactively change an in-flight computation.
type PointSnapshot map[ActionKind]float64

// Get returns the configured amount, or 0 for an unrecognized kind.
func (s PointSnapshot) Get(kind ActionKind) float64 {
	return s[kind]
}

// Amount converts a rate into earned points. Magnitude scales per-minute
// kinds; everything else ignores it. Amounts round half away from zero.
func (s PointSnapshot) Amount(kind ActionKind, magnitude int64) int64 {
	rate := s[kind]
	if kind == KindStudySession && magnitude > 0 {
		return int64(math.Round(rate * float64(magnitude)))
	}
	return int64(math.Round(rate))
}

// PointTable holds the process-wide action-kind to point-value mapping.
// Reads are lock-free through an atomic snapshot pointer; writes replace the
// whole map copy-on-write. Updating never removes a known kind and never
// recomputes past grants.
type PointTable struct {
	snap atomic.Pointer[PointSnapshot]
}

// NewPointTable builds a table from seed values (typically DefaultPointValues
// merged with configuration).
func NewPointTable(seed map[ActionKind]float64) (*PointTable, error) {
	t := &PointTable{}
	values := make(PointSnapshot, len(seed))
	for kind, amount := range seed {
		if amount < 0 {
			return nil, fmt.Errorf("%w: point value for %s must be non-negative", ErrValidation, kind)
		}
		values[kind] = amount
	}
	t.snap.Store(&values)
	return t, nil
}

// Snapshot returns the current immutable view. Callers must not mutate it.
func (t *PointTable) Snapshot() PointSnapshot {
	return *t.snap.Load()
}

// Get returns the configured value for kind, or 0 when unrecognized.
func (t *PointTable) Get(kind ActionKind) float64 {
	return t.Snapshot().Get(kind)
}

// Set replaces one kind's value, effective for subsequent events only.
func (t *PointTable) Set(kind ActionKind, amount float64) error {
	if kind == "" {
		return fmt.Errorf("%w: empty action kind", ErrValidation)
	}
	if amount < 0 {
		return fmt.Errorf("%w: point value for %s must be non-negative", ErrValidation, kind)
	}
	for {
		old := t.snap.Load()
		next := make(PointSnapshot, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[kind] = amount
		if t.snap.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// Replace swaps in a whole new table in one step. Kinds present in the old
// table but absent from values keep their previous amounts.
func (t *PointTable) Replace(values map[ActionKind]float64) error {
	for kind, amount := range values {
		if amount < 0 {
			return fmt.Errorf("%w: point value for %s must be non-negative", ErrValidation, kind)
		}
	}
	for {
		old := t.snap.Load()
		next := make(PointSnapshot, len(*old)+len(values))
		for k, v := range *old {
			next[k] = v
		}
		for k, v := range values {
			next[k] = v
		}
		if t.snap.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// DefaultPointValues is the seed table used when configuration provides none.
func DefaultPointValues() map[ActionKind]float64 {
	return map[ActionKind]float64{
		KindLessonCompleted:     10,
		KindLessonPerfectScore:  25,
		KindQuizQuestionCorrect: 5,
		KindQuizQuestionWrong:   1,
		KindPuzzleSolved:        15,
		KindCodingExercise:      20,
		KindStudySession:        1, // per minute
		KindStreakDayBonus:      5,
		KindAchievementEarned:   50,
	}
}

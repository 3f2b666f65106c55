package engine

import (
	"time"

	"context"

	"learnledger/core"
)

// Ledger owns per-user progress stats and applies point-earning events
// atomically. All mutation goes through Storage.UpdateProgress, which
// serializes concurrent events for the same user.
type Ledger struct {
	storage Storage
	table   *core.PointTable
	now     func() time.Time
}

func NewLedger(storage Storage, table *core.PointTable) *Ledger {
	if storage == nil || table == nil {
		panic("NewLedger requires non-nil storage and point table")
	}
	return &Ledger{
		storage: storage,
		table:   table,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply records one event against the user's stats and returns the pre-event
// snapshot, the stored post-event stats, and the delta.
func (l *Ledger) Apply(ctx context.Context, user core.UserID, ev core.ActionEvent) (core.ProgressStats, core.ProgressStats, core.ProgressDelta, error) {
	return l.ApplyWithRates(ctx, user, ev, l.table.Snapshot())
}

// ApplyWithRates is Apply against an explicit point snapshot. The dispatcher
// uses it so one event and its achievement bonuses share a single consistent
// read of the table.
func (l *Ledger) ApplyWithRates(ctx context.Context, user core.UserID, ev core.ActionEvent, rates core.PointSnapshot) (before core.ProgressStats, after core.ProgressStats, delta core.ProgressDelta, err error) {
	user, err = core.NormalizeUserID(user)
	if err != nil {
		return before, after, delta, err
	}
	if err = ev.Validate(); err != nil {
		return before, after, delta, err
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = l.now()
	}
	day := occurred.UTC().Format(core.DayFormat)

	after, err = l.storage.UpdateProgress(ctx, user, func(s *core.ProgressStats) error {
		before = *s

		switch ev.Kind {
		case core.KindLessonCompleted:
			s.LessonsCompleted++
		case core.KindQuizQuestion:
			s.QuestionsAnswered++
			if ev.Outcome == core.OutcomeCorrect {
				s.CorrectAnswers++
			}
		case core.KindPuzzleSolved:
			s.PuzzlesSolved++
		case core.KindCodingExercise:
			s.ExercisesCompleted++
		case core.KindStudySession:
			s.TotalStudyTime += ev.Magnitude
		}
		s.RecomputeAccuracy()

		streakChanged := advanceStreak(s, day)

		points := rates.Amount(ev.TableKind(), ev.Magnitude)
		if streakChanged {
			points += rates.Amount(core.KindStreakDayBonus, 0)
		}

		exp, addErr := core.AddSafe(s.Experience, points)
		if addErr != nil {
			return addErr
		}
		s.Experience = exp

		newLevel := core.LevelFor(exp)
		leveledUp := newLevel > s.Level
		s.Level = newLevel

		delta = core.ProgressDelta{
			PointsEarned:  points,
			NewExperience: exp,
			LeveledUp:     leveledUp,
			NewLevel:      newLevel,
			StreakChanged: streakChanged,
			NewStreak:     s.Streak,
		}
		return nil
	})
	return before, after, delta, err
}

// ApplyAchievementBonus credits the achievement-earned rate once per new
// grant, as a single synthetic pass: no counters, no streak handling, and by
// contract no further grant evaluation.
func (l *Ledger) ApplyAchievementBonus(ctx context.Context, user core.UserID, grants int, rates core.PointSnapshot) (core.ProgressStats, core.ProgressDelta, error) {
	var delta core.ProgressDelta
	points := int64(grants) * rates.Amount(core.KindAchievementEarned, 0)
	if grants <= 0 || points == 0 {
		stats, err := l.storage.GetProgress(ctx, user)
		return stats, delta, err
	}
	after, err := l.storage.UpdateProgress(ctx, user, func(s *core.ProgressStats) error {
		exp, addErr := core.AddSafe(s.Experience, points)
		if addErr != nil {
			return addErr
		}
		s.Experience = exp
		newLevel := core.LevelFor(exp)
		delta = core.ProgressDelta{
			PointsEarned:  points,
			NewExperience: exp,
			LeveledUp:     newLevel > s.Level,
			NewLevel:      newLevel,
			NewStreak:     s.Streak,
		}
		s.Level = newLevel
		return nil
	})
	return after, delta, err
}

// Get returns the user's stats; NotFound before the first tracked event.
func (l *Ledger) Get(ctx context.Context, user core.UserID) (core.ProgressStats, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ProgressStats{}, err
	}
	return l.storage.GetProgress(ctx, user)
}

// advanceStreak applies the once-per-calendar-day streak rule and reports
// whether the streak changed. A gap of two or more days resets the streak to
// 1 on the day of the triggering event. Events dated before the last counted
// day leave the streak alone.
func advanceStreak(s *core.ProgressStats, day string) bool {
	switch {
	case s.LastActiveDay == day:
		return false
	case s.LastActiveDay > day:
		return false
	case s.LastActiveDay == "":
		s.Streak = 1
	case nextDay(s.LastActiveDay) == day:
		s.Streak++
	default:
		s.Streak = 1
	}
	s.LastActiveDay = day
	if s.Streak > s.BestStreak {
		s.BestStreak = s.Streak
	}
	return true
}

func nextDay(day string) string {
	t, err := time.Parse(core.DayFormat, day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, 1).Format(core.DayFormat)
}

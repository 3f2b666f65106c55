package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the ledger domain. Identity is
// resolved by an external auth collaborator; the ledger only consumes it.
type UserID string

// DayFormat is the calendar-day encoding used for streak bookkeeping.
// Days are reckoned in UTC.
const DayFormat = "2006-01-02"

// ProgressStats is one user's cumulative gamification record. It is created
// lazily on the first tracked event and mutated only through the ledger.
//
// Invariants: Experience and the raw counters never decrease; Level is always
// LevelFor(Experience); Accuracy is always recomputed from the answer
// counters; Streak changes at most once per calendar day.
type ProgressStats struct {
	UserID             UserID    `json:"user_id" db:"user_id"`
	LessonsCompleted   int64     `json:"lessons_completed" db:"lessons_completed"`
	QuestionsAnswered  int64     `json:"questions_answered" db:"questions_answered"`
	CorrectAnswers     int64     `json:"correct_answers" db:"correct_answers"`
	PuzzlesSolved      int64     `json:"puzzles_solved" db:"puzzles_solved"`
	ExercisesCompleted int64     `json:"exercises_completed" db:"exercises_completed"`
	Accuracy           int64     `json:"accuracy" db:"accuracy"`
	TotalStudyTime     int64     `json:"total_study_time" db:"total_study_time"`
	Streak             int64     `json:"streak" db:"streak"`
	BestStreak         int64     `json:"best_streak" db:"best_streak"`
	Level              int64     `json:"level" db:"level"`
	Experience         int64     `json:"experience" db:"experience"`
	LastActiveDay      string    `json:"last_active_day" db:"last_active_day"`
	Version            int64     `json:"version" db:"version"`
	Updated            time.Time `json:"updated" db:"updated_at"`
}

// NewProgressStats returns the zero record a user starts from.
func NewProgressStats(user UserID) ProgressStats {
	return ProgressStats{UserID: user, Level: 1, Updated: time.Now().UTC()}
}

// RecomputeAccuracy refreshes Accuracy from the answer counters.
// Accuracy is round(correct/total*100), or 0 while no question was answered.
func (s *ProgressStats) RecomputeAccuracy() {
	if s.QuestionsAnswered == 0 {
		s.Accuracy = 0
		return
	}
	s.Accuracy = int64(math.Round(float64(s.CorrectAnswers) / float64(s.QuestionsAnswered) * 100))
}

// ProgressDelta describes what a single applied event changed.
type ProgressDelta struct {
	PointsEarned  int64 `json:"points_earned"`
	NewExperience int64 `json:"new_experience"`
	LeveledUp     bool  `json:"leveled_up"`
	NewLevel      int64 `json:"new_level"`
	StreakChanged bool  `json:"streak_changed"`
	NewStreak     int64 `json:"new_streak"`
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", fmt.Errorf("%w: empty user id", ErrValidation)
	}
	return UserID(strings.ToLower(s)), nil
}

// LevelFor computes a level from total experience using a sublinear curve.
// level = floor(sqrt(xp)/10) + 1, so the thresholds 0, 100, 400, 900, ... are
// strictly increasing and growing experience never lowers the level.
func LevelFor(experience int64) int64 {
	if experience <= 0 {
		return 1
	}
	lvl := int64(math.Floor(math.Sqrt(float64(experience))/10.0)) + 1
	if lvl < 1 {
		return 1
	}
	return lvl
}

// ExperienceForLevel returns the total experience required to reach level.
func ExperienceForLevel(level int64) int64 {
	if level <= 1 {
		return 0
	}
	n := level - 1
	return 100 * n * n
}

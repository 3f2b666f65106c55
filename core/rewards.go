package core

import (
	"fmt"
	"strings"
	"time"
)

// RewardID names a catalog entry.
type RewardID string

// StatName selects the ProgressStats field a criteria thresholds on.
type StatName string

const (
	StatLessonsCompleted   StatName = "lessons_completed"
	StatQuestionsAnswered  StatName = "questions_answered"
	StatCorrectAnswers     StatName = "correct_answers"
	StatPuzzlesSolved      StatName = "puzzles_solved"
	StatExercisesCompleted StatName = "exercises_completed"
	StatAccuracy           StatName = "accuracy"
	StatTotalStudyTime     StatName = "total_study_time"
	StatStreak             StatName = "streak"
	StatBestStreak         StatName = "best_streak"
	StatLevel              StatName = "level"
	StatExperience         StatName = "experience"
)

// StatValue extracts the named stat, reporting whether the name is known.
func StatValue(s ProgressStats, name StatName) (int64, bool) {
	switch name {
	case StatLessonsCompleted:
		return s.LessonsCompleted, true
	case StatQuestionsAnswered:
		return s.QuestionsAnswered, true
	case StatCorrectAnswers:
		return s.CorrectAnswers, true
	case StatPuzzlesSolved:
		return s.PuzzlesSolved, true
	case StatExercisesCompleted:
		return s.ExercisesCompleted, true
	case StatAccuracy:
		return s.Accuracy, true
	case StatTotalStudyTime:
		return s.TotalStudyTime, true
	case StatStreak:
		return s.Streak, true
	case StatBestStreak:
		return s.BestStreak, true
	case StatLevel:
		return s.Level, true
	case StatExperience:
		return s.Experience, true
	}
	return 0, false
}

// Criteria is a threshold predicate on one named stat, e.g. "streak >= 7".
// All stats are monotonic or bounded; only streak can legitimately regress,
// which is why streak-based grants are never revoked.
type Criteria struct {
	Stat      StatName `json:"stat"`
	Threshold int64    `json:"threshold"`
}

// Validate checks that the criteria references a known stat.
func (c Criteria) Validate() error {
	if _, ok := StatValue(ProgressStats{}, c.Stat); !ok {
		return fmt.Errorf("%w: unknown stat %q", ErrValidation, c.Stat)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive", ErrValidation)
	}
	return nil
}

// Satisfied reports whether stats meet the threshold.
func (c Criteria) Satisfied(s ProgressStats) bool {
	v, ok := StatValue(s, c.Stat)
	return ok && v >= c.Threshold
}

// Progress maps the current stat onto 0..100 toward the threshold.
func (c Criteria) Progress(s ProgressStats) int64 {
	v, ok := StatValue(s, c.Stat)
	if !ok || c.Threshold <= 0 {
		return 0
	}
	if v >= c.Threshold {
		return 100
	}
	if v <= 0 {
		return 0
	}
	return v * 100 / c.Threshold
}

// RewardCategory groups catalog entries for display.
type RewardCategory string

const (
	CategoryMilestone  RewardCategory = "milestone"
	CategoryStreak     RewardCategory = "streak"
	CategoryAccuracy   RewardCategory = "accuracy"
	CategoryDedication RewardCategory = "dedication"
	CategoryMastery    RewardCategory = "mastery"
)

// RewardDefinition is a catalog entry. Once a grant references it, edits to
// the definition only affect future evaluations.
type RewardDefinition struct {
	ID          RewardID       `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Category    RewardCategory `json:"category"`
	Criteria    Criteria       `json:"criteria"`
	Repeatable  bool           `json:"repeatable"`
	Points      int64          `json:"points"`
	Disabled    bool           `json:"disabled,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Validate rejects malformed definitions.
func (d RewardDefinition) Validate() error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return fmt.Errorf("%w: empty reward id", ErrValidation)
	}
	for _, r := range d.ID {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("%w: reward id %q must be lowercase alnum, dash, underscore", ErrValidation, d.ID)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: empty reward title", ErrValidation)
	}
	if d.Points < 0 {
		return fmt.Errorf("%w: reward points must be non-negative", ErrValidation)
	}
	return d.Criteria.Validate()
}

// RewardGrant is the source-of-truth ledger row joining a user to an earned
// reward. Non-repeatable rewards get at most one row ever; repeatable ones
// reuse the row and bump TimesEarned.
type RewardGrant struct {
	UserID      UserID    `json:"user_id" db:"user_id"`
	RewardID    RewardID  `json:"reward_id" db:"reward_id"`
	TimesEarned int64     `json:"times_earned" db:"times_earned"`
	Progress    int64     `json:"progress" db:"progress"`
	EarnedAt    time.Time `json:"earned_at" db:"earned_at"`
}

// Achievement is the denormalized display artifact emitted once per
// qualifying grant transition. RewardGrant stays the authoritative record.
type Achievement struct {
	UserID   UserID    `json:"user_id" db:"user_id"`
	RewardID RewardID  `json:"reward_id" db:"reward_id"`
	Title    string    `json:"title" db:"title"`
	Points   int64     `json:"points" db:"points"`
	EarnedAt time.Time `json:"earned_at" db:"earned_at"`
}

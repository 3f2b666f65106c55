package core

import (
	"fmt"
	"time"
)

// ActionKind names a point-earning action. The same vocabulary keys the
// point-value table; outcome-qualified entries (quiz_question_correct and
// friends) exist only as table rates and are resolved via TableKind.
type ActionKind string

const (
	// Kinds recordable by collaborators.
	KindLessonCompleted ActionKind = "lesson_completed"
	KindQuizQuestion    ActionKind = "quiz_question"
	KindPuzzleSolved    ActionKind = "puzzle_solved"
	KindCodingExercise  ActionKind = "coding_exercise_completed"
	KindStudySession    ActionKind = "study_session"

	// Outcome-qualified rate entries.
	KindLessonPerfectScore  ActionKind = "lesson_perfect_score"
	KindQuizQuestionCorrect ActionKind = "quiz_question_correct"
	KindQuizQuestionWrong   ActionKind = "quiz_question_wrong"

	// Rates applied internally by the ledger, never recorded directly.
	KindStreakDayBonus    ActionKind = "streak_day_bonus"
	KindAchievementEarned ActionKind = "achievement_earned"
)

// Outcome qualifies how an action went. It selects which table entry applies;
// it never stacks multipliers on top of the base rate.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomePerfect   Outcome = "perfect"
)

// MaxStudyMinutes caps a single study-session magnitude (one day).
const MaxStudyMinutes = 1440

// ActionEvent is what collaborators report: user U performed action Kind with
// outcome Outcome. Magnitude carries study minutes for session events.
// A zero OccurredAt means "now".
type ActionEvent struct {
	Kind       ActionKind `json:"kind"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Magnitude  int64      `json:"magnitude,omitempty"`
	OccurredAt time.Time  `json:"occurred_at,omitempty"`
}

// Validate rejects malformed events before any mutation happens.
func (e ActionEvent) Validate() error {
	switch e.Kind {
	case KindLessonCompleted:
		if e.Outcome != OutcomeNone && e.Outcome != OutcomePerfect {
			return fmt.Errorf("%w: outcome %q not valid for %s", ErrValidation, e.Outcome, e.Kind)
		}
	case KindQuizQuestion:
		if e.Outcome != OutcomeCorrect && e.Outcome != OutcomeIncorrect {
			return fmt.Errorf("%w: %s requires a correct or incorrect outcome", ErrValidation, e.Kind)
		}
	case KindPuzzleSolved, KindCodingExercise:
		if e.Outcome != OutcomeNone {
			return fmt.Errorf("%w: outcome %q not valid for %s", ErrValidation, e.Outcome, e.Kind)
		}
	case KindStudySession:
		if e.Outcome != OutcomeNone {
			return fmt.Errorf("%w: outcome %q not valid for %s", ErrValidation, e.Outcome, e.Kind)
		}
		if e.Magnitude <= 0 || e.Magnitude > MaxStudyMinutes {
			return fmt.Errorf("%w: study magnitude must be 1..%d minutes", ErrValidation, MaxStudyMinutes)
		}
	case KindStreakDayBonus, KindAchievementEarned:
		return fmt.Errorf("%w: kind %q is applied by the ledger, not recorded", ErrValidation, e.Kind)
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrValidation, e.Kind)
	}
	if e.Kind != KindStudySession && e.Magnitude != 0 {
		return fmt.Errorf("%w: magnitude not valid for %s", ErrValidation, e.Kind)
	}
	return nil
}

// TableKind resolves which point-table entry the event earns by. The outcome
// picks the entry; a wrong answer earns the wrong rate, a perfect lesson the
// perfect rate instead of the base one.
func (e ActionEvent) TableKind() ActionKind {
	switch e.Kind {
	case KindLessonCompleted:
		if e.Outcome == OutcomePerfect {
			return KindLessonPerfectScore
		}
		return KindLessonCompleted
	case KindQuizQuestion:
		if e.Outcome == OutcomeCorrect {
			return KindQuizQuestionCorrect
		}
		return KindQuizQuestionWrong
	default:
		return e.Kind
	}
}

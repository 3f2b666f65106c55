package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// EventRequest is the body of POST /users/{id}/events.
type EventRequest struct {
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome,omitempty"`
	Magnitude  int64     `json:"magnitude,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// Progress mirrors the public JSON surface of the progress ledger entry.
type Progress struct {
	UserID             string    `json:"user_id"`
	LessonsCompleted   int64     `json:"lessons_completed"`
	QuestionsAnswered  int64     `json:"questions_answered"`
	CorrectAnswers     int64     `json:"correct_answers"`
	PuzzlesSolved      int64     `json:"puzzles_solved"`
	ExercisesCompleted int64     `json:"exercises_completed"`
	Accuracy           int64     `json:"accuracy"`
	TotalStudyTime     int64     `json:"total_study_time"`
	Streak             int64     `json:"streak"`
	BestStreak         int64     `json:"best_streak"`
	Level              int64     `json:"level"`
	Experience         int64     `json:"experience"`
	LastActiveDay      string    `json:"last_active_day,omitempty"`
	Updated            time.Time `json:"updated"`
}

// Grant mirrors a reward grant record.
type Grant struct {
	UserID      string    `json:"user_id"`
	RewardID    string    `json:"reward_id"`
	TimesEarned int64     `json:"times_earned"`
	Progress    int64     `json:"progress"`
	EarnedAt    time.Time `json:"earned_at"`
}

// Achievement mirrors an achievement history entry.
type Achievement struct {
	UserID   string    `json:"user_id"`
	RewardID string    `json:"reward_id"`
	Title    string    `json:"title"`
	Points   int64     `json:"points"`
	EarnedAt time.Time `json:"earned_at"`
}

// Reward mirrors an active reward catalog entry.
type Reward struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Criteria    struct {
		Stat      string `json:"stat"`
		Threshold int64  `json:"threshold"`
	} `json:"criteria"`
	Repeatable bool  `json:"repeatable"`
	Points     int64 `json:"points"`
	Disabled   bool  `json:"disabled"`
}

// UnlockedReward is one reward freshly granted by an event.
type UnlockedReward struct {
	Grant       Grant       `json:"grant"`
	Definition  Reward      `json:"definition"`
	Achievement Achievement `json:"achievement"`
	Repeat      bool        `json:"repeat"`
}

// EventResult is the ledger's response to a recorded event.
type EventResult struct {
	UserID         string           `json:"user_id"`
	PointsEarned   int64            `json:"points_earned"`
	BonusPoints    int64            `json:"bonus_points"`
	Experience     int64            `json:"experience"`
	Level          int64            `json:"level"`
	LeveledUp      bool             `json:"leveled_up"`
	Streak         int64            `json:"streak"`
	StreakExtended bool             `json:"streak_extended"`
	Unlocked       []UnlockedReward `json:"unlocked,omitempty"`
	Stats          Progress         `json:"stats"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("request failed: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")

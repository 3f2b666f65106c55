package core

import (
	"errors"
	"testing"
)

func TestCriteriaSatisfiedAndProgress(t *testing.T) {
	c := Criteria{Stat: StatLessonsCompleted, Threshold: 10}

	s := NewProgressStats("u")
	if c.Satisfied(s) {
		t.Fatal("fresh stats should not satisfy")
	}
	if got := c.Progress(s); got != 0 {
		t.Fatalf("progress = %d, want 0", got)
	}

	s.LessonsCompleted = 5
	if got := c.Progress(s); got != 50 {
		t.Fatalf("progress = %d, want 50", got)
	}

	s.LessonsCompleted = 10
	if !c.Satisfied(s) {
		t.Fatal("threshold met should satisfy")
	}
	if got := c.Progress(s); got != 100 {
		t.Fatalf("progress = %d, want 100", got)
	}

	// overshoot stays capped
	s.LessonsCompleted = 25
	if got := c.Progress(s); got != 100 {
		t.Fatalf("progress = %d, want 100", got)
	}
}

func TestCriteriaValidate(t *testing.T) {
	if err := (Criteria{Stat: StatStreak, Threshold: 7}).Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := (Criteria{Stat: "bogus", Threshold: 1}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := (Criteria{Stat: StatStreak, Threshold: 0}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRewardDefinitionValidate(t *testing.T) {
	def := RewardDefinition{
		ID:       "first_lesson",
		Title:    "First Lesson",
		Category: CategoryMilestone,
		Criteria: Criteria{Stat: StatLessonsCompleted, Threshold: 1},
		Points:   50,
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	bad := def
	bad.ID = "Bad ID!"
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for id charset, got %v", err)
	}

	bad = def
	bad.Title = ""
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty title, got %v", err)
	}

	bad = def
	bad.Points = -1
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative points, got %v", err)
	}
}

func TestStatValue(t *testing.T) {
	s := NewProgressStats("u")
	s.Streak = 4
	if v, ok := StatValue(s, StatStreak); !ok || v != 4 {
		t.Fatalf("got %v %v", v, ok)
	}
	if _, ok := StatValue(s, "nope"); ok {
		t.Fatal("unknown stat should not resolve")
	}
}

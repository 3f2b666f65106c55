package core

import (
	"math"
	"testing"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		xp    int64
		level int64
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{399, 2},
		{400, 3},
		{900, 4},
		{10_000, 11},
	}
	for _, c := range cases {
		if got := LevelFor(c.xp); got != c.level {
			t.Fatalf("LevelFor(%d) = %d, want %d", c.xp, got, c.level)
		}
	}
}

func TestExperienceForLevelRoundTrips(t *testing.T) {
	for level := int64(1); level <= 50; level++ {
		threshold := ExperienceForLevel(level)
		if got := LevelFor(threshold); got != level {
			t.Fatalf("level %d threshold %d maps back to %d", level, threshold, got)
		}
		if level > 1 {
			if got := LevelFor(threshold - 1); got != level-1 {
				t.Fatalf("xp just below level %d threshold maps to %d", level, got)
			}
		}
	}
}

func TestRecomputeAccuracy(t *testing.T) {
	s := NewProgressStats("u")
	s.RecomputeAccuracy()
	if s.Accuracy != 0 {
		t.Fatalf("accuracy with no answers should be 0, got %d", s.Accuracy)
	}

	s.QuestionsAnswered = 3
	s.CorrectAnswers = 2
	s.RecomputeAccuracy()
	if s.Accuracy != 67 {
		t.Fatalf("2/3 should round to 67, got %d", s.Accuracy)
	}

	s.QuestionsAnswered = 4
	s.CorrectAnswers = 4
	s.RecomputeAccuracy()
	if s.Accuracy != 100 {
		t.Fatalf("4/4 should be 100, got %d", s.Accuracy)
	}
}

func TestNewProgressStats(t *testing.T) {
	s := NewProgressStats("bob")
	if s.UserID != "bob" || s.Level != 1 {
		t.Fatalf("unexpected fresh stats: %+v", s)
	}
}

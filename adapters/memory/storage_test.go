package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"learnledger/core"
	"learnledger/engine"
)

func TestGetProgressBeforeFirstWrite(t *testing.T) {
	s := New()
	if _, err := s.GetProgress(context.Background(), "alice"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateProgressVersioning(t *testing.T) {
	s := New()
	ctx := context.Background()

	stats, err := s.UpdateProgress(ctx, "alice", func(p *core.ProgressStats) error {
		p.LessonsCompleted = 1
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.UserID != "alice" || stats.Level != 1 || stats.Version != 1 {
		t.Fatalf("first write: %+v", stats)
	}

	stats, err = s.UpdateProgress(ctx, "alice", func(p *core.ProgressStats) error {
		p.LessonsCompleted++
		return nil
	})
	if err != nil || stats.LessonsCompleted != 2 || stats.Version != 2 {
		t.Fatalf("second write: %+v err=%v", stats, err)
	}
}

func TestUpdateProgressMutateErrorDiscards(t *testing.T) {
	s := New()
	ctx := context.Background()

	boom := errors.New("boom")
	if _, err := s.UpdateProgress(ctx, "alice", func(p *core.ProgressStats) error {
		p.LessonsCompleted = 99
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if _, err := s.GetProgress(ctx, "alice"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("failed mutate persisted: %v", err)
	}
}

func TestUpdateProgressConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateProgress(ctx, "alice", func(p *core.ProgressStats) error {
				p.Experience++
				return nil
			})
		}()
	}
	wg.Wait()

	stats, err := s.GetProgress(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Experience != n || stats.Version != n {
		t.Fatalf("lost updates: %+v", stats)
	}
}

func TestUpsertGrantOutcomes(t *testing.T) {
	s := New()
	ctx := context.Background()
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	once := core.RewardDefinition{ID: "starter", Title: "Starter"}
	grant, outcome, err := s.UpsertGrant(ctx, "alice", once, when)
	if err != nil || outcome != engine.GrantCreated {
		t.Fatalf("create: %v outcome=%v", err, outcome)
	}
	if grant.TimesEarned != 1 || grant.Progress != 100 || !grant.EarnedAt.Equal(when) {
		t.Fatalf("grant: %+v", grant)
	}

	_, outcome, err = s.UpsertGrant(ctx, "alice", once, when.Add(time.Hour))
	if err != nil || outcome != engine.GrantUnchanged {
		t.Fatalf("non-repeatable re-upsert: %v outcome=%v", err, outcome)
	}

	weekly := core.RewardDefinition{ID: "weekly", Title: "Weekly", Repeatable: true}
	s.UpsertGrant(ctx, "alice", weekly, when)
	grant, outcome, err = s.UpsertGrant(ctx, "alice", weekly, when.Add(24*time.Hour))
	if err != nil || outcome != engine.GrantRepeated || grant.TimesEarned != 2 {
		t.Fatalf("repeat: %+v outcome=%v err=%v", grant, outcome, err)
	}

	grants, _ := s.ListGrants(ctx, "alice")
	if len(grants) != 2 || grants[0].RewardID != "starter" || grants[1].RewardID != "weekly" {
		t.Fatalf("list order: %+v", grants)
	}
}

func TestSetGrantProgress(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SetGrantProgress(ctx, "alice", "starter", 40); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing grant: %v", err)
	}

	s.UpsertGrant(ctx, "alice", core.RewardDefinition{ID: "starter", Repeatable: true}, time.Now())
	if err := s.SetGrantProgress(ctx, "alice", "starter", 40); err != nil {
		t.Fatal(err)
	}
	grants, _ := s.ListGrants(ctx, "alice")
	if grants[0].Progress != 40 {
		t.Fatalf("progress = %d, want 40", grants[0].Progress)
	}
}

func TestAchievementsOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, id := range []core.RewardID{"a", "b", "c"} {
		if err := s.AddAchievement(ctx, core.Achievement{UserID: "alice", RewardID: id}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListAchievements(ctx, "alice")
	if err != nil || len(got) != 3 {
		t.Fatalf("achievements: %+v err=%v", got, err)
	}
	for i, id := range []core.RewardID{"a", "b", "c"} {
		if got[i].RewardID != id {
			t.Fatalf("order: %+v", got)
		}
	}
	other, _ := s.ListAchievements(ctx, "bob")
	if len(other) != 0 {
		t.Fatalf("leaked achievements: %+v", other)
	}
}

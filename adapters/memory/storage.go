// Package memory provides a concurrent in-memory Storage implementation for
// tests, demos, and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"learnledger/core"
	"learnledger/engine"
)

// Store keeps one record per user behind a per-user mutex, so mutations for
// one user are serialized while different users proceed fully in parallel.
type Store struct {
	users sync.Map // core.UserID -> *userRecord
}

type userRecord struct {
	mu           sync.Mutex
	created      bool
	stats        core.ProgressStats
	grants       map[core.RewardID]*core.RewardGrant
	order        []core.RewardID
	achievements []core.Achievement
}

func New() *Store { return &Store{} }

func (s *Store) record(user core.UserID) *userRecord {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord)
	}
	rec := &userRecord{grants: map[core.RewardID]*core.RewardGrant{}}
	actual, _ := s.users.LoadOrStore(user, rec)
	return actual.(*userRecord)
}

func (s *Store) GetProgress(_ context.Context, user core.UserID) (core.ProgressStats, error) {
	rec := s.record(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.created {
		return core.ProgressStats{}, fmt.Errorf("%w: no progress for user %s", core.ErrNotFound, user)
	}
	return rec.stats, nil
}

func (s *Store) UpdateProgress(_ context.Context, user core.UserID, mutate func(*core.ProgressStats) error) (core.ProgressStats, error) {
	rec := s.record(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.created {
		rec.stats = core.NewProgressStats(user)
	}
	next := rec.stats
	if err := mutate(&next); err != nil {
		return core.ProgressStats{}, err
	}
	next.Version++
	next.Updated = time.Now().UTC()
	rec.stats = next
	rec.created = true
	return next, nil
}

func (s *Store) UpsertGrant(_ context.Context, user core.UserID, def core.RewardDefinition, earnedAt time.Time) (core.RewardGrant, engine.GrantOutcome, error) {
	rec := s.record(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if existing, ok := rec.grants[def.ID]; ok {
		if !def.Repeatable {
			return *existing, engine.GrantUnchanged, nil
		}
		existing.TimesEarned++
		existing.Progress = 100
		existing.EarnedAt = earnedAt
		return *existing, engine.GrantRepeated, nil
	}
	grant := &core.RewardGrant{
		UserID:      user,
		RewardID:    def.ID,
		TimesEarned: 1,
		Progress:    100,
		EarnedAt:    earnedAt,
	}
	rec.grants[def.ID] = grant
	rec.order = append(rec.order, def.ID)
	return *grant, engine.GrantCreated, nil
}

func (s *Store) SetGrantProgress(_ context.Context, user core.UserID, reward core.RewardID, progress int64) error {
	rec := s.record(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	grant, ok := rec.grants[reward]
	if !ok {
		return fmt.Errorf("%w: no grant %s for user %s", core.ErrNotFound, reward, user)
	}
	grant.Progress = progress
	return nil
}

func (s *Store) ListGrants(_ context.Context, user core.UserID) ([]core.RewardGrant, error) {
	rec := s.record(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.RewardGrant, 0, len(rec.order))
	for _, id := range rec.order {
		out = append(out, *rec.grants[id])
	}
	return out, nil
}

func (s *Store) AddAchievement(_ context.Context, a core.Achievement) error {
	rec := s.record(a.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.achievements = append(rec.achievements, a)
	return nil
}

func (s *Store) ListAchievements(_ context.Context, user core.UserID) ([]core.Achievement, error) {
	rec := s.record(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.Achievement, len(rec.achievements))
	copy(out, rec.achievements)
	return out, nil
}

var _ engine.Storage = (*Store)(nil)

package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"learnledger/core"
	"learnledger/engine"
)

// userRecord is the persisted per-user state.
type userRecord struct {
	Stats        core.ProgressStats `json:"stats"`
	Grants       []core.RewardGrant `json:"grants,omitempty"`
	Achievements []core.Achievement `json:"achievements,omitempty"`
}

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data map[core.UserID]*userRecord
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]*userRecord{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: load %s: %v", core.ErrPersistence, path, err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[string]*userRecord
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		s.data[core.UserID(k)] = v
	}
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	raw := make(map[string]*userRecord, len(s.data))
	for k, v := range s.data {
		raw[string(k)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode state: %v", core.ErrPersistence, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetProgress(_ context.Context, user core.UserID) (core.ProgressStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[user]
	if !ok {
		return core.ProgressStats{}, fmt.Errorf("%w: no progress for user %s", core.ErrNotFound, user)
	}
	return rec.Stats, nil
}

func (s *Store) UpdateProgress(_ context.Context, user core.UserID, mutate func(*core.ProgressStats) error) (core.ProgressStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[user]
	if !ok {
		rec = &userRecord{Stats: core.NewProgressStats(user)}
	}
	stats := rec.Stats
	if err := mutate(&stats); err != nil {
		return core.ProgressStats{}, err
	}
	stats.Version++
	stats.Updated = time.Now().UTC()
	rec.Stats = stats
	s.data[user] = rec
	if err := s.persist(); err != nil {
		return core.ProgressStats{}, err
	}
	return stats, nil
}

func (s *Store) UpsertGrant(_ context.Context, user core.UserID, def core.RewardDefinition, earnedAt time.Time) (core.RewardGrant, engine.GrantOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[user]
	if !ok {
		rec = &userRecord{Stats: core.NewProgressStats(user)}
		s.data[user] = rec
	}
	for i := range rec.Grants {
		g := &rec.Grants[i]
		if g.RewardID != def.ID {
			continue
		}
		if !def.Repeatable {
			return *g, engine.GrantUnchanged, nil
		}
		g.TimesEarned++
		g.Progress = 100
		g.EarnedAt = earnedAt.UTC()
		if err := s.persist(); err != nil {
			return core.RewardGrant{}, engine.GrantUnchanged, err
		}
		return *g, engine.GrantRepeated, nil
	}
	grant := core.RewardGrant{UserID: user, RewardID: def.ID, TimesEarned: 1, Progress: 100, EarnedAt: earnedAt.UTC()}
	rec.Grants = append(rec.Grants, grant)
	if err := s.persist(); err != nil {
		return core.RewardGrant{}, engine.GrantUnchanged, err
	}
	return grant, engine.GrantCreated, nil
}

func (s *Store) SetGrantProgress(_ context.Context, user core.UserID, reward core.RewardID, progress int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[user]
	if !ok {
		return fmt.Errorf("%w: no grant %s for user %s", core.ErrNotFound, reward, user)
	}
	for i := range rec.Grants {
		if rec.Grants[i].RewardID == reward {
			rec.Grants[i].Progress = progress
			return s.persist()
		}
	}
	return fmt.Errorf("%w: no grant %s for user %s", core.ErrNotFound, reward, user)
}

func (s *Store) ListGrants(_ context.Context, user core.UserID) ([]core.RewardGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[user]
	if !ok {
		return nil, nil
	}
	out := make([]core.RewardGrant, len(rec.Grants))
	copy(out, rec.Grants)
	return out, nil
}

func (s *Store) AddAchievement(_ context.Context, a core.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[a.UserID]
	if !ok {
		rec = &userRecord{Stats: core.NewProgressStats(a.UserID)}
		s.data[a.UserID] = rec
	}
	rec.Achievements = append(rec.Achievements, a)
	return s.persist()
}

func (s *Store) ListAchievements(_ context.Context, user core.UserID) ([]core.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[user]
	if !ok {
		return nil, nil
	}
	out := make([]core.Achievement, len(rec.Achievements))
	copy(out, rec.Achievements)
	return out, nil
}

var _ engine.Storage = (*Store)(nil)

package engine

import (
	"context"
	"time"

	"learnledger/core"
)

// GrantOutcome reports what an UpsertGrant call actually did.
type GrantOutcome int

const (
	// GrantUnchanged means a non-repeatable grant already existed; no-op.
	GrantUnchanged GrantOutcome = iota
	// GrantCreated means a fresh grant row was written.
	GrantCreated
	// GrantRepeated means an existing repeatable grant's TimesEarned grew.
	GrantRepeated
)

// Storage abstracts persistence for progress stats, grants, and achievements.
//
// UpdateProgress must serialize concurrent mutations of one user's record
// (lock or optimistic retry) and must apply mutate atomically: an error from
// mutate, or from the backend, leaves the stored record untouched.
// UpsertGrant must be a conditional atomic upsert keyed on (user, reward),
// never a read-then-write.
type Storage interface {
	// GetProgress returns the user's stats or ErrNotFound before the first
	// tracked event.
	GetProgress(ctx context.Context, user core.UserID) (core.ProgressStats, error)

	// UpdateProgress loads-or-creates the user's stats, applies mutate to a
	// copy, and persists the result, returning the stored value.
	UpdateProgress(ctx context.Context, user core.UserID, mutate func(*core.ProgressStats) error) (core.ProgressStats, error)

	// UpsertGrant creates the (user, reward) grant if absent, increments
	// TimesEarned when present and the definition is repeatable, and no-ops
	// for existing non-repeatable grants.
	UpsertGrant(ctx context.Context, user core.UserID, def core.RewardDefinition, earnedAt time.Time) (core.RewardGrant, GrantOutcome, error)

	// SetGrantProgress records partial progress toward a repeatable reward
	// whose criteria are not currently satisfied.
	SetGrantProgress(ctx context.Context, user core.UserID, reward core.RewardID, progress int64) error

	// ListGrants returns the user's grants in first-earned order.
	ListGrants(ctx context.Context, user core.UserID) ([]core.RewardGrant, error)

	// AddAchievement appends a display achievement record.
	AddAchievement(ctx context.Context, a core.Achievement) error

	// ListAchievements returns achievements in earned order.
	ListAchievements(ctx context.Context, user core.UserID) ([]core.Achievement, error)
}

// Catalog is the reward-definition source the grant engine scans.
type Catalog interface {
	ListActive() []core.RewardDefinition
	Get(id core.RewardID) (core.RewardDefinition, error)
}

package engine

import (
	"context"
	"time"

	"learnledger/core"
)

// NewGrant is one reward transition produced by an evaluation: the stored
// grant row, the definition that matched, and the achievement emitted for it.
type NewGrant struct {
	Grant       core.RewardGrant      `json:"grant"`
	Definition  core.RewardDefinition `json:"definition"`
	Achievement core.Achievement      `json:"achievement"`
	Repeat      bool                  `json:"repeat"`
}

// Grants evaluates updated progress against the catalog and records newly
// qualified rewards exactly once (or once per fresh re-satisfaction for
// repeatable ones).
type Grants struct {
	storage Storage
	catalog Catalog
	now     func() time.Time
}

func NewGrants(storage Storage, catalog Catalog) *Grants {
	if storage == nil || catalog == nil {
		panic("NewGrants requires non-nil storage and catalog")
	}
	return &Grants{
		storage: storage,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate scans every active definition against the post-event stats.
//
// The existing-grant map read up front is only a gate: correctness of the
// at-most-one-grant invariant rests on Storage.UpsertGrant being a
// conditional atomic upsert, so a concurrent evaluation for the same user
// can never produce a duplicate row or a double bonus. Repeatable rewards
// increment only on an unsatisfied-to-satisfied transition between the
// pre-event and post-event stats; since Apply is serialized per user,
// exactly one event observes any given transition.
func (g *Grants) Evaluate(ctx context.Context, user core.UserID, before, after core.ProgressStats, delta core.ProgressDelta) ([]NewGrant, error) {
	existing, err := g.storage.ListGrants(ctx, user)
	if err != nil {
		return nil, err
	}
	byReward := make(map[core.RewardID]core.RewardGrant, len(existing))
	for _, gr := range existing {
		byReward[gr.RewardID] = gr
	}

	var out []NewGrant
	for _, def := range g.catalog.ListActive() {
		prior, has := byReward[def.ID]

		if !def.Criteria.Satisfied(after) {
			// Track partial progress for repeatable rewards climbing back
			// toward their threshold (streak resets).
			if has && def.Repeatable {
				if p := def.Criteria.Progress(after); p != prior.Progress {
					if err := g.storage.SetGrantProgress(ctx, user, def.ID, p); err != nil {
						return out, err
					}
				}
			}
			continue
		}

		if has && !def.Repeatable {
			continue // already earned, idempotent
		}
		if has && def.Repeatable && def.Criteria.Satisfied(before) {
			continue // still satisfied, not a fresh re-satisfaction
		}

		grant, outcome, err := g.storage.UpsertGrant(ctx, user, def, g.now())
		if err != nil {
			return out, err
		}
		if outcome == GrantUnchanged {
			continue // a concurrent evaluation won the race
		}

		ach := core.Achievement{
			UserID:   user,
			RewardID: def.ID,
			Title:    def.Title,
			Points:   def.Points,
			EarnedAt: grant.EarnedAt,
		}
		if err := g.storage.AddAchievement(ctx, ach); err != nil {
			return out, err
		}
		out = append(out, NewGrant{
			Grant:       grant,
			Definition:  def,
			Achievement: ach,
			Repeat:      outcome == GrantRepeated,
		})
	}
	return out, nil
}

// List returns the user's grants in first-earned order.
func (g *Grants) List(ctx context.Context, user core.UserID) ([]core.RewardGrant, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return g.storage.ListGrants(ctx, user)
}

// Package catalog holds the admin-curated set of reward definitions the
// grant engine evaluates after every event.
package catalog

import (
	"fmt"
	"sync"
	"time"

	"learnledger/core"
)

// Catalog is an in-memory, creation-ordered reward catalog. Reads hand out
// copies, so a definition already referenced by grants cannot be mutated
// behind the engine's back; edits only affect future evaluations.
type Catalog struct {
	mu    sync.RWMutex
	defs  map[core.RewardID]*core.RewardDefinition
	order []core.RewardID
	now   func() time.Time
}

// New builds a catalog from seed definitions, preserving their order.
func New(seed ...core.RewardDefinition) (*Catalog, error) {
	c := &Catalog{
		defs: make(map[core.RewardID]*core.RewardDefinition, len(seed)),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, def := range seed {
		if err := c.Create(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Create registers a new definition. Definitions are enabled unless
// explicitly disabled; a duplicate id is a conflict.
func (c *Catalog) Create(def core.RewardDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[def.ID]; ok {
		return fmt.Errorf("%w: reward %s already exists", core.ErrConflict, def.ID)
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = c.now()
	}
	cp := def
	c.defs[def.ID] = &cp
	c.order = append(c.order, def.ID)
	return nil
}

// Get returns an enabled definition or NotFound when absent or disabled.
func (c *Catalog) Get(id core.RewardID) (core.RewardDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[id]
	if !ok || def.Disabled {
		return core.RewardDefinition{}, fmt.Errorf("%w: reward %s", core.ErrNotFound, id)
	}
	return *def, nil
}

// ListActive returns all enabled definitions in creation order, so the grant
// engine never re-scans disabled entries.
func (c *Catalog) ListActive() []core.RewardDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.RewardDefinition, 0, len(c.order))
	for _, id := range c.order {
		if def := c.defs[id]; !def.Disabled {
			out = append(out, *def)
		}
	}
	return out
}

// ListAll returns every definition, enabled or not, in creation order.
func (c *Catalog) ListAll() []core.RewardDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.RewardDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.defs[id])
	}
	return out
}

// Update replaces an existing definition's editable fields. The id and
// creation time are immutable; issued grants are untouched.
func (c *Catalog) Update(def core.RewardDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.defs[def.ID]
	if !ok {
		return fmt.Errorf("%w: reward %s", core.ErrNotFound, def.ID)
	}
	def.CreatedAt = cur.CreatedAt
	cp := def
	c.defs[def.ID] = &cp
	return nil
}

// Disable removes a definition from future evaluations without deleting it.
func (c *Catalog) Disable(id core.RewardID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.defs[id]
	if !ok {
		return fmt.Errorf("%w: reward %s", core.ErrNotFound, id)
	}
	def.Disabled = true
	return nil
}

// DefaultDefinitions seeds a catalog with the platform's stock rewards.
func DefaultDefinitions() []core.RewardDefinition {
	return []core.RewardDefinition{
		{ID: "first-lesson", Title: "First Lesson", Description: "Complete your first lesson", Category: core.CategoryMilestone,
			Criteria: core.Criteria{Stat: core.StatLessonsCompleted, Threshold: 1}, Points: 10},
		{ID: "ten-lessons", Title: "Dedicated Learner", Description: "Complete ten lessons", Category: core.CategoryMilestone,
			Criteria: core.Criteria{Stat: core.StatLessonsCompleted, Threshold: 10}, Points: 50},
		{ID: "hundred-questions", Title: "Question Hound", Description: "Answer one hundred quiz questions", Category: core.CategoryDedication,
			Criteria: core.Criteria{Stat: core.StatQuestionsAnswered, Threshold: 100}, Points: 50},
		{ID: "sharp-shooter", Title: "Sharp Shooter", Description: "Reach 90% accuracy", Category: core.CategoryAccuracy,
			Criteria: core.Criteria{Stat: core.StatAccuracy, Threshold: 90}, Points: 75},
		{ID: "weekly-streak", Title: "Weekly Streak", Description: "Study seven days in a row", Category: core.CategoryStreak,
			Criteria: core.Criteria{Stat: core.StatStreak, Threshold: 7}, Repeatable: true, Points: 25},
		{ID: "monthly-streak", Title: "Monthly Streak", Description: "Study thirty days in a row", Category: core.CategoryStreak,
			Criteria: core.Criteria{Stat: core.StatStreak, Threshold: 30}, Repeatable: true, Points: 100},
		{ID: "level-ten", Title: "Level 10", Description: "Reach level ten", Category: core.CategoryMastery,
			Criteria: core.Criteria{Stat: core.StatLevel, Threshold: 10}, Points: 100},
		{ID: "marathon", Title: "Marathon", Description: "Log a thousand study minutes", Category: core.CategoryDedication,
			Criteria: core.Criteria{Stat: core.StatTotalStudyTime, Threshold: 1000}, Points: 75},
	}
}

package engine

import (
	"context"
	"sync"

	"learnledger/core"
)

// EventResult is the combined summary a collaborator gets back for one
// recorded event: points gained, level movement, and freshly unlocked
// rewards.
type EventResult struct {
	UserID         core.UserID        `json:"user_id"`
	PointsEarned   int64              `json:"points_earned"`
	BonusPoints    int64              `json:"bonus_points"`
	Experience     int64              `json:"experience"`
	Level          int64              `json:"level"`
	LeveledUp      bool               `json:"leveled_up"`
	Streak         int64              `json:"streak"`
	StreakExtended bool               `json:"streak_extended"`
	Unlocked       []NewGrant         `json:"unlocked,omitempty"`
	Stats          core.ProgressStats `json:"stats"`
}

// Dispatcher is the single entry point collaborators call. It sequences the
// apply-then-evaluate pipeline under a per-user critical section so
// evaluation always sees the post-apply stats, never a stale snapshot, and
// the pair is serialized against other events for the same user.
type Dispatcher struct {
	ledger  *Ledger
	grants  *Grants
	storage Storage
	table   *core.PointTable
	bus     *EventBus
	locks   sync.Map // core.UserID -> *sync.Mutex
}

func NewDispatcher(storage Storage, table *core.PointTable, catalog Catalog, bus *EventBus) *Dispatcher {
	if storage == nil || table == nil || catalog == nil || bus == nil {
		panic("NewDispatcher requires non-nil storage, table, catalog, and bus")
	}
	return &Dispatcher{
		ledger:  NewLedger(storage, table),
		grants:  NewGrants(storage, catalog),
		storage: storage,
		table:   table,
		bus:     bus,
	}
}

func (d *Dispatcher) userLock(user core.UserID) *sync.Mutex {
	if v, ok := d.locks.Load(user); ok {
		return v.(*sync.Mutex)
	}
	v, _ := d.locks.LoadOrStore(user, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Record applies the event, evaluates rewards against the updated stats, and
// credits achievement bonuses in one bounded extra pass. The whole pipeline
// shares a single snapshot of the point table.
func (d *Dispatcher) Record(ctx context.Context, user core.UserID, ev core.ActionEvent) (EventResult, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return EventResult{}, err
	}
	if err := ev.Validate(); err != nil {
		return EventResult{}, err
	}

	mu := d.userLock(user)
	mu.Lock()
	defer mu.Unlock()

	rates := d.table.Snapshot()

	before, after, delta, err := d.ledger.ApplyWithRates(ctx, user, ev, rates)
	if err != nil {
		return EventResult{}, err
	}
	d.bus.Publish(ctx, core.NewPointsEarned(user, ev.Kind, delta.PointsEarned, delta.NewExperience))
	if delta.StreakChanged {
		d.bus.Publish(ctx, core.NewStreakExtended(user, delta.NewStreak))
	}

	unlocked, err := d.grants.Evaluate(ctx, user, before, after, delta)
	if err != nil {
		return EventResult{}, err
	}

	final := after
	var bonus core.ProgressDelta
	if len(unlocked) > 0 {
		final, bonus, err = d.ledger.ApplyAchievementBonus(ctx, user, len(unlocked), rates)
		if err != nil {
			return EventResult{}, err
		}
		for _, ng := range unlocked {
			d.bus.Publish(ctx, core.NewAchievementUnlocked(user, ng.Definition.ID, ng.Definition.Title, ng.Achievement.Points))
		}
	}
	if final.Level > before.Level {
		d.bus.Publish(ctx, core.NewLevelUp(user, final.Level, final.Experience))
	}

	return EventResult{
		UserID:         user,
		PointsEarned:   delta.PointsEarned,
		BonusPoints:    bonus.PointsEarned,
		Experience:     final.Experience,
		Level:          final.Level,
		LeveledUp:      final.Level > before.Level,
		Streak:         final.Streak,
		StreakExtended: delta.StreakChanged,
		Unlocked:       unlocked,
		Stats:          final,
	}, nil
}

// Progress is the read-only stats query for dashboards and profiles.
func (d *Dispatcher) Progress(ctx context.Context, user core.UserID) (core.ProgressStats, error) {
	return d.ledger.Get(ctx, user)
}

// Grants returns the user's grant ledger rows in first-earned order.
func (d *Dispatcher) Grants(ctx context.Context, user core.UserID) ([]core.RewardGrant, error) {
	return d.grants.List(ctx, user)
}

// Achievements returns the user's display achievements in earned order.
func (d *Dispatcher) Achievements(ctx context.Context, user core.UserID) ([]core.Achievement, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return d.storage.ListAchievements(ctx, user)
}

// Subscribe registers a handler on the dispatcher's event bus.
func (d *Dispatcher) Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func() {
	return d.bus.Subscribe(typ, fn)
}

// SubscribeAll registers a handler for every event type the ledger emits.
func (d *Dispatcher) SubscribeAll(fn func(context.Context, core.Event)) func() {
	return d.bus.SubscribeAll(fn)
}

// Publish forwards an event to the bus.
func (d *Dispatcher) Publish(ctx context.Context, ev core.Event) {
	d.bus.Publish(ctx, ev)
}

func (d *Dispatcher) Close() { d.bus.Close() }

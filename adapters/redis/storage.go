// Package redis implements engine.Storage on Redis.
//
// Data structure:
//   - user:{id}:progress      -> JSON blob of core.ProgressStats
//   - user:{id}:grants        -> list of reward ids in first-earned order
//   - user:{id}:grant:{rid}   -> hash {times_earned, progress, earned_at}
//   - user:{id}:achievements  -> list of JSON achievements in earned order
//
// Progress updates use WATCH/MULTI optimistic transactions with bounded
// retries; grant creation is a Lua-script conditional upsert, so the
// at-most-one-grant invariant holds across processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"learnledger/core"
	"learnledger/engine"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr         string        `json:"addr" env:"LEARNLEDGER_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"LEARNLEDGER_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"LEARNLEDGER_REDIS_DB"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultConfig returns sensible defaults for Redis configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// maxUpdateRetries bounds optimistic retries before surfacing ErrConflict.
const maxUpdateRetries = 5

// Store implements engine.Storage using Redis as the backend.
type Store struct {
	client *redis.Client
}

// New creates a Redis-backed storage with the provided configuration.
func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", core.ErrPersistence, err)
	}
	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing client (useful for testing).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func progressKey(user core.UserID) string {
	return fmt.Sprintf("user:%s:progress", user)
}

func grantOrderKey(user core.UserID) string {
	return fmt.Sprintf("user:%s:grants", user)
}

func grantKey(user core.UserID, reward core.RewardID) string {
	return fmt.Sprintf("user:%s:grant:%s", user, reward)
}

func achievementsKey(user core.UserID) string {
	return fmt.Sprintf("user:%s:achievements", user)
}

func (s *Store) GetProgress(ctx context.Context, user core.UserID) (core.ProgressStats, error) {
	data, err := s.client.Get(ctx, progressKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.ProgressStats{}, fmt.Errorf("%w: no progress for user %s", core.ErrNotFound, user)
	}
	if err != nil {
		return core.ProgressStats{}, fmt.Errorf("%w: get progress: %v", core.ErrPersistence, err)
	}
	var stats core.ProgressStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return core.ProgressStats{}, fmt.Errorf("%w: decode progress: %v", core.ErrPersistence, err)
	}
	return stats, nil
}

// UpdateProgress performs an optimistic read-modify-write under WATCH.
// A concurrent writer aborts the transaction; the update retries up to
// maxUpdateRetries before surfacing ErrConflict.
func (s *Store) UpdateProgress(ctx context.Context, user core.UserID, mutate func(*core.ProgressStats) error) (core.ProgressStats, error) {
	key := progressKey(user)
	var result core.ProgressStats

	txn := func(tx *redis.Tx) error {
		stats := core.NewProgressStats(user)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// first tracked event creates the record lazily
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &stats); err != nil {
				return err
			}
		}

		if err := mutate(&stats); err != nil {
			return err
		}
		stats.Version++
		stats.Updated = time.Now().UTC()

		payload, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err == nil {
			result = stats
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrNotFound) {
			return core.ProgressStats{}, err
		}
		return core.ProgressStats{}, fmt.Errorf("%w: update progress: %v", core.ErrPersistence, err)
	}
	return core.ProgressStats{}, fmt.Errorf("%w: update progress for %s exhausted %d retries", core.ErrConflict, user, maxUpdateRetries)
}

// upsertGrantScript conditionally creates or bumps a grant in one atomic
// step. Returns {outcome, times_earned, earned_at}: 0 unchanged, 1 created,
// 2 repeated.
var upsertGrantScript = redis.NewScript(`
	local grant = KEYS[1]
	local order = KEYS[2]
	local repeatable = ARGV[1]
	local now = ARGV[2]
	local reward = ARGV[3]
	if redis.call('EXISTS', grant) == 1 then
		if repeatable ~= '1' then
			return {0, tonumber(redis.call('HGET', grant, 'times_earned')), redis.call('HGET', grant, 'earned_at')}
		end
		local times = redis.call('HINCRBY', grant, 'times_earned', 1)
		redis.call('HSET', grant, 'progress', '100')
		redis.call('HSET', grant, 'earned_at', now)
		return {2, times, now}
	end
	redis.call('HSET', grant, 'times_earned', '1')
	redis.call('HSET', grant, 'progress', '100')
	redis.call('HSET', grant, 'earned_at', now)
	redis.call('RPUSH', order, reward)
	return {1, 1, now}
`)

func (s *Store) UpsertGrant(ctx context.Context, user core.UserID, def core.RewardDefinition, earnedAt time.Time) (core.RewardGrant, engine.GrantOutcome, error) {
	repeatable := "0"
	if def.Repeatable {
		repeatable = "1"
	}
	keys := []string{string(grantKey(user, def.ID)), grantOrderKey(user)}
	raw, err := upsertGrantScript.Run(ctx, s.client, keys,
		repeatable, strconv.FormatInt(earnedAt.UTC().Unix(), 10), string(def.ID)).Result()
	if err != nil {
		return core.RewardGrant{}, engine.GrantUnchanged, fmt.Errorf("%w: upsert grant: %v", core.ErrPersistence, err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return core.RewardGrant{}, engine.GrantUnchanged, fmt.Errorf("%w: unexpected upsert reply %v", core.ErrPersistence, raw)
	}

	outcome := engine.GrantOutcome(toInt64(reply[0]))
	grant := core.RewardGrant{
		UserID:      user,
		RewardID:    def.ID,
		TimesEarned: toInt64(reply[1]),
		Progress:    100,
		EarnedAt:    time.Unix(toInt64(reply[2]), 0).UTC(),
	}
	return grant, outcome, nil
}

func (s *Store) SetGrantProgress(ctx context.Context, user core.UserID, reward core.RewardID, progress int64) error {
	key := grantKey(user, reward)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: set grant progress: %v", core.ErrPersistence, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: no grant %s for user %s", core.ErrNotFound, reward, user)
	}
	if err := s.client.HSet(ctx, key, "progress", strconv.FormatInt(progress, 10)).Err(); err != nil {
		return fmt.Errorf("%w: set grant progress: %v", core.ErrPersistence, err)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, user core.UserID) ([]core.RewardGrant, error) {
	ids, err := s.client.LRange(ctx, grantOrderKey(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list grants: %v", core.ErrPersistence, err)
	}
	out := make([]core.RewardGrant, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, grantKey(user, core.RewardID(id))).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: list grants: %v", core.ErrPersistence, err)
		}
		if len(fields) == 0 {
			continue
		}
		times, _ := strconv.ParseInt(fields["times_earned"], 10, 64)
		progress, _ := strconv.ParseInt(fields["progress"], 10, 64)
		earned, _ := strconv.ParseInt(fields["earned_at"], 10, 64)
		out = append(out, core.RewardGrant{
			UserID:      user,
			RewardID:    core.RewardID(id),
			TimesEarned: times,
			Progress:    progress,
			EarnedAt:    time.Unix(earned, 0).UTC(),
		})
	}
	return out, nil
}

func (s *Store) AddAchievement(ctx context.Context, a core.Achievement) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: encode achievement: %v", core.ErrPersistence, err)
	}
	if err := s.client.RPush(ctx, achievementsKey(a.UserID), payload).Err(); err != nil {
		return fmt.Errorf("%w: add achievement: %v", core.ErrPersistence, err)
	}
	return nil
}

func (s *Store) ListAchievements(ctx context.Context, user core.UserID) ([]core.Achievement, error) {
	raw, err := s.client.LRange(ctx, achievementsKey(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list achievements: %v", core.ErrPersistence, err)
	}
	out := make([]core.Achievement, 0, len(raw))
	for _, item := range raw {
		var a core.Achievement
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("%w: decode achievement: %v", core.ErrPersistence, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

var _ engine.Storage = (*Store)(nil)

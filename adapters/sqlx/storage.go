// Package sqlx implements engine.Storage on a relational database through
// jmoiron/sqlx, supporting Postgres and MySQL.
//
// Progress updates run in a transaction with a SELECT ... FOR UPDATE row
// lock, so one user's events serialize at the database even across
// processes. Grant creation is a single conditional insert on the
// (user_id, reward_id) primary key (ON CONFLICT / ON DUPLICATE KEY), so it
// stays atomic without a transaction.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"learnledger/core"
	"learnledger/engine"

	// database drivers selected by Config.Driver
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL storage configuration.
type Config struct {
	Driver          Driver        `json:"driver" env:"LEARNLEDGER_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"LEARNLEDGER_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements engine.Storage on a SQL database.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool and pings the database.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", core.ErrPersistence, cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user_progress (
		user_id             VARCHAR(128) PRIMARY KEY,
		lessons_completed   BIGINT NOT NULL DEFAULT 0,
		questions_answered  BIGINT NOT NULL DEFAULT 0,
		correct_answers     BIGINT NOT NULL DEFAULT 0,
		puzzles_solved      BIGINT NOT NULL DEFAULT 0,
		exercises_completed BIGINT NOT NULL DEFAULT 0,
		accuracy            BIGINT NOT NULL DEFAULT 0,
		total_study_time    BIGINT NOT NULL DEFAULT 0,
		streak              BIGINT NOT NULL DEFAULT 0,
		best_streak         BIGINT NOT NULL DEFAULT 0,
		level               BIGINT NOT NULL DEFAULT 1,
		experience          BIGINT NOT NULL DEFAULT 0,
		last_active_day     VARCHAR(10) NOT NULL DEFAULT '',
		version             BIGINT NOT NULL DEFAULT 0,
		updated_at          TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reward_grants (
		user_id      VARCHAR(128) NOT NULL,
		reward_id    VARCHAR(128) NOT NULL,
		times_earned BIGINT NOT NULL DEFAULT 1,
		progress     BIGINT NOT NULL DEFAULT 100,
		earned_at    TIMESTAMP NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, reward_id)
	)`,
	`CREATE TABLE IF NOT EXISTS achievements (
		user_id   VARCHAR(128) NOT NULL,
		reward_id VARCHAR(128) NOT NULL,
		title     VARCHAR(256) NOT NULL,
		points    BIGINT NOT NULL DEFAULT 0,
		earned_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", core.ErrPersistence, err)
		}
	}
	return nil
}

const selectProgress = `SELECT user_id, lessons_completed, questions_answered, correct_answers,
	puzzles_solved, exercises_completed, accuracy, total_study_time, streak, best_streak,
	level, experience, last_active_day, version, updated_at
	FROM user_progress WHERE user_id = ?`

func (s *Store) GetProgress(ctx context.Context, user core.UserID) (core.ProgressStats, error) {
	var stats core.ProgressStats
	err := s.db.GetContext(ctx, &stats, s.db.Rebind(selectProgress), user)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ProgressStats{}, fmt.Errorf("%w: no progress for user %s", core.ErrNotFound, user)
	}
	if err != nil {
		return core.ProgressStats{}, fmt.Errorf("%w: get progress: %v", core.ErrPersistence, err)
	}
	return stats, nil
}

func (s *Store) UpdateProgress(ctx context.Context, user core.UserID, mutate func(*core.ProgressStats) error) (core.ProgressStats, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.ProgressStats{}, fmt.Errorf("%w: begin: %v", core.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	stats := core.NewProgressStats(user)
	fresh := false
	err = tx.GetContext(ctx, &stats, tx.Rebind(selectProgress+" FOR UPDATE"), user)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fresh = true
		stats = core.NewProgressStats(user)
	case err != nil:
		return core.ProgressStats{}, fmt.Errorf("%w: load progress: %v", core.ErrPersistence, err)
	}

	if err := mutate(&stats); err != nil {
		return core.ProgressStats{}, err
	}
	stats.Version++
	stats.Updated = time.Now().UTC()

	if fresh {
		_, err = tx.NamedExecContext(ctx, `INSERT INTO user_progress
			(user_id, lessons_completed, questions_answered, correct_answers, puzzles_solved,
			 exercises_completed, accuracy, total_study_time, streak, best_streak, level,
			 experience, last_active_day, version, updated_at)
			VALUES (:user_id, :lessons_completed, :questions_answered, :correct_answers, :puzzles_solved,
			 :exercises_completed, :accuracy, :total_study_time, :streak, :best_streak, :level,
			 :experience, :last_active_day, :version, :updated_at)`, stats)
	} else {
		_, err = tx.NamedExecContext(ctx, `UPDATE user_progress SET
			lessons_completed = :lessons_completed, questions_answered = :questions_answered,
			correct_answers = :correct_answers, puzzles_solved = :puzzles_solved,
			exercises_completed = :exercises_completed, accuracy = :accuracy,
			total_study_time = :total_study_time, streak = :streak, best_streak = :best_streak,
			level = :level, experience = :experience, last_active_day = :last_active_day,
			version = :version, updated_at = :updated_at
			WHERE user_id = :user_id`, stats)
	}
	if err != nil {
		return core.ProgressStats{}, fmt.Errorf("%w: store progress: %v", core.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return core.ProgressStats{}, fmt.Errorf("%w: commit: %v", core.ErrPersistence, err)
	}
	return stats, nil
}

const selectGrant = `SELECT user_id, reward_id, times_earned, progress, earned_at
	FROM reward_grants WHERE user_id = ? AND reward_id = ?`

func (s *Store) getGrant(ctx context.Context, user core.UserID, reward core.RewardID) (core.RewardGrant, error) {
	var g core.RewardGrant
	if err := s.db.GetContext(ctx, &g, s.db.Rebind(selectGrant), user, reward); err != nil {
		return core.RewardGrant{}, fmt.Errorf("%w: load grant: %v", core.ErrPersistence, err)
	}
	return g, nil
}

// UpsertGrant is one conditional insert on the (user_id, reward_id) primary
// key, so concurrent evaluations race at the database rather than in Go: the
// loser of a non-repeatable insert observes a no-op, never a unique
// violation.
func (s *Store) UpsertGrant(ctx context.Context, user core.UserID, def core.RewardDefinition, earnedAt time.Time) (core.RewardGrant, engine.GrantOutcome, error) {
	grant := core.RewardGrant{UserID: user, RewardID: def.ID, TimesEarned: 1, Progress: 100, EarnedAt: earnedAt.UTC()}
	if def.Repeatable {
		return s.upsertRepeatable(ctx, grant)
	}

	var insert string
	switch s.driver {
	case DriverMySQL:
		insert = `INSERT IGNORE INTO reward_grants (user_id, reward_id, times_earned, progress, earned_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`
	default:
		insert = `INSERT INTO reward_grants (user_id, reward_id, times_earned, progress, earned_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (user_id, reward_id) DO NOTHING`
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(insert),
		grant.UserID, grant.RewardID, grant.TimesEarned, grant.Progress, grant.EarnedAt, grant.EarnedAt)
	if err != nil {
		return core.RewardGrant{}, engine.GrantUnchanged, fmt.Errorf("%w: upsert grant: %v", core.ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return grant, engine.GrantCreated, nil
	}

	// already earned, or a concurrent insert won: hand back the stored row
	existing, err := s.getGrant(ctx, user, def.ID)
	if err != nil {
		return core.RewardGrant{}, engine.GrantUnchanged, err
	}
	return existing, engine.GrantUnchanged, nil
}

func (s *Store) upsertRepeatable(ctx context.Context, grant core.RewardGrant) (core.RewardGrant, engine.GrantOutcome, error) {
	if s.driver == DriverMySQL {
		// RowsAffected distinguishes the branches: 1 inserted, 2 updated.
		res, err := s.db.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO reward_grants (user_id, reward_id, times_earned, progress, earned_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE times_earned = times_earned + 1, progress = 100, earned_at = VALUES(earned_at)`),
			grant.UserID, grant.RewardID, grant.TimesEarned, grant.Progress, grant.EarnedAt, grant.EarnedAt)
		if err != nil {
			return core.RewardGrant{}, engine.GrantUnchanged, fmt.Errorf("%w: upsert grant: %v", core.ErrPersistence, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return grant, engine.GrantCreated, nil
		}
		stored, err := s.getGrant(ctx, grant.UserID, grant.RewardID)
		if err != nil {
			return core.RewardGrant{}, engine.GrantUnchanged, err
		}
		return stored, engine.GrantRepeated, nil
	}

	err := s.db.GetContext(ctx, &grant.TimesEarned, s.db.Rebind(
		`INSERT INTO reward_grants (user_id, reward_id, times_earned, progress, earned_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, reward_id) DO UPDATE
		 SET times_earned = reward_grants.times_earned + 1, progress = 100, earned_at = EXCLUDED.earned_at
		 RETURNING times_earned`),
		grant.UserID, grant.RewardID, grant.TimesEarned, grant.Progress, grant.EarnedAt, grant.EarnedAt)
	if err != nil {
		return core.RewardGrant{}, engine.GrantUnchanged, fmt.Errorf("%w: upsert grant: %v", core.ErrPersistence, err)
	}
	if grant.TimesEarned == 1 {
		return grant, engine.GrantCreated, nil
	}
	return grant, engine.GrantRepeated, nil
}

func (s *Store) SetGrantProgress(ctx context.Context, user core.UserID, reward core.RewardID, progress int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE reward_grants SET progress = ? WHERE user_id = ? AND reward_id = ?`),
		progress, user, reward)
	if err != nil {
		return fmt.Errorf("%w: set grant progress: %v", core.ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: no grant %s for user %s", core.ErrNotFound, reward, user)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, user core.UserID) ([]core.RewardGrant, error) {
	var out []core.RewardGrant
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT user_id, reward_id, times_earned, progress, earned_at
		 FROM reward_grants WHERE user_id = ? ORDER BY created_at`), user)
	if err != nil {
		return nil, fmt.Errorf("%w: list grants: %v", core.ErrPersistence, err)
	}
	return out, nil
}

func (s *Store) AddAchievement(ctx context.Context, a core.Achievement) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO achievements (user_id, reward_id, title, points, earned_at)
		 VALUES (?, ?, ?, ?, ?)`),
		a.UserID, a.RewardID, a.Title, a.Points, a.EarnedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: add achievement: %v", core.ErrPersistence, err)
	}
	return nil
}

func (s *Store) ListAchievements(ctx context.Context, user core.UserID) ([]core.Achievement, error) {
	var out []core.Achievement
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT user_id, reward_id, title, points, earned_at
		 FROM achievements WHERE user_id = ? ORDER BY earned_at`), user)
	if err != nil {
		return nil, fmt.Errorf("%w: list achievements: %v", core.ErrPersistence, err)
	}
	return out, nil
}

var _ engine.Storage = (*Store)(nil)

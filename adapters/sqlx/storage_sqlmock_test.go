package sqlx_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "learnledger/adapters/sqlx"
	"learnledger/core"
	"learnledger/engine"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func progressRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "lessons_completed", "questions_answered", "correct_answers",
		"puzzles_solved", "exercises_completed", "accuracy", "total_study_time",
		"streak", "best_streak", "level", "experience", "last_active_day",
		"version", "updated_at",
	})
}

func TestSQLMock_UpdateProgress_Insert(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, .* FROM user_progress WHERE user_id = .* FOR UPDATE`).
		WithArgs(user).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO user_progress`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := store.UpdateProgress(ctx, user, func(s *core.ProgressStats) error {
		s.LessonsCompleted++
		s.Experience += 10
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.LessonsCompleted)
	require.Equal(t, int64(10), stats.Experience)
	require.Equal(t, int64(1), stats.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpdateProgress_ExistingRow(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	updated := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, .* FROM user_progress WHERE user_id = .* FOR UPDATE`).
		WithArgs(user).
		WillReturnRows(progressRows().
			AddRow("u1", 3, 0, 0, 0, 0, 0, 0, 1, 1, 1, 30, "2026-02-10", 3, updated))
	mock.ExpectExec(`UPDATE user_progress SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stats, err := store.UpdateProgress(ctx, user, func(s *core.ProgressStats) error {
		s.LessonsCompleted++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), stats.LessonsCompleted)
	require.Equal(t, int64(4), stats.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpdateProgress_MutateErrorAborts(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, .* FROM user_progress WHERE user_id = .* FOR UPDATE`).
		WithArgs(user).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.UpdateProgress(ctx, user, func(s *core.ProgressStats) error {
		return core.ErrValidation
	})
	require.ErrorIs(t, err, core.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetProgress_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id, .* FROM user_progress WHERE user_id =`).
		WithArgs(core.UserID("missing")).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetProgress(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpsertGrant_Created(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	def := core.RewardDefinition{ID: "first_lesson", Title: "First Lesson"}
	earned := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO reward_grants .* ON CONFLICT .* DO NOTHING`).
		WithArgs(user, def.ID, int64(1), int64(100), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	grant, outcome, err := store.UpsertGrant(ctx, user, def, earned)
	require.NoError(t, err)
	require.Equal(t, engine.GrantCreated, outcome)
	require.Equal(t, int64(1), grant.TimesEarned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpsertGrant_NonRepeatableUnchanged(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	def := core.RewardDefinition{ID: "first_lesson", Title: "First Lesson"}
	earned := time.Now().UTC()

	// zero rows affected means another process already holds the grant;
	// the stored row is handed back as a no-op
	mock.ExpectExec(`INSERT INTO reward_grants .* ON CONFLICT .* DO NOTHING`).
		WithArgs(user, def.ID, int64(1), int64(100), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT user_id, reward_id, times_earned, progress, earned_at`).
		WithArgs(user, def.ID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "reward_id", "times_earned", "progress", "earned_at"}).
			AddRow("u1", "first_lesson", 1, 100, earned.Add(-time.Hour)))

	grant, outcome, err := store.UpsertGrant(ctx, user, def, earned)
	require.NoError(t, err)
	require.Equal(t, engine.GrantUnchanged, outcome)
	require.Equal(t, int64(1), grant.TimesEarned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpsertGrant_Repeated(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	def := core.RewardDefinition{ID: "weekly_streak", Title: "Weekly Streak", Repeatable: true}
	earned := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO reward_grants .* ON CONFLICT .* DO UPDATE .* RETURNING times_earned`).
		WithArgs(user, def.ID, int64(1), int64(100), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"times_earned"}).AddRow(3))

	grant, outcome, err := store.UpsertGrant(ctx, user, def, earned)
	require.NoError(t, err)
	require.Equal(t, engine.GrantRepeated, outcome)
	require.Equal(t, int64(3), grant.TimesEarned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpsertGrant_MySQLDuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewWithDB(libsqlx.NewDb(db, "mysql"), storage.DriverMySQL)

	ctx := context.Background()
	user := core.UserID("u1")
	def := core.RewardDefinition{ID: "weekly_streak", Title: "Weekly Streak", Repeatable: true}
	earned := time.Now().UTC()

	// MySQL reports two affected rows for the update branch
	mock.ExpectExec(`INSERT INTO reward_grants .* ON DUPLICATE KEY UPDATE`).
		WithArgs(user, def.ID, int64(1), int64(100), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT user_id, reward_id, times_earned, progress, earned_at`).
		WithArgs(user, def.ID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "reward_id", "times_earned", "progress", "earned_at"}).
			AddRow("u1", "weekly_streak", 2, 100, earned))

	grant, outcome, err := store.UpsertGrant(ctx, user, def, earned)
	require.NoError(t, err)
	require.Equal(t, engine.GrantRepeated, outcome)
	require.Equal(t, int64(2), grant.TimesEarned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetGrantProgress_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE reward_grants SET progress`).
		WithArgs(int64(40), core.UserID("u1"), core.RewardID("missing")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetGrantProgress(context.Background(), "u1", "missing", 40)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ListGrants(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	earned := time.Now().UTC()
	mock.ExpectQuery(`SELECT user_id, reward_id, times_earned, progress, earned_at`).
		WithArgs(core.UserID("u1")).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "reward_id", "times_earned", "progress", "earned_at"}).
			AddRow("u1", "first_lesson", 1, 100, earned).
			AddRow("u1", "weekly_streak", 2, 100, earned))

	grants, err := store.ListGrants(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	require.Equal(t, core.RewardID("first_lesson"), grants[0].RewardID)
	require.NoError(t, mock.ExpectationsWereMet())
}

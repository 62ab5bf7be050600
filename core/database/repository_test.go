package database

import (
	"context"
	"testing"
	"time"

	"world-sync/core/keypath"
	"world-sync/core/transport"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Load(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	rows := sqlmock.NewRows([]string{"session", "flat_key", "value", "updated_at"}).
		AddRow("lobby", "pieces|0|x", "1", time.Now()).
		AddRow("lobby", "pieces|1", keypath.NullSentinel, time.Now())
	mock.ExpectQuery("SELECT \\* FROM `world_keys` WHERE session = \\?").
		WithArgs("lobby").
		WillReturnRows(rows)

	flat, err := repo.Load(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Equal(t, keypath.Flat{"pieces|0|x": "1", "pieces|1": keypath.NullSentinel}, flat)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LoadError(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT \\* FROM `world_keys`").WillReturnError(assert.AnError)

	_, err := NewRepository(db).Load(context.Background(), "lobby")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRepository_Apply(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `world_keys` WHERE session = \\? AND flat_key IN \\(\\?,\\?\\)").
		WithArgs("lobby", "pieces|0|x", "pieces|0|y").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `world_keys` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Apply(context.Background(), "lobby", transport.StateChange{
		Added:   []transport.KeyValue{{Key: "pieces|0", Value: keypath.NullSentinel}},
		Removed: []string{"pieces|0|x", "pieces|0|y"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ApplyRollback(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `world_keys`").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Apply(context.Background(), "lobby", transport.StateChange{
		Added: []transport.KeyValue{{Key: "pieces|0|x", Value: "1"}},
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ApplyEmpty(t *testing.T) {
	db, mock := setupMockDB(t)

	require.NoError(t, NewRepository(db).Apply(context.Background(), "lobby", transport.StateChange{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Reset(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `world_keys` WHERE session = \\?").
		WithArgs("lobby").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec("INSERT INTO `world_keys`").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.Reset(context.Background(), "lobby", keypath.Flat{"__new": "t", "pieces|5|x": "1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Sessions(t *testing.T) {
	db, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"session"}).AddRow("hall").AddRow("lobby")
	mock.ExpectQuery("SELECT DISTINCT `session` FROM `world_keys`").WillReturnRows(rows)

	sessions, err := NewRepository(db).Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hall", "lobby"}, sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package job

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacheck/mediacheck/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeJob(path string, seq int64) *Job {
	j := New(path)
	j.Seq = seq
	return j
}

func TestUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := makeJob("/media/a.mkv", 2)
	b := makeJob("/media/b.mp4", 1)
	require.NoError(t, store.Upsert(ctx, a))
	require.NoError(t, store.Upsert(ctx, b))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, b.ID, jobs[0].ID, "ordered by seq")
	assert.Equal(t, a.ID, jobs[1].ID)
	assert.Equal(t, StatusQueued, jobs[0].Status)
	assert.Equal(t, DefaultDetails, jobs[0].Details)
	assert.Nil(t, jobs[0].StartedAt)
}

func TestUpsert_UpdatesExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	j := makeJob("/media/a.mkv", 1)
	require.NoError(t, store.Upsert(ctx, j))

	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Details = "File may be corrupt.\n\nmoov atom not found"
	j.Attempts = 1
	j.StartedAt = &now
	j.CompletedAt = &now
	j.Path = "/corrupt/a.mkv"
	require.NoError(t, store.Upsert(ctx, j))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	got := jobs[0]
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, j.Details, got.Details)
	assert.Equal(t, "/corrupt/a.mkv", got.Path)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.CompletedAt)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := makeJob("/media/a.mkv", 1)
	b := makeJob("/media/b.mkv", 2)
	c := makeJob("/media/c.mkv", 3)
	for _, j := range []*Job{a, b, c} {
		require.NoError(t, store.Upsert(ctx, j))
	}

	require.NoError(t, store.Delete(ctx, a.ID, c.ID))
	require.NoError(t, store.Delete(ctx))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, b.ID, jobs[0].ID)
}

func TestResetRunning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	j1 := makeJob("/media/a.mkv", 1)
	j2 := makeJob("/media/b.mkv", 2)
	now := time.Now().UTC()
	j2.Status = StatusRunning
	j2.Details = "Checking file, please wait."
	j2.StartedAt = &now
	require.NoError(t, store.Upsert(ctx, j1))
	require.NoError(t, store.Upsert(ctx, j2))

	ids, err := store.ResetRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{j2.ID}, ids)

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, StatusQueued, j.Status)
		assert.Nil(t, j.StartedAt)
	}
	assert.Equal(t, DefaultDetails, jobs[1].Details)

	ids, err = store.ResetRunning(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := &SQLiteStore{db: db}

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("disk full"))
	err = store.Upsert(ctx, makeJob("/media/a.mkv", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert job")
	assert.Contains(t, err.Error(), "disk full")

	mock.ExpectQuery("SELECT id, seq, path").WillReturnError(errors.New("locked"))
	_, err = store.List(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list jobs")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM jobs").WithArgs("x").WillReturnError(errors.New("io"))
	mock.ExpectRollback()
	err = store.Delete(ctx, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete job x")

	mock.ExpectQuery("SELECT id FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectExec("UPDATE jobs SET status").WillReturnError(errors.New("readonly"))
	_, err = store.ResetRunning(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset running jobs")

	assert.NoError(t, mock.ExpectationsWereMet())
}

package job

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repositories returns each Repository implementation, fresh per call.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": sqlite,
	}
}

func TestRepository_SaveAndFind(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := New(TypeOverlay, json.RawMessage(`{"video_url":"v"}`), 3)

			require.NoError(t, repo.Save(ctx, job))

			saved, err := repo.FindByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, job.ID, saved.ID)
			assert.Equal(t, TypeOverlay, saved.Type)
			assert.Equal(t, StatusQueued, saved.Status)
			assert.JSONEq(t, `{"video_url":"v"}`, string(saved.Payload))
			assert.Equal(t, 3, saved.MaxAttempts)
			assert.WithinDuration(t, job.CreatedAt, saved.CreatedAt, time.Millisecond)
			assert.True(t, saved.StartedAt.IsZero())
		})
	}
}

func TestRepository_SaveUpdates(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := New(TypeCompose, nil, 3)
			require.NoError(t, repo.Save(ctx, job))

			require.NoError(t, job.Start())
			require.NoError(t, job.Retry("engine failed", time.Now().Add(time.Minute)))
			require.NoError(t, repo.Save(ctx, job))

			saved, err := repo.FindByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusRetrying, saved.Status)
			assert.Equal(t, 1, saved.Attempts)
			assert.Equal(t, "engine failed", saved.Error)
			assert.False(t, saved.NextAttemptAt.IsZero())
			assert.False(t, saved.StartedAt.IsZero())
		})
	}
}

func TestRepository_FindByID_NotFound(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.FindByID(context.Background(), "nonexistent")
			assert.True(t, errors.Is(err, ErrJobNotFound), "got %v", err)
		})
	}
}

func TestRepository_FindByID_ReturnsCopy(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := New(TypeCompose, nil, 3)
			require.NoError(t, repo.Save(ctx, job))

			found, err := repo.FindByID(ctx, job.ID)
			require.NoError(t, err)
			_ = found.Start()

			original, err := repo.FindByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, original.Status)
		})
	}
}

func TestRepository_List(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			jobs, err := repo.List(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, jobs)

			base := time.Now()
			var ids []string
			for i := 0; i < 3; i++ {
				j := New(TypeMerge, nil, 1)
				j.CreatedAt = base.Add(time.Duration(i) * time.Second)
				require.NoError(t, repo.Save(ctx, j))
				ids = append(ids, j.ID)
			}

			jobs, err = repo.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, jobs, 3)
			assert.Equal(t, ids[2], jobs[0].ID, "newest first")
			assert.Equal(t, ids[0], jobs[2].ID)

			jobs, err = repo.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, jobs, 2)
		})
	}
}

func TestRepository_Delete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := New(TypeCompose, nil, 1)
			require.NoError(t, repo.Save(ctx, job))

			require.NoError(t, repo.Delete(ctx, job.ID))
			_, err := repo.FindByID(ctx, job.ID)
			assert.ErrorIs(t, err, ErrJobNotFound)

			assert.ErrorIs(t, repo.Delete(ctx, job.ID), ErrJobNotFound)
		})
	}
}

func TestRepository_DeleteFinishedBefore(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			old := New(TypeCompose, nil, 1)
			_ = old.Start()
			_ = old.Complete(nil)
			old.CompletedAt = time.Now().Add(-2 * time.Hour)

			recent := New(TypeCompose, nil, 1)
			_ = recent.Start()
			_ = recent.Fail("boom")

			pending := New(TypeCompose, nil, 1)
			pending.CreatedAt = time.Now().Add(-3 * time.Hour)

			for _, j := range []*Job{old, recent, pending} {
				require.NoError(t, repo.Save(ctx, j))
			}

			n, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = repo.FindByID(ctx, old.ID)
			assert.ErrorIs(t, err, ErrJobNotFound)
			_, err = repo.FindByID(ctx, recent.ID)
			assert.NoError(t, err)
			_, err = repo.FindByID(ctx, pending.ID)
			assert.NoError(t, err)
		})
	}
}

func TestSQLite_ReopenKeepsJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	repo, err := OpenSQLite(path)
	require.NoError(t, err)
	job := New(TypeCompose, json.RawMessage(`{}`), 2)
	require.NoError(t, repo.Save(ctx, job))
	require.NoError(t, repo.Close())

	repo, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	saved, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, saved.ID)
	assert.Equal(t, path, repo.Path())
}

func TestSQLite_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	repo, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = repo.db.Exec("UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = OpenSQLite(path)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestIsSQLiteBusy(t *testing.T) {
	assert.False(t, isSQLiteBusy(nil))
	assert.True(t, isSQLiteBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isSQLiteBusy(errors.New("no such table")))
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnBusy(context.Background(), func() error {
		calls++
		return errors.New("constraint failed")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

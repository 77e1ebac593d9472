package storage_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id, workflow string, created time.Time) models.Job {
	return models.Job{
		ID:        id,
		Kind:      models.WorkflowJobKind,
		Workflow:  workflow,
		Status:    models.PendingJobStatus,
		Params:    models.Params{"source": "google"},
		CreatedAt: created,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("CreateAndGet", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, newJob("j1", "smart-sync", now)))

		got, err := store.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, models.PendingJobStatus, got.Status)
		assert.Equal(t, "google", got.Params.String("source", ""))

		got.Params["source"] = "mutated"
		again, err := store.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, "google", again.Params.String("source", ""), "returned records are copies")

		assert.ErrorIs(t, store.CreateJob(ctx, newJob("j1", "x", now)), storage.ErrAlreadyExists)
		_, err = store.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		store := storage.NewMemoryStore()
		job := newJob("j2", "backup-daily", now)
		require.NoError(t, store.CreateJob(ctx, job))

		job.Status = models.RunningJobStatus
		require.NoError(t, store.UpdateJob(ctx, job))
		job.Progress = 0.5
		require.NoError(t, store.UpdateJob(ctx, job))
		job.Status = models.CompletedJobStatus
		require.NoError(t, store.UpdateJob(ctx, job))

		job.Status = models.FailedJobStatus
		assert.ErrorIs(t, store.UpdateJob(ctx, job), storage.ErrInvalidTransition)
		got, err := store.GetJob(ctx, "j2")
		require.NoError(t, err)
		assert.Equal(t, models.CompletedJobStatus, got.Status)

		assert.ErrorIs(t, store.UpdateJob(ctx, newJob("ghost", "x", now)), storage.ErrNotFound)
	})

	t.Run("ListFilterAndOrder", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, newJob("old", "smart-sync", now.Add(-time.Hour))))
		require.NoError(t, store.CreateJob(ctx, newJob("new", "smart-sync", now)))
		require.NoError(t, store.CreateJob(ctx, newJob("other", "rag-search", now.Add(-time.Minute))))

		all, err := store.ListJobs(ctx, storage.JobFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "new", all[0].ID)
		assert.Equal(t, "old", all[2].ID)

		syncs, err := store.ListJobs(ctx, storage.JobFilter{Workflow: "smart-sync", Limit: 1})
		require.NoError(t, err)
		require.Len(t, syncs, 1)
		assert.Equal(t, "new", syncs[0].ID)

		running, err := store.ListJobs(ctx, storage.JobFilter{Status: models.RunningJobStatus})
		require.NoError(t, err)
		assert.Empty(t, running)
	})

	t.Run("ConcurrentReaders", func(t *testing.T) {
		store := storage.NewMemoryStore()
		job := newJob("busy", "smart-sync", now)
		require.NoError(t, store.CreateJob(ctx, job))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 50; k++ {
					_, err := store.GetJob(ctx, "busy")
					assert.NoError(t, err)
				}
			}()
		}
		job.Status = models.RunningJobStatus
		for k := 0; k < 50; k++ {
			job.CurrentStep = fmt.Sprintf("step-%d", k)
			assert.NoError(t, store.UpdateJob(ctx, job))
		}
		wg.Wait()
	})
}

//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/maltedev/tablegen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewJobRepository(db)
	created := time.Now().UTC().Truncate(time.Millisecond)

	job := &models.Job{
		ID:     "job-1",
		Status: models.JobPending,
		Request: models.TableRequest{
			URLs:   []string{"https://shop.example/p/1", "https://shop.example/list"},
			Fields: []string{"name", "price"},
			Format: "csv",
		},
		CreatedAt: created,
	}
	require.NoError(t, repo.Create(ctx, job))

	t.Run("get pending job", func(t *testing.T) {
		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobPending, got.Status)
		assert.Equal(t, job.Request, got.Request)
		assert.Nil(t, got.Rows)
		assert.Nil(t, got.StartedAt)
	})

	t.Run("update stores rows", func(t *testing.T) {
		started := created.Add(time.Second)
		done := created.Add(2 * time.Second)
		job.Status = models.JobCompleted
		job.StartedAt = &started
		job.CompletedAt = &done
		job.RowCount = 2
		job.ErrorCount = 1
		job.Rows = []models.ProductRecord{
			{URL: "https://shop.example/p/1", Name: "Lamp", Price: "19.99"},
			{URL: "https://shop.example/list", Error: "fetch failed"},
		}
		require.NoError(t, repo.Update(ctx, job))

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, got.Status)
		assert.Equal(t, job.Rows, got.Rows)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(done))
	})

	t.Run("list omits rows", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, &models.Job{
			ID: "job-2", Status: models.JobPending, CreatedAt: created.Add(time.Minute),
		}))

		jobs, err := repo.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "job-2", jobs[0].ID)
		assert.Nil(t, jobs[1].Rows)
		assert.Equal(t, 2, jobs[1].RowCount)
	})

	t.Run("missing job", func(t *testing.T) {
		_, err := repo.Get(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrJobNotFound)

		err = repo.Update(ctx, &models.Job{ID: "nope", Status: models.JobFailed})
		assert.ErrorIs(t, err, models.ErrJobNotFound)
	})
}

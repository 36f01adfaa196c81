package jobs

import (
	"context"
	"errors"

	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/queue"
)

// StartWorker processes queued jobs until ctx is cancelled or the queue is
// closed. Several workers may share one Manager.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to pop job", "error", err)
			continue
		}

		m.processJob(ctx, task.JobID)
	}
}

func (m *Manager) processJob(ctx context.Context, jobID string) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			m.logger.Warn("queued job no longer exists", "id", jobID)
			return
		}
		m.logger.Error("failed to load job", "id", jobID, "error", err)
		return
	}
	if job.Status.Done() {
		return
	}

	m.logger.Info("processing job", "id", job.ID, "urls", len(job.Request.URLs))

	if err := m.updateJobStatus(ctx, job, models.JobRunning, nil); err != nil {
		m.logger.Error("failed to update job status", "id", job.ID, "error", err)
		return
	}

	rows := m.extractor.ExtractBatch(ctx, job.Request.URLs)

	// Rows from a cancelled batch are error rows for every unfinished URL.
	if err := ctx.Err(); err != nil {
		m.logger.Warn("job interrupted", "id", job.ID, "error", err)
		m.fail(ctx, job, err)
		return
	}

	job.Rows = rows
	job.RowCount = len(rows)
	job.ErrorCount = 0
	for _, r := range rows {
		if r.Failed() {
			job.ErrorCount++
		}
	}

	if err := m.updateJobStatus(ctx, job, models.JobCompleted, nil); err != nil {
		m.logger.Error("failed to mark job as completed", "id", job.ID, "error", err)
		job.Rows = nil
		m.fail(ctx, job, err)
		return
	}

	m.finish(ctx, job)
	m.logger.Info("job completed", "id", job.ID, "rows", job.RowCount, "errors", job.ErrorCount)
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/tablegen/internal/events"
	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/queue"
)

var ErrJobNotFound = models.ErrJobNotFound

// Store persists jobs. storage.JobStore and database.JobRepository
// implement it.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, limit int) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
}

// Extractor runs a batch. *scraper.Service implements it.
type Extractor interface {
	ExtractBatch(ctx context.Context, urls []string) []models.ProductRecord
}

// Observer is told the final status of every job.
type Observer interface {
	ObserveJob(status models.JobStatus)
}

type Manager struct {
	store     Store
	extractor Extractor
	queue     queue.Queue
	publisher events.Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Manager)

func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

func NewManager(store Store, extractor Extractor, q queue.Queue, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     store,
		extractor: extractor,
		queue:     q,
		publisher: events.NopPublisher{},
		logger:    logger.With("component", "job_manager"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateJob stores a pending job and queues it for a worker.
func (m *Manager) CreateJob(ctx context.Context, req models.TableRequest) (*models.Job, error) {
	job := &models.Job{
		ID:        uuid.New().String(),
		Status:    models.JobPending,
		Request:   req,
		CreatedAt: m.now(),
	}

	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := m.queue.Push(&queue.Task{JobID: job.ID, CreatedAt: job.CreatedAt}); err != nil {
		m.fail(ctx, job, fmt.Errorf("failed to queue job: %w", err))
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "urls", len(req.URLs))
	return job, nil
}

func (m *Manager) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns job summaries, newest first.
func (m *Manager) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	jobs, err := m.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Recover re-queues jobs left pending or running by a previous process.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	jobs, err := m.store.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	n := 0
	for _, job := range jobs {
		if job.Status.Done() {
			continue
		}
		if err := m.queue.Push(&queue.Task{JobID: job.ID, CreatedAt: job.CreatedAt}); err != nil {
			return n, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		n++
	}

	if n > 0 {
		m.logger.Info("requeued unfinished jobs", "count", n)
	}
	return n, nil
}

func (m *Manager) updateJobStatus(ctx context.Context, job *models.Job, status models.JobStatus, err error) error {
	now := m.now()
	job.Status = status

	switch status {
	case models.JobRunning:
		job.StartedAt = &now
	case models.JobCompleted:
		job.CompletedAt = &now
	case models.JobFailed:
		job.CompletedAt = &now
		if err != nil {
			job.Error = err.Error()
		}
	}

	return m.store.Update(ctx, job)
}

// fail marks the job failed even if ctx is already cancelled.
func (m *Manager) fail(ctx context.Context, job *models.Job, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := m.updateJobStatus(ctx, job, models.JobFailed, cause); err != nil {
		m.logger.Error("failed to mark job as failed", "id", job.ID, "error", err)
	}
	m.finish(ctx, job)
}

func (m *Manager) finish(ctx context.Context, job *models.Job) {
	if m.observer != nil {
		m.observer.ObserveJob(job.Status)
	}
	if err := m.publisher.PublishTableGenerated(ctx, job); err != nil {
		m.logger.Error("failed to publish event", "id", job.ID, "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrJobNotFound)
}

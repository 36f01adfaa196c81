package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/tablegen/internal/database"
	"github.com/maltedev/tablegen/internal/models"
)

type EventType string

const (
	// EventTypeTableGenerated is published when an async job finishes.
	EventTypeTableGenerated EventType = "TABLE_GENERATED"

	aggregateJob = "job"
)

// TableGeneratedPayload summarises a finished job. Rows are not included;
// consumers fetch them from the jobs API.
type TableGeneratedPayload struct {
	EventID    string           `json:"event_id"`
	EventType  string           `json:"event_type"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"job_id"`
	Status     models.JobStatus `json:"status"`
	URLCount   int              `json:"url_count"`
	RowCount   int              `json:"row_count"`
	ErrorCount int              `json:"error_count"`
	Fields     []string         `json:"fields"`
	Format     string           `json:"format"`
	Error      string           `json:"error,omitempty"`
	Source     string           `json:"source"`
}

// Publisher announces finished jobs.
type Publisher interface {
	PublishTableGenerated(ctx context.Context, job *models.Job) error
}

// NopPublisher drops events. Used with the file job store.
type NopPublisher struct{}

func (NopPublisher) PublishTableGenerated(context.Context, *models.Job) error { return nil }

type txRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// OutboxPublisher writes events to the transactional outbox; the relay moves
// them to Redis.
type OutboxPublisher struct {
	db     txRunner
	outbox outboxWriter
	stream string
	logger *slog.Logger
}

func NewOutboxPublisher(db *database.DB, stream string, logger *slog.Logger) *OutboxPublisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &OutboxPublisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *OutboxPublisher) PublishTableGenerated(ctx context.Context, job *models.Job) error {
	event, err := newTableGeneratedEvent(job, p.stream, time.Now())
	if err != nil {
		return err
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", event.EventType,
		"job_id", job.ID,
		"outbox_id", event.ID,
	)
	return nil
}

func newTableGeneratedEvent(job *models.Job, stream string, now time.Time) (*database.OutboxEvent, error) {
	payload := TableGeneratedPayload{
		EventID:    uuid.New().String(),
		EventType:  string(EventTypeTableGenerated),
		Timestamp:  now,
		JobID:      job.ID,
		Status:     job.Status,
		URLCount:   len(job.Request.URLs),
		RowCount:   job.RowCount,
		ErrorCount: job.ErrorCount,
		Fields:     models.SelectFields(job.Request.Fields),
		Format:     job.Request.Format,
		Error:      job.Error,
		Source:     "tablegen",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateJob,
		AggregateID:   job.ID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  stream,
	}, nil
}

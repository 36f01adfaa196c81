package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EventStatus is the relay state of an outbox row.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
	EventDeadLetter EventStatus = "dead_letter"
)

const (
	// MaxRelayAttempts failed relays move an event to dead letter.
	MaxRelayAttempts = 5

	// DefaultStream receives events that do not name a target stream.
	DefaultStream = "stream:tablegen"

	maxRetryDelay = 5 * time.Minute
)

var ErrEventNotFound = errors.New("outbox event not found")

// OutboxEvent is one row of outbox_event.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        EventStatus     `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

type OutboxRepository struct {
	db  *DB
	now func() time.Time
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: time.Now}
}

const eventColumns = `id, aggregate_type, aggregate_id, event_type, payload, target_stream,
	status, retry_count, error_message, created_at, processed_at, next_retry_at`

// InsertWithTx adds event inside tx so it commits or rolls back together with
// the caller's writes. Missing ID, status, stream and schedule are filled in.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = EventPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultStream
	}
	event.CreatedAt = r.now().UTC()
	if event.NextRetryAt == nil {
		due := event.CreatedAt
		event.NextRetryAt = &due
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, NULL, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// Due returns up to limit pending or failed events whose retry time has come,
// oldest first.
func (r *OutboxRepository) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at
		LIMIT $4`,
		EventPending, EventFailed, r.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = $2, error_message = NULL WHERE id = $3`,
		EventProcessed, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// MarkFailed records a failed relay attempt and schedules the next one, or
// dead-letters the event once it has used MaxRelayAttempts. The returned
// status is the event's new status.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) (EventStatus, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`UPDATE outbox_event SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`,
		id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to count relay attempt: %w", err)
	}

	status := EventFailed
	if attempts >= MaxRelayAttempts {
		status = EventDeadLetter
	}

	_, err = r.db.Exec(ctx,
		`UPDATE outbox_event SET status = $1, error_message = $2, next_retry_at = $3 WHERE id = $4`,
		status, cause.Error(), r.now().UTC().Add(RetryDelay(attempts)), id)
	if err != nil {
		return "", fmt.Errorf("failed to mark event failed: %w", err)
	}
	return status, nil
}

// Counts returns how many events still wait for relay (pending or failed) and
// how many were dead-lettered.
func (r *OutboxRepository) Counts(ctx context.Context) (waiting, deadLetter int64, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`,
		EventPending, EventFailed, EventDeadLetter,
	).Scan(&waiting, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return waiting, deadLetter, nil
}

// RetryDelay is one second after the first failed attempt, doubling per
// attempt up to five minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		return maxRetryDelay
	}
	return min(time.Second<<(attempt-1), maxRetryDelay)
}

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errInvalidPayload = errors.New("outbox payload is not valid JSON")

// StreamWriter is the part of the Redis client the relay needs.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type eventStore interface {
	Due(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) (EventStatus, error)
}

// RelayObserver is notified once per relay attempt.
type RelayObserver interface {
	ObserveRelay(err error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen trims streams to about this many entries; 0 keeps all.
	StreamMaxLen int64
	Observer     RelayObserver
}

// Relay moves outbox events to their Redis streams.
type Relay struct {
	stream    StreamWriter
	store     eventStore
	observer  RelayObserver
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

func NewRelay(db *DB, stream StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	return newRelay(NewOutboxRepository(db), stream, logger, cfg)
}

func newRelay(store eventStore, stream StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		stream:    stream,
		store:     store,
		observer:  cfg.Observer,
		logger:    logger.With("component", "relay"),
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
		maxLen:    cfg.StreamMaxLen,
	}
}

// Run relays batches until ctx is done. A full batch is followed by another
// one right away; otherwise the relay waits one poll interval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", "interval", r.interval, "batch_size", r.batchSize)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		wait := r.interval
		n, err := r.RelayBatch(ctx)
		switch {
		case err != nil:
			r.logger.Error("relay batch failed", "error", err)
		case n == r.batchSize:
			wait = 0
		}
		timer.Reset(wait)
	}
}

// RelayBatch relays one batch of due events and returns how many it picked
// up. Failures of single events are recorded on the event, not returned.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	events, err := r.store.Due(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		err := r.relay(ctx, event)
		if r.observer != nil {
			r.observer.ObserveRelay(err)
		}
	}
	return len(events), nil
}

func (r *Relay) relay(ctx context.Context, event *OutboxEvent) error {
	log := r.logger.With("event_id", event.ID, "aggregate_id", event.AggregateID)

	if err := r.publish(ctx, event); err != nil {
		status, markErr := r.store.MarkFailed(ctx, event.ID, err)
		if markErr != nil {
			log.Error("failed to record relay failure", "error", err, "mark_error", markErr)
			return err
		}
		if status == EventDeadLetter {
			log.Error("event moved to dead letter", "attempts", event.RetryCount+1, "error", err)
		} else {
			log.Warn("event relay failed, will retry", "attempts", event.RetryCount+1, "error", err)
		}
		return err
	}

	if err := r.store.MarkProcessed(ctx, event.ID); err != nil {
		// The entry is already on the stream; consumers dedupe on outbox_id.
		log.Error("event relayed but not marked processed", "error", err)
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	log.Debug("event relayed", "type", event.EventType, "stream", event.TargetStream)
	return nil
}

type streamEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempt       int             `json:"attempt"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return errInvalidPayload
	}

	data, err := json.Marshal(streamEnvelope{
		OutboxID:      event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		CreatedAt:     event.CreatedAt,
		Attempt:       event.RetryCount + 1,
		Source:        "tablegen",
		Payload:       event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode stream entry: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"outbox_id":    event.ID.String(),
			"type":         event.EventType,
			"aggregate_id": event.AggregateID,
			"data":         string(data),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.stream.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", event.TargetStream, err)
	}
	return nil
}

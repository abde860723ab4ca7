package service

import (
	"context"

	"github.com/stayops/stayops/internal/domain/outbox"
	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/types"
)

// OutboxWriter enqueues domain events atomically with the business state
// change that produced them. Publish writes through the caller's ambient
// transaction: if that transaction rolls back, the event never existed.
// Delivery to the bus happens later, through the relay; a committed event is
// guaranteed at-least-once delivery but nothing about timing.
type OutboxWriter interface {
	Publish(ctx context.Context, msg *outbox.PublishMessage) error

	// Requeue resets a parked failed event for delivery. Operator remedy for
	// events that exhausted their attempts.
	Requeue(ctx context.Context, id string) error

	// Get fetches a single event, e.g. to inspect last_error before a requeue.
	Get(ctx context.Context, id string) (*outbox.Event, error)

	// Stats exposes the table-level gauges backing outbox observability.
	Stats(ctx context.Context) (*outbox.StatusCounts, error)
}

type outboxWriter struct {
	repo   outbox.Repository
	logger *logger.Logger
}

func NewOutboxWriter(repo outbox.Repository, logger *logger.Logger) OutboxWriter {
	return &outboxWriter{repo: repo, logger: logger}
}

func (w *outboxWriter) Publish(ctx context.Context, msg *outbox.PublishMessage) error {
	if msg == nil {
		return ierr.NewError("publish message cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if types.GetTenantID(ctx) == "" {
		return ierr.NewError("tenant id missing from context").
			Mark(ierr.ErrValidation)
	}

	event := outbox.NewEvent(ctx, msg)
	if err := w.repo.Insert(ctx, event); err != nil {
		return err
	}

	w.logger.Debugw("enqueued outbox event",
		"event_id", event.ID,
		"event_type", event.EventType,
		"topic", event.Topic,
		"partition_key", event.PartitionKey,
		"tenant_id", event.TenantID,
	)

	return nil
}

func (w *outboxWriter) Requeue(ctx context.Context, id string) error {
	if id == "" {
		return ierr.NewError("event id is required").
			Mark(ierr.ErrValidation)
	}

	if err := w.repo.Requeue(ctx, id); err != nil {
		return err
	}

	w.logger.Infow("requeued outbox event for delivery", "event_id", id)
	return nil
}

func (w *outboxWriter) Get(ctx context.Context, id string) (*outbox.Event, error) {
	if id == "" {
		return nil, ierr.NewError("event id is required").
			Mark(ierr.ErrValidation)
	}
	return w.repo.GetByID(ctx, id)
}

func (w *outboxWriter) Stats(ctx context.Context) (*outbox.StatusCounts, error) {
	return w.repo.CountByStatus(ctx)
}

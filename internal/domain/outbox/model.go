package outbox

import (
	"context"
	"time"

	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/types"
)

// Event is a domain event staged for delivery to the message bus. Rows are
// written inside the producing business transaction and mutated only by the
// relay afterwards. The payload is opaque to everything in this package.
type Event struct {
	ID            string                  `db:"id"`
	AggregateType string                  `db:"aggregate_type"`
	AggregateID   string                  `db:"aggregate_id"`
	EventType     string                  `db:"event_type"`
	Topic         string                  `db:"topic"`
	PartitionKey  string                  `db:"partition_key"`
	Payload       []byte                  `db:"payload"`
	TenantID      string                  `db:"tenant_id"`
	Status        types.OutboxEventStatus `db:"status"`
	AttemptCount  int                     `db:"attempt_count"`
	LastError     *string                 `db:"last_error"`
	NextAttemptAt *time.Time              `db:"next_attempt_at"`
	ClaimedBy     *string                 `db:"claimed_by"`
	ClaimedAt     *time.Time              `db:"claimed_at"`
	CreatedAt     time.Time               `db:"created_at"`
	PublishedAt   *time.Time              `db:"published_at"`
}

// PublishMessage is what producers hand to the writer; everything else on the
// Event is filled in at enqueue time.
type PublishMessage struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       []byte
}

func (m *PublishMessage) Validate() error {
	if m.AggregateType == "" || m.AggregateID == "" {
		return ierr.NewError("aggregate type and id are required").
			WithHint("Identify the aggregate the event belongs to").
			Mark(ierr.ErrValidation)
	}
	if m.EventType == "" {
		return ierr.NewError("event type is required").
			Mark(ierr.ErrValidation)
	}
	if m.Topic == "" {
		return ierr.NewError("topic is required").
			Mark(ierr.ErrValidation)
	}
	if m.PartitionKey == "" {
		return ierr.NewError("partition key is required").
			WithHint("Events sharing a partition key are delivered in order; pick the aggregate id when unsure").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NewEvent builds a pending event from a publish message, pulling the tenant
// from the request context.
func NewEvent(ctx context.Context, msg *PublishMessage) *Event {
	return &Event{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTBOX_EVENT),
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Topic:         msg.Topic,
		PartitionKey:  msg.PartitionKey,
		Payload:       msg.Payload,
		TenantID:      types.GetTenantID(ctx),
		Status:        types.OutboxEventStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// StatusCounts is the observability snapshot of the outbox table.
type StatusCounts struct {
	Pending   int64 `db:"pending" json:"pending"`
	Failed    int64 `db:"failed" json:"failed"`
	Exhausted int64 `db:"exhausted" json:"exhausted"`
	Published int64 `db:"published" json:"published"`
}

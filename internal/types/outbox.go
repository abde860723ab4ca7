package types

// OutboxEventStatus tracks the delivery lifecycle of an outbox event.
// Transitions are PENDING -> PUBLISHED (terminal) and PENDING -> FAILED -> PENDING
// (a failed event becomes claimable again once its backoff window elapses).
// Any changes to this type should be reflected in the database schema by running migrations
type OutboxEventStatus string

const (
	OutboxEventStatusPending   OutboxEventStatus = "PENDING"
	OutboxEventStatusPublished OutboxEventStatus = "PUBLISHED"
	OutboxEventStatusFailed    OutboxEventStatus = "FAILED"
)

// Header keys attached to every published bus message. Consumers rely on
// these for routing and dedup; the payload itself stays opaque to the relay.
const (
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderTenantID      = "tenant_id"
	HeaderPartitionKey  = "partition_key"
)

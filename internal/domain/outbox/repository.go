package outbox

import (
	"context"
	"time"
)

// Repository defines the interface for outbox persistence operations.
//
// Insert participates in the caller's ambient transaction so an event is only
// ever visible together with the business mutation that produced it. All other
// operations run against the base connection; the relay owns them.
type Repository interface {
	// Insert appends a pending event. Must be called inside the producing
	// business transaction.
	Insert(ctx context.Context, event *Event) error

	// ClaimBatch atomically claims up to limit deliverable events for the
	// given claimer and returns them ordered by creation time. Deliverable
	// means: pending, or failed with its backoff window elapsed and attempts
	// remaining; not claimed within the visibility window by anyone else; and
	// the oldest unpublished event of its partition key — at most one event
	// per partition is in flight at a time, which is what keeps per-partition
	// FIFO intact across concurrent claimers. Concurrent claimers never
	// receive the same row.
	ClaimBatch(ctx context.Context, claimerID string, limit int) ([]*Event, error)

	// MarkPublished finalizes an event after a successful publish. Terminal.
	MarkPublished(ctx context.Context, id string) error

	// DeletePublished removes an event after a successful publish, for
	// deployments that opt out of retaining delivered rows.
	DeletePublished(ctx context.Context, id string) error

	// MarkFailed records a failed attempt and schedules the next one.
	MarkFailed(ctx context.Context, id string, attemptCount int, lastError string, nextAttemptAt time.Time) error

	// ReleaseClaim returns claimed-but-unprocessed events to the pool so they
	// become claimable again immediately (e.g. ordered siblings behind a
	// failed event).
	ReleaseClaim(ctx context.Context, ids []string) error

	// Requeue resets a parked failed event for fresh delivery attempts.
	// Operator remedy for exhausted events; fails on published ones.
	Requeue(ctx context.Context, id string) error

	// GetByID fetches a single event.
	GetByID(ctx context.Context, id string) (*Event, error)

	// CountByStatus reports table-level gauges for observability.
	CountByStatus(ctx context.Context) (*StatusCounts, error)
}

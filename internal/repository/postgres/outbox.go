package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/stayops/stayops/internal/config"
	"github.com/stayops/stayops/internal/domain/outbox"
	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/postgres"
	"github.com/stayops/stayops/internal/types"
)

type outboxRepository struct {
	db                *postgres.DB
	logger            *logger.Logger
	maxAttempts       int
	visibilitySeconds float64
}

func NewOutboxRepository(db *postgres.DB, cfg *config.Configuration, logger *logger.Logger) outbox.Repository {
	return &outboxRepository{
		db:                db,
		logger:            logger,
		maxAttempts:       cfg.Outbox.MaxAttempts,
		visibilitySeconds: cfg.Outbox.VisibilityTimeout.Seconds(),
	}
}

func (r *outboxRepository) Insert(ctx context.Context, event *outbox.Event) error {
	query := `
	INSERT INTO outbox_events (
		id, aggregate_type, aggregate_id, event_type, topic, partition_key,
		payload, tenant_id, status, attempt_count, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
	)
	`

	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		event.ID,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Topic,
		event.PartitionKey,
		event.Payload,
		event.TenantID,
		event.Status,
		event.AttemptCount,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// ClaimBatch claims deliverable events with a single UPDATE over a
// FOR UPDATE SKIP LOCKED subselect, so concurrent claimers never double-claim.
// The NOT EXISTS guard admits only the oldest unpublished event of each
// partition: one event in flight per partition at a time. The guard must not
// depend on claim bookkeeping — SKIP LOCKED plus READ COMMITTED snapshots mean
// a racing claimer can see the head row locked-but-unclaimed, and any guard
// keyed on claimed_at would wave the tail through while the head is mid-claim
// elsewhere. Gating on the committed PUBLISHED status closes that window.
func (r *outboxRepository) ClaimBatch(ctx context.Context, claimerID string, limit int) ([]*outbox.Event, error) {
	query := `
	UPDATE outbox_events o
	SET claimed_by = $1, claimed_at = now(), status = $2
	WHERE o.id IN (
		SELECT c.id FROM outbox_events c
		WHERE c.status IN ($2, $3)
		  AND c.attempt_count < $4
		  AND (c.next_attempt_at IS NULL OR c.next_attempt_at <= now())
		  AND (c.claimed_at IS NULL OR c.claimed_at < now() - make_interval(secs => $5))
		  AND NOT EXISTS (
			SELECT 1 FROM outbox_events prior
			WHERE prior.partition_key = c.partition_key
			  AND prior.status <> $6
			  AND (prior.created_at < c.created_at
			   OR (prior.created_at = c.created_at AND prior.id < c.id))
		  )
		ORDER BY c.created_at, c.id
		LIMIT $7
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, aggregate_type, aggregate_id, event_type, topic, partition_key,
		payload, tenant_id, status, attempt_count, last_error, next_attempt_at,
		claimed_by, claimed_at, created_at, published_at
	`

	rows, err := r.db.GetQuerier(ctx).QueryContext(ctx, query,
		claimerID,
		types.OutboxEventStatusPending,
		types.OutboxEventStatusFailed,
		r.maxAttempts,
		r.visibilitySeconds,
		types.OutboxEventStatusPublished,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		var e outbox.Event
		err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Topic,
			&e.PartitionKey,
			&e.Payload,
			&e.TenantID,
			&e.Status,
			&e.AttemptCount,
			&e.LastError,
			&e.NextAttemptAt,
			&e.ClaimedBy,
			&e.ClaimedAt,
			&e.CreatedAt,
			&e.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}

	// RETURNING order is not defined; restore insertion order
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	return events, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id string) error {
	query := `
	UPDATE outbox_events
	SET status = $2, published_at = now(), claimed_by = NULL, claimed_at = NULL,
		last_error = NULL, next_attempt_at = NULL
	WHERE id = $1 AND status <> $2
	`

	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, id, types.OutboxEventStatusPublished)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}

	// Zero rows means a concurrent redelivery already finalized the event;
	// at-least-once makes that a no-op, not an error.
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		r.logger.Debugw("outbox event already published", "event_id", id)
	}

	return nil
}

func (r *outboxRepository) DeletePublished(ctx context.Context, id string) error {
	query := `DELETE FROM outbox_events WHERE id = $1`

	if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete published outbox event: %w", err)
	}

	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, attemptCount int, lastError string, nextAttemptAt time.Time) error {
	query := `
	UPDATE outbox_events
	SET status = $2, attempt_count = $3, last_error = $4, next_attempt_at = $5,
		claimed_by = NULL, claimed_at = NULL
	WHERE id = $1 AND status <> $6
	`

	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		id,
		types.OutboxEventStatusFailed,
		attemptCount,
		lastError,
		nextAttemptAt,
		types.OutboxEventStatusPublished,
	)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}

	return nil
}

func (r *outboxRepository) ReleaseClaim(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
	UPDATE outbox_events
	SET claimed_by = NULL, claimed_at = NULL
	WHERE id = ANY($1) AND status <> $2
	`

	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, pq.Array(ids), types.OutboxEventStatusPublished)
	if err != nil {
		return fmt.Errorf("release outbox claims: %w", err)
	}

	return nil
}

func (r *outboxRepository) Requeue(ctx context.Context, id string) error {
	query := `
	UPDATE outbox_events
	SET status = $2, attempt_count = 0, last_error = NULL, next_attempt_at = NULL,
		claimed_by = NULL, claimed_at = NULL
	WHERE id = $1 AND status = $3
	`

	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		id, types.OutboxEventStatusPending, types.OutboxEventStatusFailed)
	if err != nil {
		return fmt.Errorf("requeue outbox event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		event, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return ierr.NewError("event is not in a failed state").
			WithHintf("Event %s is %s; only failed events can be requeued", id, event.Status).
			Mark(ierr.ErrInvalidOperation)
	}

	return nil
}

func (r *outboxRepository) GetByID(ctx context.Context, id string) (*outbox.Event, error) {
	query := `
	SELECT id, aggregate_type, aggregate_id, event_type, topic, partition_key,
		payload, tenant_id, status, attempt_count, last_error, next_attempt_at,
		claimed_by, claimed_at, created_at, published_at
	FROM outbox_events
	WHERE id = $1
	`

	var e outbox.Event
	err := r.db.GetQuerier(ctx).GetContext(ctx, &e, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("outbox event not found").
				WithHintf("No event with id %s", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, fmt.Errorf("get outbox event: %w", err)
	}

	return &e, nil
}

func (r *outboxRepository) CountByStatus(ctx context.Context) (*outbox.StatusCounts, error) {
	query := `
	SELECT
		COUNT(*) FILTER (WHERE status = $1) AS pending,
		COUNT(*) FILTER (WHERE status = $2 AND attempt_count < $3) AS failed,
		COUNT(*) FILTER (WHERE status = $2 AND attempt_count >= $3) AS exhausted,
		COUNT(*) FILTER (WHERE status = $4) AS published
	FROM outbox_events
	`

	var counts outbox.StatusCounts
	err := r.db.GetQuerier(ctx).GetContext(ctx, &counts, query,
		types.OutboxEventStatusPending,
		types.OutboxEventStatusFailed,
		r.maxAttempts,
		types.OutboxEventStatusPublished,
	)
	if err != nil {
		return nil, fmt.Errorf("count outbox events: %w", err)
	}

	return &counts, nil
}

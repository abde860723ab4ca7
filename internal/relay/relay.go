package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/stayops/stayops/internal/config"
	"github.com/stayops/stayops/internal/domain/outbox"
	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/pubsub"
	"github.com/stayops/stayops/internal/types"
)

// Relay drains the outbox to the message bus. A fixed pool of workers polls
// for claimable events; each claim is grouped by partition key and groups
// publish concurrently while events inside a group go out strictly in
// creation order.
//
// Delivery is at-least-once: the publish happens before the row is finalized,
// so a crash between the two redelivers the event on restart. Consumers
// deduplicate by message UUID, which is the event id.
type Relay struct {
	repo      outbox.Repository
	publisher pubsub.Publisher
	config    *config.OutboxConfig
	logger    *logger.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	startMu sync.Mutex
}

func New(
	repo outbox.Repository,
	publisher pubsub.Publisher,
	cfg *config.Configuration,
	logger *logger.Logger,
) *Relay {
	return &Relay{
		repo:      repo,
		publisher: publisher,
		config:    &cfg.Outbox,
		logger:    logger,
	}
}

// Start launches the worker pool and the monitor loop. Idempotent Stop.
func (r *Relay) Start(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < r.config.Workers; i++ {
		// Stagger workers across the poll interval so claims spread out
		offset := time.Duration(i) * r.config.PollInterval / time.Duration(r.config.Workers)

		r.wg.Add(1)
		go r.runWorker(ctx, offset)
	}

	if r.config.MonitorInterval > 0 {
		r.wg.Add(1)
		go r.runMonitor(ctx)
	}

	r.logger.Infow("outbox relay started",
		"workers", r.config.Workers,
		"batch_size", r.config.BatchSize,
		"poll_interval", r.config.PollInterval,
	)
}

// Stop cancels the workers and waits for in-flight batches to finish.
func (r *Relay) Stop() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.cancel == nil {
		return
	}

	r.cancel()
	r.wg.Wait()
	r.cancel = nil

	r.logger.Infow("outbox relay stopped")
}

func (r *Relay) runWorker(ctx context.Context, offset time.Duration) {
	defer r.wg.Done()

	claimerID := types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_RELAY_CLAIMER)

	select {
	case <-ctx.Done():
		return
	case <-time.After(offset):
	}

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Keep draining while full batches come back; an empty-ish claim
			// means the table is caught up and the ticker can take over again
			for {
				claimed, err := r.drainOnce(ctx, claimerID)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Errorw("outbox drain failed",
							"claimer_id", claimerID,
							"error", err,
						)
					}
					break
				}
				if claimed < r.config.BatchSize {
					break
				}
			}
		}
	}
}

// drainOnce claims one batch and ships it. Returns the number of claimed
// events regardless of how many published successfully.
func (r *Relay) drainOnce(ctx context.Context, claimerID string) (int, error) {
	events, err := r.repo.ClaimBatch(ctx, claimerID, r.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	// ClaimBatch returns events in creation order; grouping keeps that order
	// within each partition
	groups := lo.GroupBy(events, func(e *outbox.Event) string {
		return e.PartitionKey
	})

	p := pool.New().WithMaxGoroutines(len(groups))
	for _, group := range groups {
		group := group
		p.Go(func() {
			r.publishGroup(ctx, group)
		})
	}
	p.Wait()

	return len(events), nil
}

// publishGroup ships one partition's events sequentially. The first failure
// stops the group: the failed event is rescheduled and the events behind it
// are released unprocessed, so the partition replays from the failure point
// in order.
func (r *Relay) publishGroup(ctx context.Context, group []*outbox.Event) {
	for i, event := range group {
		if ctx.Err() != nil {
			r.releaseRest(group[i:])
			return
		}

		if err := r.publishEvent(ctx, event); err != nil {
			r.handleFailure(ctx, event, err)
			r.releaseRest(group[i+1:])
			return
		}

		if err := r.finalize(ctx, event); err != nil {
			// The publish went out; leaving the row claimed lets the
			// visibility timeout replay it, which is the at-least-once
			// contract doing its job
			r.logger.Errorw("failed to finalize published event",
				"event_id", event.ID,
				"error", err,
			)
			r.releaseRest(group[i+1:])
			return
		}
	}
}

func (r *Relay) publishEvent(ctx context.Context, event *outbox.Event) error {
	msg := message.NewMessage(event.ID, event.Payload)
	msg.Metadata.Set(types.HeaderEventType, event.EventType)
	msg.Metadata.Set(types.HeaderAggregateType, event.AggregateType)
	msg.Metadata.Set(types.HeaderTenantID, event.TenantID)
	msg.Metadata.Set(types.HeaderPartitionKey, event.PartitionKey)

	pubCtx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()

	// Bound the attempt even when the underlying publisher ignores context
	done := make(chan error, 1)
	go func() {
		done <- r.publisher.Publish(pubCtx, event.Topic, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-pubCtx.Done():
		return pubCtx.Err()
	}
}

func (r *Relay) finalize(ctx context.Context, event *outbox.Event) error {
	if r.config.DeleteOnPublish {
		return r.repo.DeletePublished(ctx, event.ID)
	}
	return r.repo.MarkPublished(ctx, event.ID)
}

func (r *Relay) handleFailure(ctx context.Context, event *outbox.Event, pubErr error) {
	attempt := event.AttemptCount + 1
	nextAttemptAt := time.Now().UTC().Add(r.nextAttemptDelay(attempt))

	lastError := pubErr.Error()
	if attempt >= r.config.MaxAttempts {
		// The machine code lands in last_error so the ops API shows why the
		// event is parked
		lastError = fmt.Sprintf("%s: %s", ierr.ErrPublishExhausted, pubErr)
	}

	if err := r.repo.MarkFailed(ctx, event.ID, attempt, lastError, nextAttemptAt); err != nil {
		r.logger.Errorw("failed to record publish failure",
			"event_id", event.ID,
			"error", err,
		)
		return
	}

	if attempt >= r.config.MaxAttempts {
		// Parked for operator intervention; surfaced by the monitor and the
		// ops API, never silently dropped
		r.logger.Errorw("outbox event exhausted publish attempts",
			"event_id", event.ID,
			"event_type", event.EventType,
			"partition_key", event.PartitionKey,
			"attempts", attempt,
			"error", pubErr,
		)
		return
	}

	r.logger.Warnw("outbox publish failed, scheduled retry",
		"event_id", event.ID,
		"attempt", attempt,
		"next_attempt_at", nextAttemptAt,
		"error", pubErr,
	)
}

func (r *Relay) releaseRest(rest []*outbox.Event) {
	if len(rest) == 0 {
		return
	}

	ids := lo.Map(rest, func(e *outbox.Event, _ int) string { return e.ID })

	// Release must survive worker shutdown, hence the fresh context
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.repo.ReleaseClaim(releaseCtx, ids); err != nil {
		// Claims expire via the visibility timeout anyway; this only delays
		// the replay
		r.logger.Warnw("failed to release outbox claims",
			"event_ids", ids,
			"error", err,
		)
	}
}

// nextAttemptDelay walks the exponential schedule up to the given attempt.
func (r *Relay) nextAttemptDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialBackoff
	b.MaxInterval = r.config.MaxBackoff
	b.MaxElapsedTime = 0

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (r *Relay) runMonitor(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := r.repo.CountByStatus(ctx)
			if err != nil {
				r.logger.Errorw("failed to read outbox gauges", "error", err)
				continue
			}

			r.logger.Infow("outbox status",
				"pending", counts.Pending,
				"failed", counts.Failed,
				"exhausted", counts.Exhausted,
				"published", counts.Published,
			)

			if counts.Exhausted > 0 {
				r.logger.Warnw("outbox events awaiting operator replay",
					"exhausted", counts.Exhausted,
				)
			}
		}
	}
}

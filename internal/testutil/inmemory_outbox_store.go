package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stayops/stayops/internal/domain/outbox"
	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/types"
)

var _ outbox.Repository = (*InMemoryOutboxStore)(nil)

// InMemoryOutboxStore mirrors the postgres claim semantics: visibility
// timeouts, backoff windows, max attempts and the partition-head guard, all
// evaluated in insertion order under a single mutex.
type InMemoryOutboxStore struct {
	mu          sync.Mutex
	events      map[string]*outbox.Event
	order       []string
	maxAttempts int
	visibility  time.Duration

	markPublishedFailures int
}

func NewInMemoryOutboxStore(maxAttempts int, visibility time.Duration) *InMemoryOutboxStore {
	return &InMemoryOutboxStore{
		events:      make(map[string]*outbox.Event),
		maxAttempts: maxAttempts,
		visibility:  visibility,
	}
}

// FailNextMarkPublished injects n MarkPublished failures, simulating a crash
// window between publish and finalize.
func (s *InMemoryOutboxStore) FailNextMarkPublished(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markPublishedFailures = n
}

func (s *InMemoryOutboxStore) Insert(ctx context.Context, event *outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return ierr.NewError("duplicate event id").
			Mark(ierr.ErrAlreadyExists)
	}

	copied := *event
	s.events[event.ID] = &copied
	s.order = append(s.order, event.ID)
	return nil
}

func (s *InMemoryOutboxStore) ClaimBatch(ctx context.Context, claimerID string, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var claimed []*outbox.Event

	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}

		e := s.events[id]
		if !s.claimable(e, now) {
			continue
		}
		if s.partitionHeadBlocked(e) {
			continue
		}

		e.Status = types.OutboxEventStatusPending
		e.ClaimedBy = &claimerID
		claimedAt := now
		e.ClaimedAt = &claimedAt

		copied := *e
		claimed = append(claimed, &copied)
	}

	return claimed, nil
}

func (s *InMemoryOutboxStore) claimable(e *outbox.Event, now time.Time) bool {
	if e.Status == types.OutboxEventStatusPublished {
		return false
	}
	if e.AttemptCount >= s.maxAttempts {
		return false
	}
	if e.NextAttemptAt != nil && e.NextAttemptAt.After(now) {
		return false
	}
	if e.ClaimedAt != nil && e.ClaimedAt.After(now.Add(-s.visibility)) {
		return false
	}
	return true
}

// partitionHeadBlocked reports whether any earlier sibling of the same
// partition is still unpublished. Only the head of a partition is ever
// claimable, so concurrent claimers cannot hold the head and the tail of one
// partition at the same time.
func (s *InMemoryOutboxStore) partitionHeadBlocked(e *outbox.Event) bool {
	for _, id := range s.order {
		if id == e.ID {
			return false
		}
		prior := s.events[id]
		if prior.PartitionKey != e.PartitionKey {
			continue
		}
		if prior.Status != types.OutboxEventStatusPublished {
			return true
		}
	}
	return false
}

func (s *InMemoryOutboxStore) MarkPublished(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.markPublishedFailures > 0 {
		s.markPublishedFailures--
		return fmt.Errorf("injected mark published failure")
	}

	e, ok := s.events[id]
	if !ok {
		return ierr.NewError("outbox event not found").
			Mark(ierr.ErrNotFound)
	}
	if e.Status == types.OutboxEventStatusPublished {
		return nil
	}

	now := time.Now().UTC()
	e.Status = types.OutboxEventStatusPublished
	e.PublishedAt = &now
	e.ClaimedBy = nil
	e.ClaimedAt = nil
	e.LastError = nil
	e.NextAttemptAt = nil
	return nil
}

func (s *InMemoryOutboxStore) DeletePublished(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryOutboxStore) MarkFailed(ctx context.Context, id string, attemptCount int, lastError string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return ierr.NewError("outbox event not found").
			Mark(ierr.ErrNotFound)
	}
	if e.Status == types.OutboxEventStatusPublished {
		return nil
	}

	e.Status = types.OutboxEventStatusFailed
	e.AttemptCount = attemptCount
	e.LastError = &lastError
	e.NextAttemptAt = &nextAttemptAt
	e.ClaimedBy = nil
	e.ClaimedAt = nil
	return nil
}

func (s *InMemoryOutboxStore) ReleaseClaim(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if e, ok := s.events[id]; ok && e.Status != types.OutboxEventStatusPublished {
			e.ClaimedBy = nil
			e.ClaimedAt = nil
		}
	}
	return nil
}

func (s *InMemoryOutboxStore) Requeue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return ierr.NewError("outbox event not found").
			Mark(ierr.ErrNotFound)
	}
	if e.Status != types.OutboxEventStatusFailed {
		return ierr.NewError("event is not in a failed state").
			WithHintf("Event %s is %s; only failed events can be requeued", id, e.Status).
			Mark(ierr.ErrInvalidOperation)
	}

	e.Status = types.OutboxEventStatusPending
	e.AttemptCount = 0
	e.LastError = nil
	e.NextAttemptAt = nil
	e.ClaimedBy = nil
	e.ClaimedAt = nil
	return nil
}

func (s *InMemoryOutboxStore) GetByID(ctx context.Context, id string) (*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return nil, ierr.NewError("outbox event not found").
			Mark(ierr.ErrNotFound)
	}

	copied := *e
	return &copied, nil
}

func (s *InMemoryOutboxStore) CountByStatus(ctx context.Context) (*outbox.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := &outbox.StatusCounts{}
	for _, e := range s.events {
		switch e.Status {
		case types.OutboxEventStatusPending:
			counts.Pending++
		case types.OutboxEventStatusPublished:
			counts.Published++
		case types.OutboxEventStatusFailed:
			if e.AttemptCount >= s.maxAttempts {
				counts.Exhausted++
			} else {
				counts.Failed++
			}
		}
	}
	return counts, nil
}

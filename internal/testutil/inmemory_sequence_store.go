package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stayops/stayops/internal/domain/sequence"
	ierr "github.com/stayops/stayops/internal/errors"
)

var _ sequence.Repository = (*InMemorySequenceStore)(nil)

// InMemorySequenceStore emulates the row-locked counter table with one mutex
// per scope: LockAndRead acquires the scope lock and Save releases it, which
// mirrors a SELECT ... FOR UPDATE held to commit. Save also enforces the
// increment-by-exactly-one invariant so misuse fails loudly in tests.
type InMemorySequenceStore struct {
	mu       sync.Mutex
	counters map[sequence.ScopeKey]*sequence.Counter
	locks    map[sequence.ScopeKey]*sync.Mutex
}

func NewInMemorySequenceStore() *InMemorySequenceStore {
	return &InMemorySequenceStore{
		counters: make(map[sequence.ScopeKey]*sequence.Counter),
		locks:    make(map[sequence.ScopeKey]*sync.Mutex),
	}
}

func (s *InMemorySequenceStore) scopeLock(key sequence.ScopeKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *InMemorySequenceStore) LockAndRead(ctx context.Context, key sequence.ScopeKey) (*sequence.Counter, error) {
	s.scopeLock(key).Lock()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok {
		// Lock stays held; CreateIfAbsent and Save complete the allocation
		return nil, ierr.NewError("no counter for scope").
			WithHintf("Scope %s has no counter yet", key).
			Mark(ierr.ErrNotFound)
	}

	copied := *counter
	return &copied, nil
}

func (s *InMemorySequenceStore) CreateIfAbsent(ctx context.Context, key sequence.ScopeKey, prefix string) (*sequence.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if counter, ok := s.counters[key]; ok {
		copied := *counter
		return &copied, nil
	}

	now := time.Now().UTC()
	counter := &sequence.Counter{
		TenantID:     key.TenantID,
		DocumentType: key.DocumentType,
		Year:         key.Year,
		Prefix:       prefix,
		LastNumber:   0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.counters[key] = counter

	copied := *counter
	return &copied, nil
}

func (s *InMemorySequenceStore) Save(ctx context.Context, counter *sequence.Counter) error {
	key := counter.ScopeKey()

	s.mu.Lock()
	stored, ok := s.counters[key]
	if !ok {
		s.mu.Unlock()
		s.scopeLock(key).Unlock()
		return fmt.Errorf("counter for scope %s does not exist", key)
	}
	if counter.LastNumber != stored.LastNumber+1 {
		s.mu.Unlock()
		s.scopeLock(key).Unlock()
		return fmt.Errorf("counter for scope %s must grow by exactly 1 (got %d, had %d)",
			key, counter.LastNumber, stored.LastNumber)
	}

	stored.LastNumber = counter.LastNumber
	stored.RowVersion++
	stored.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.scopeLock(key).Unlock()
	return nil
}

func (s *InMemorySequenceStore) LastIssued(ctx context.Context, key sequence.ScopeKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok {
		return 0, nil
	}
	return counter.LastNumber, nil
}

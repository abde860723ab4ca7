package sequence

import "context"

// Repository defines the interface for sequence counter persistence.
//
// LockAndRead and CreateIfAbsent must run inside a transaction; the exclusive
// row lock they take is held until that transaction ends, which is what
// serializes concurrent allocations for the same scope. Callers on different
// scopes never block each other.
type Repository interface {
	// LockAndRead loads the counter for a scope under an exclusive row lock.
	// Returns ierr.ErrNotFound when no counter exists for the scope yet.
	LockAndRead(ctx context.Context, key ScopeKey) (*Counter, error)

	// CreateIfAbsent inserts the counter row for a scope with last_number 0.
	// Safe to race: losers of the insert race end up locking the winner's row.
	CreateIfAbsent(ctx context.Context, key ScopeKey, prefix string) (*Counter, error)

	// Save persists the incremented counter. Must be called with the row lock
	// still held.
	Save(ctx context.Context, counter *Counter) error

	// LastIssued reads the current last_number for a scope without locking.
	// Observability only; returns 0 when the scope has no counter yet.
	LastIssued(ctx context.Context, key ScopeKey) (int64, error)
}

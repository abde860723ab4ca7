package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/stayops/stayops/internal/config"
	"github.com/stayops/stayops/internal/domain/sequence"
	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/postgres"
)

// Postgres error codes surfaced while waiting on the counter row lock.
const (
	pgCodeLockNotAvailable = "55P03"
	pgCodeQueryCanceled    = "57014"
)

type sequenceRepository struct {
	db          *postgres.DB
	logger      *logger.Logger
	lockTimeout string
}

func NewSequenceRepository(db *postgres.DB, cfg *config.Configuration, logger *logger.Logger) sequence.Repository {
	return &sequenceRepository{
		db:     db,
		logger: logger,
		// SET LOCAL syntax takes no bind parameters; render once at startup
		lockTimeout: fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", cfg.Numbering.LockTimeout.Milliseconds()),
	}
}

func (r *sequenceRepository) LockAndRead(ctx context.Context, key sequence.ScopeKey) (*sequence.Counter, error) {
	q := r.db.GetQuerier(ctx)

	// Bound the lock wait so a stuck allocator fails fast instead of queueing.
	// Only meaningful inside a transaction, which LockAndRead requires anyway.
	if _, err := q.ExecContext(ctx, r.lockTimeout); err != nil {
		return nil, translateAllocationErr(err, "set lock timeout")
	}

	query := `
	SELECT tenant_id, document_type, year, prefix, last_number, row_version, created_at, updated_at
	FROM sequence_counters
	WHERE tenant_id = $1 AND document_type = $2 AND year = $3
	FOR UPDATE
	`

	var c sequence.Counter
	err := q.GetContext(ctx, &c, query, key.TenantID, key.DocumentType, key.Year)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("no counter for scope").
				WithHintf("Scope %s has no counter yet", key).
				Mark(ierr.ErrNotFound)
		}
		return nil, translateAllocationErr(err, "lock counter")
	}

	return &c, nil
}

func (r *sequenceRepository) CreateIfAbsent(ctx context.Context, key sequence.ScopeKey, prefix string) (*sequence.Counter, error) {
	q := r.db.GetQuerier(ctx)

	query := `
	INSERT INTO sequence_counters (tenant_id, document_type, year, prefix, last_number, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 0, now(), now())
	ON CONFLICT (tenant_id, document_type, year) DO NOTHING
	`

	if _, err := q.ExecContext(ctx, query, key.TenantID, key.DocumentType, key.Year, prefix); err != nil {
		return nil, translateAllocationErr(err, "create counter")
	}

	// Either our insert won or a concurrent allocator's did; locking the row
	// serializes us behind the winner in both cases.
	return r.LockAndRead(ctx, key)
}

func (r *sequenceRepository) Save(ctx context.Context, counter *sequence.Counter) error {
	q := r.db.GetQuerier(ctx)

	query := `
	UPDATE sequence_counters
	SET last_number = $4, row_version = row_version + 1, updated_at = now()
	WHERE tenant_id = $1 AND document_type = $2 AND year = $3
	`

	result, err := q.ExecContext(ctx, query,
		counter.TenantID, counter.DocumentType, counter.Year, counter.LastNumber)
	if err != nil {
		return translateAllocationErr(err, "save counter")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ierr.NewError("counter row disappeared during allocation").
			WithHintf("Scope %s", counter.ScopeKey()).
			Mark(ierr.ErrDatabase)
	}

	return nil
}

func (r *sequenceRepository) LastIssued(ctx context.Context, key sequence.ScopeKey) (int64, error) {
	q := r.db.GetQuerier(ctx)

	query := `
	SELECT last_number
	FROM sequence_counters
	WHERE tenant_id = $1 AND document_type = $2 AND year = $3
	`

	var lastNumber int64
	err := q.GetContext(ctx, &lastNumber, query, key.TenantID, key.DocumentType, key.Year)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read last issued: %w", err)
	}

	return lastNumber, nil
}

// translateAllocationErr maps low-level lock/timeout failures onto the
// allocation error taxonomy. Anything translated here means the allocator's
// transaction did not commit, so no number was issued.
func translateAllocationErr(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgCodeLockNotAvailable:
			return ierr.WithError(err).
				WithHint("Another allocation holds the counter lock; retry").
				Mark(ierr.ErrAllocationConflict)
		case pgCodeQueryCanceled:
			return ierr.WithError(err).
				WithHint("Allocation statement timed out; retry").
				Mark(ierr.ErrAllocationTimeout)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ierr.WithError(err).
			WithHint("Allocation deadline exceeded; retry").
			Mark(ierr.ErrAllocationTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

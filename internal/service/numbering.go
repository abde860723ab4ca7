package service

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/stayops/stayops/internal/config"
	"github.com/stayops/stayops/internal/domain/sequence"
	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/postgres"
	"github.com/stayops/stayops/internal/types"
)

// lastIssuedCacheTTL keeps metrics scrapes off the counters table.
const lastIssuedCacheTTL = 30 * time.Second

// NumberingService issues gap-controlled sequential numbers for legally
// regulated documents, scoped per tenant, document type and calendar year.
//
// Allocation runs in its own short transaction, committed independently of
// whatever the caller later does. A caller that obtains a number and then
// fails to commit its own record leaves that number permanently unused: an
// auditable gap, by policy, never a duplicate. Nesting the increment in the
// caller's transaction would hold the scope lock for the caller's full
// lifetime and let rolled-back numbers be observed twice on retry.
type NumberingService interface {
	// Allocate issues the next number for the tenant in context,
	// e.g. FAC-2025-00042. Fails with ErrUnsupportedDocumentType for types
	// outside the regulated set, and with ErrAllocationTimeout or
	// ErrAllocationConflict when the scope lock cannot be acquired in time;
	// in every failure case no number was consumed.
	Allocate(ctx context.Context, documentType types.DocumentType) (string, error)

	// RequiresLegalNumber reports whether a document type must be numbered
	// through the allocator.
	RequiresLegalNumber(documentType types.DocumentType) bool

	// LastIssued returns the highest number issued for the tenant's scope so
	// far, 0 if none. Read-only, lock-free, cached briefly; observability use.
	LastIssued(ctx context.Context, documentType types.DocumentType, year int) (int64, error)
}

type numberingService struct {
	txRunner postgres.TxRunner
	repo     sequence.Repository
	config   *config.Configuration
	logger   *logger.Logger
	cache    *gocache.Cache
}

func NewNumberingService(
	txRunner postgres.TxRunner,
	repo sequence.Repository,
	cfg *config.Configuration,
	logger *logger.Logger,
) NumberingService {
	return &numberingService{
		txRunner: txRunner,
		repo:     repo,
		config:   cfg,
		logger:   logger,
		cache:    gocache.New(lastIssuedCacheTTL, 2*lastIssuedCacheTTL),
	}
}

func (s *numberingService) Allocate(ctx context.Context, documentType types.DocumentType) (string, error) {
	prefix, ok := types.LegalNumberPrefix(documentType)
	if !ok {
		return "", ierr.NewError("document type is not legally numbered").
			WithHintf("Document type %s is outside the regulated set", documentType).
			Mark(ierr.ErrUnsupportedDocumentType)
	}

	tenantID := types.GetTenantID(ctx)
	if tenantID == "" {
		return "", ierr.NewError("tenant id missing from context").
			Mark(ierr.ErrValidation)
	}

	key := sequence.ScopeKey{
		TenantID:     tenantID,
		DocumentType: documentType,
		Year:         time.Now().UTC().Year(),
	}

	allocCtx, cancel := context.WithTimeout(ctx, s.config.Numbering.AllocateTimeout)
	defer cancel()

	var allocated int64
	err := s.txRunner.WithIsolatedTx(allocCtx, func(txCtx context.Context) error {
		counter, err := s.repo.LockAndRead(txCtx, key)
		if err != nil {
			if !ierr.IsNotFound(err) {
				return err
			}
			counter, err = s.repo.CreateIfAbsent(txCtx, key, prefix)
			if err != nil {
				return err
			}
		}

		counter.LastNumber++
		if err := s.repo.Save(txCtx, counter); err != nil {
			return err
		}

		allocated = counter.LastNumber
		return nil
	})
	if err != nil {
		if allocCtx.Err() != nil && !ierr.IsAllocationTimeout(err) && !ierr.IsAllocationConflict(err) {
			return "", ierr.WithError(err).
				WithHint("Allocation deadline exceeded; retry").
				Mark(ierr.ErrAllocationTimeout)
		}
		return "", err
	}

	number := sequence.FormatLegalNumber(prefix, key.Year, allocated)

	s.logger.Debugw("allocated legal number",
		"tenant_id", tenantID,
		"document_type", documentType,
		"year", key.Year,
		"number", number,
	)

	return number, nil
}

func (s *numberingService) RequiresLegalNumber(documentType types.DocumentType) bool {
	return types.RequiresLegalNumber(documentType)
}

func (s *numberingService) LastIssued(ctx context.Context, documentType types.DocumentType, year int) (int64, error) {
	if !types.RequiresLegalNumber(documentType) {
		return 0, ierr.NewError("document type is not legally numbered").
			WithHintf("Document type %s is outside the regulated set", documentType).
			Mark(ierr.ErrUnsupportedDocumentType)
	}

	key := sequence.ScopeKey{
		TenantID:     types.GetTenantID(ctx),
		DocumentType: documentType,
		Year:         year,
	}

	if cached, found := s.cache.Get(key.String()); found {
		return cached.(int64), nil
	}

	lastNumber, err := s.repo.LastIssued(ctx, key)
	if err != nil {
		return 0, err
	}

	s.cache.Set(key.String(), lastNumber, gocache.DefaultExpiration)
	return lastNumber, nil
}

package testutil

import (
	"context"

	"github.com/stayops/stayops/internal/postgres"
)

var _ postgres.TxRunner = (*InMemoryTxRunner)(nil)

// InMemoryTxRunner satisfies postgres.TxRunner without a database. The
// in-memory stores are not transactional, so functions just run directly.
type InMemoryTxRunner struct{}

func NewInMemoryTxRunner() *InMemoryTxRunner {
	return &InMemoryTxRunner{}
}

func (r *InMemoryTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *InMemoryTxRunner) WithIsolatedTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

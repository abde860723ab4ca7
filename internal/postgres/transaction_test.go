package postgres_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/postgres"
	"github.com/stayops/stayops/internal/testutil"
)

func createItemsTable(t *testing.T, db *postgres.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE items (name TEXT PRIMARY KEY)`)
	require.NoError(t, err)
}

func insertItem(ctx context.Context, db *postgres.DB, name string) error {
	_, err := db.GetQuerier(ctx).ExecContext(ctx, `INSERT INTO items (name) VALUES ($1)`, name)
	return err
}

func itemNames(t *testing.T, db *postgres.DB) []string {
	t.Helper()
	var names []string
	require.NoError(t, db.Select(&names, `SELECT name FROM items ORDER BY name`))
	return names
}

func TestWithTxCommit(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	createItemsTable(t, db)
	ctx := context.Background()

	err := db.WithTx(ctx, func(txCtx context.Context) error {
		return insertItem(txCtx, db, "a")
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, itemNames(t, db))
}

func TestWithTxRollbackOnError(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	createItemsTable(t, db)
	ctx := context.Background()

	err := db.WithTx(ctx, func(txCtx context.Context) error {
		if err := insertItem(txCtx, db, "a"); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	require.Empty(t, itemNames(t, db))
}

// A nested WithTx runs in a savepoint: its failure unwinds only its own
// writes, the outer transaction decides the rest.
func TestWithTxNestedSavepoint(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	createItemsTable(t, db)
	ctx := context.Background()

	err := db.WithTx(ctx, func(outerCtx context.Context) error {
		if err := insertItem(outerCtx, db, "outer"); err != nil {
			return err
		}

		nestedErr := db.WithTx(outerCtx, func(innerCtx context.Context) error {
			if err := insertItem(innerCtx, db, "inner"); err != nil {
				return err
			}
			return fmt.Errorf("inner failure")
		})
		require.Error(t, nestedErr)

		// Outer transaction continues past the failed savepoint
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"outer"}, itemNames(t, db))
}

// An isolated transaction commits on its own: the caller's surrounding
// transaction rolling back must not take the isolated write with it. This is
// the property sequential number allocation leans on.
func TestWithIsolatedTxSurvivesCallerRollback(t *testing.T) {
	// Shared-cache memory database so the isolated transaction can open its
	// own connection next to the caller's
	sqlxDB, err := sqlx.Connect("sqlite3", "file:isolated_tx_test?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlxDB.SetMaxOpenConns(2)

	db := postgres.NewWithDB(sqlxDB, logger.L)
	t.Cleanup(db.Close)
	createItemsTable(t, db)
	ctx := context.Background()

	err = db.WithTx(ctx, func(outerCtx context.Context) error {
		if err := db.WithIsolatedTx(outerCtx, func(isoCtx context.Context) error {
			return insertItem(isoCtx, db, "allocated")
		}); err != nil {
			return err
		}
		return fmt.Errorf("caller fails after allocation")
	})
	require.Error(t, err)

	// The caller's rollback happened; the isolated write survived it
	require.Equal(t, []string{"allocated"}, itemNames(t, db))
}

func TestWithIsolatedTxRollsBackOwnError(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	createItemsTable(t, db)
	ctx := context.Background()

	err := db.WithIsolatedTx(ctx, func(txCtx context.Context) error {
		if err := insertItem(txCtx, db, "a"); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	require.Empty(t, itemNames(t, db))
}

// Package migrations carries the schema for the outbox and sequence tables
// and applies it in lexical file order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io"
	"sort"

	"github.com/stayops/stayops/internal/postgres"
)

//go:embed *.sql
var files embed.FS

func orderedNames() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration file in order. Statements are idempotent
// (IF NOT EXISTS) so re-running on boot is safe.
func Apply(ctx context.Context, db *postgres.DB) error {
	names, err := orderedNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		sql, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	return nil
}

// WriteTo prints the migration SQL in apply order without executing it.
func WriteTo(w io.Writer) error {
	names, err := orderedNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		sql, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := fmt.Fprintf(w, "-- %s\n%s\n", name, sql); err != nil {
			return err
		}
	}

	return nil
}

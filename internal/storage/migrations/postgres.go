package migrations

import (
	"context"
	"fmt"

	"curve-tracker/internal/storage/postgres"
)

// RunPostgres applies the embedded postgres schema. Every file is idempotent.
func RunPostgres(ctx context.Context, pool *postgres.Pool) error {
	files, err := load(postgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, m := range files {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
	}
	return nil
}

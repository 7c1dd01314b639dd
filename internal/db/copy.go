package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyRows streams items into table with COPY, converting each one with row.
// The values row returns must line up with columns.
func CopyRows[T any](ctx context.Context, pool Pool, table string, columns []string, items []T, row func(T) []any) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	src := pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
		return row(items[i]), nil
	})
	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy %d rows into %s", len(items), table)
	}
	return n, nil
}

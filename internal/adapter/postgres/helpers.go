package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/SpendPilot/internal/domain"
)

const uniqueViolation = "23505"

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// wrapErr prefixes err with what, turning unique violations into
// domain.ErrConflict so callers need no driver knowledge.
func wrapErr(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// execExpectOne fails with domain.ErrNotFound when the statement touched no row.
func execExpectOne(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return wrapErr(err, what)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

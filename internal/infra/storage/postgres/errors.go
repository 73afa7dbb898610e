package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// mapNotFound translates pgx.ErrNoRows into the domain's not-found sentinel
// so callers never need to import pgx themselves.
func mapNotFound(err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return err
}

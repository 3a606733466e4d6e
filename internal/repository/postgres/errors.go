package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vedran77/pulsecore/internal/repository"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// translate maps constraint violations onto repository errors.
func translate(err error) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		return repository.ErrDuplicate
	case codeForeignKeyViolation:
		return repository.ErrNotFound
	}
	return err
}

// reserveSeq takes the channel row lock for the rest of tx and reserves n
// commit sequence numbers, returning the first one.
func reserveSeq(ctx context.Context, tx pgx.Tx, channelID uuid.UUID, n int) (uint64, error) {
	var last int64
	err := tx.QueryRow(ctx,
		`UPDATE channels SET event_seq = event_seq + $2 WHERE id = $1 RETURNING event_seq`,
		channelID, n,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return uint64(last) - uint64(n) + 1, nil
}

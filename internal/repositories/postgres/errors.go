package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

const uniqueViolation = "23505"

// classify maps driver failures onto repository error kinds. Context errors pass through
// so callers can tell a cancelled request from an outage.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return repositories.NewStoreError(op, repositories.StoreErrorConflict, err)
		case strings.HasPrefix(pgErr.Code, "40"):
			// serialization_failure and deadlock_detected: another writer won.
			return repositories.NewStoreError(op, repositories.StoreErrorConflict, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"), strings.HasPrefix(pgErr.Code, "53"):
			return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, err)
		}
		return repositories.NewStoreError(op, repositories.StoreErrorUnknown, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, err)
	}
	return repositories.NewStoreError(op, repositories.StoreErrorUnknown, err)
}

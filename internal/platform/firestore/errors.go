package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

// kindForCode maps Firestore gRPC status codes onto store error kinds. Aborted and
// FailedPrecondition surface when a transaction loses a contention race.
func kindForCode(code codes.Code) repositories.StoreErrorKind {
	switch code {
	case codes.NotFound:
		return repositories.StoreErrorNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return repositories.StoreErrorConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.StoreErrorUnavailable
	default:
		return repositories.StoreErrorUnknown
	}
}

// NotFound reports a lookup that a query, not a direct document read, came back empty for.
func NotFound(op, message string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorNotFound, errors.New(message))
}

// WrapError converts a Firestore failure into a *repositories.StoreError. Cancellation and
// deadline expiry are returned as the context errors so callers can tell them apart from outages.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return storeErr
	}
	return repositories.NewStoreError(op, kindForCode(code), err)
}

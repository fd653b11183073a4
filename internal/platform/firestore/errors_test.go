package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	tests := map[codes.Code]repositories.StoreErrorKind{
		codes.NotFound:           repositories.StoreErrorNotFound,
		codes.AlreadyExists:      repositories.StoreErrorConflict,
		codes.Aborted:            repositories.StoreErrorConflict,
		codes.FailedPrecondition: repositories.StoreErrorConflict,
		codes.Unavailable:        repositories.StoreErrorUnavailable,
		codes.ResourceExhausted:  repositories.StoreErrorUnavailable,
		codes.InvalidArgument:    repositories.StoreErrorUnknown,
	}
	for code, want := range tests {
		err := WrapError("orders.get", status.Error(code, "boom"))
		var storeErr *repositories.StoreError
		if !errors.As(err, &storeErr) {
			t.Fatalf("%s: expected *StoreError, got %T", code, err)
		}
		if storeErr.Kind != want {
			t.Fatalf("%s: expected kind %s got %s", code, want, storeErr.Kind)
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected RepositoryError contract", code)
		}
	}
}

func TestWrapErrorPassesThroughCancellation(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestWrapErrorKeepsExistingStoreError(t *testing.T) {
	inner := repositories.NewStoreError("", repositories.StoreErrorConflict, errors.New("guard failed"))
	err := WrapError("transaction.update_if", inner)
	if err != error(inner) || inner.Op != "transaction.update_if" {
		t.Fatalf("expected op to be filled on the original error, got %v", err)
	}
}

func TestNotFoundHelper(t *testing.T) {
	err := NotFound("orders.find_by_transaction", "order not found")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err.Error() != "orders.find_by_transaction: order not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want repositories.StoreErrorKind
	}{
		{"no rows", pgx.ErrNoRows, repositories.StoreErrorNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), repositories.StoreErrorNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, repositories.StoreErrorConflict},
		{"serialization", &pgconn.PgError{Code: "40001"}, repositories.StoreErrorConflict},
		{"connection", &pgconn.PgError{Code: "08006"}, repositories.StoreErrorUnavailable},
		{"shutdown", &pgconn.PgError{Code: "57P01"}, repositories.StoreErrorUnavailable},
		{"syntax", &pgconn.PgError{Code: "42601"}, repositories.StoreErrorUnknown},
		{"other", errors.New("boom"), repositories.StoreErrorUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var storeErr *repositories.StoreError
			if !errors.As(classify("op", tc.err), &storeErr) {
				t.Fatalf("expected StoreError")
			}
			if storeErr.Kind != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, storeErr.Kind)
			}
		})
	}
}

func TestClassifyPassesThroughContextErrors(t *testing.T) {
	if err := classify("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if classify("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

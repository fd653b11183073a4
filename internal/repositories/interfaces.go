package repositories

import (
	"context"
	"time"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists print orders. Every mutation is a conditional write so
// concurrent callers racing on the same order produce exactly one winner.
type OrderRepository interface {
	// Create stores a new order and returns its identifier. An existing ID is a conflict.
	Create(ctx context.Context, order domain.Order) (string, error)
	// GetByID loads an order. Missing orders yield a RepositoryError with IsNotFound.
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByTransactionID loads the order bound to a gateway transaction id.
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error)
	// ConditionalUpdateStatus moves the order from expected to next and applies the
	// extra fields. It reports false without error when the current status differs.
	ConditionalUpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, update domain.StatusUpdate) (bool, error)
	// SetOTP stores the pickup code hash and expiry while the order is READY.
	SetOTP(ctx context.Context, orderID string, hash string, expiry time.Time) (bool, error)
	// ClearOTPAndComplete atomically clears the stored hash and marks the order COMPLETED,
	// provided the order is READY and still holds expectedHash.
	ClearOTPAndComplete(ctx context.Context, orderID string, expectedHash string, completedAt time.Time) (bool, error)
	// ListByShop returns the shop queue, newest first.
	ListByShop(ctx context.Context, filter domain.OrderListFilter) (domain.OrderPage, error)
}

// ShopRepository exposes the shop records the workflow reads.
type ShopRepository interface {
	FindShop(ctx context.Context, shopID string) (domain.Shop, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

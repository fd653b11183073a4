// Package memory provides mutex-guarded repositories for tests and single-instance development.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/pagination"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

var (
	_ repositories.OrderRepository = (*Store)(nil)
	_ repositories.ShopRepository  = (*Store)(nil)
	_ repositories.Pinger          = (*Store)(nil)
)

// Store keeps orders and shops in process memory. A single mutex serialises every
// read-check-write, which gives the same conditional semantics as the durable stores.
type Store struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	shops  map[string]domain.Shop
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		orders: make(map[string]domain.Order),
		shops:  make(map[string]domain.Shop),
	}
}

// PutShop inserts or replaces a shop record.
func (s *Store) PutShop(shop domain.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops[shop.ID] = cloneShop(shop)
}

// Ping implements repositories.Pinger.
func (s *Store) Ping(context.Context) error { return nil }

// FindShop implements repositories.ShopRepository.
func (s *Store) FindShop(_ context.Context, shopID string) (domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return domain.Shop{}, repositories.NewStoreError("memory.shops.find", repositories.StoreErrorNotFound, errors.New("shop not found"))
	}
	return cloneShop(shop), nil
}

// Create implements repositories.OrderRepository.
func (s *Store) Create(_ context.Context, order domain.Order) (string, error) {
	if order.ID == "" {
		return "", repositories.NewStoreError("memory.orders.create", repositories.StoreErrorUnknown, errors.New("order id is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return "", repositories.NewStoreError("memory.orders.create", repositories.StoreErrorConflict, errors.New("order already exists"))
	}
	s.orders[order.ID] = cloneOrder(order)
	return order.ID, nil
}

// GetByID implements repositories.OrderRepository.
func (s *Store) GetByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("memory.orders.get")
	}
	return cloneOrder(order), nil
}

// FindByTransactionID implements repositories.OrderRepository.
func (s *Store) FindByTransactionID(_ context.Context, transactionID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.PaymentTransactionID == transactionID {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, notFound("memory.orders.find_by_transaction")
}

// ConditionalUpdateStatus implements repositories.OrderRepository.
func (s *Store) ConditionalUpdateStatus(_ context.Context, orderID string, expected, next domain.OrderStatus, update domain.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, notFound("memory.orders.update_status")
	}
	if order.Status != expected {
		return false, nil
	}
	order.Status = next
	applyUpdate(&order, update)
	s.orders[orderID] = order
	return true, nil
}

// SetOTP implements repositories.OrderRepository.
func (s *Store) SetOTP(_ context.Context, orderID string, hash string, expiry time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, notFound("memory.orders.set_otp")
	}
	if order.Status != domain.OrderStatusReady {
		return false, nil
	}
	exp := expiry.UTC()
	order.PickupCodeHash = hash
	order.PickupCodeExpiry = &exp
	s.orders[orderID] = order
	return true, nil
}

// ClearOTPAndComplete implements repositories.OrderRepository.
func (s *Store) ClearOTPAndComplete(_ context.Context, orderID string, expectedHash string, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, notFound("memory.orders.complete")
	}
	if order.Status != domain.OrderStatusReady || order.PickupCodeHash == "" || order.PickupCodeHash != expectedHash {
		return false, nil
	}
	at := completedAt.UTC()
	order.Status = domain.OrderStatusCompleted
	order.PickupCodeHash = ""
	order.PickupCodeExpiry = nil
	order.CompletedAt = &at
	order.UpdatedAt = at
	s.orders[orderID] = order
	return true, nil
}

// ListByShop implements repositories.OrderRepository.
func (s *Store) ListByShop(_ context.Context, filter domain.OrderListFilter) (domain.OrderPage, error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.OrderPage{}, repositories.NewStoreError("memory.orders.list", repositories.StoreErrorUnknown, err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	s.mu.Lock()
	matches := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.ShopID != filter.ShopID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	s.mu.Unlock()

	slices.SortFunc(matches, compareNewestFirst)
	if !cursor.IsZero() {
		idx := 0
		for idx < len(matches) && !isAfterCursor(matches[idx], cursor) {
			idx++
		}
		matches = matches[idx:]
	}

	page := domain.OrderPage{}
	if len(matches) > size {
		last := matches[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.OrderPage{}, repositories.NewStoreError("memory.orders.list", repositories.StoreErrorUnknown, err)
		}
		page.NextPageToken = token
		matches = matches[:size]
	}
	page.Items = matches
	return page, nil
}

func compareNewestFirst(a, b domain.Order) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

// isAfterCursor reports whether order sorts strictly after the cursor in newest-first order.
func isAfterCursor(order domain.Order, cursor pagination.Cursor) bool {
	if order.CreatedAt.Before(cursor.CreatedAt) {
		return true
	}
	return order.CreatedAt.Equal(cursor.CreatedAt) && order.ID < cursor.ID
}

func applyUpdate(order *domain.Order, update domain.StatusUpdate) {
	if update.PaymentTransactionID != "" {
		order.PaymentTransactionID = update.PaymentTransactionID
	}
	if update.PaidAt != nil {
		order.PaidAt = cloneTime(update.PaidAt)
	}
	if update.CompletedAt != nil {
		order.CompletedAt = cloneTime(update.CompletedAt)
	}
	if update.CancelledAt != nil {
		order.CancelledAt = cloneTime(update.CancelledAt)
	}
	if update.CancelReason != "" {
		order.CancelReason = update.CancelReason
	}
	if update.ClearPickupCode {
		order.PickupCodeHash = ""
		order.PickupCodeExpiry = nil
	}
	if !update.UpdatedAt.IsZero() {
		order.UpdatedAt = update.UpdatedAt.UTC()
	}
}

func notFound(op string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorNotFound, errors.New("order not found"))
}

func cloneOrder(order domain.Order) domain.Order {
	order.PickupCodeExpiry = cloneTime(order.PickupCodeExpiry)
	order.PaidAt = cloneTime(order.PaidAt)
	order.CompletedAt = cloneTime(order.CompletedAt)
	order.CancelledAt = cloneTime(order.CancelledAt)
	return order
}

func cloneShop(shop domain.Shop) domain.Shop {
	if shop.Pricing != nil {
		pricing := *shop.Pricing
		shop.Pricing = &pricing
	}
	shop.OperatorIDs = slices.Clone(shop.OperatorIDs)
	return shop
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

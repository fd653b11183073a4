package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	pfirestore "github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/firestore"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/pagination"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

const ordersCollection = "orders"

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// OrderRepository stores orders in Firestore. Status changes run as transactional
// read-check-writes so concurrent racers on one order produce a single winner.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Create implements repositories.OrderRepository.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (string, error) {
	if strings.TrimSpace(order.ID) == "" {
		return "", errors.New("order id is required")
	}
	if err := r.base.Create(ctx, order.ID, fromDomainOrder(order)); err != nil {
		return "", err
	}
	return order.ID, nil
}

// GetByID implements repositories.OrderRepository.
func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// FindByTransactionID implements repositories.OrderRepository.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	if strings.TrimSpace(transactionID) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_transaction", "transaction id is empty")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentTransactionId", "==", transactionID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_transaction", "order not found")
	}
	return toDomainOrder(docs[0].ID, docs[0].Data), nil
}

// ConditionalUpdateStatus implements repositories.OrderRepository.
func (r *OrderRepository) ConditionalUpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, update domain.StatusUpdate) (bool, error) {
	return r.base.UpdateIf(ctx, orderID, func(current orderDocument) ([]firestore.Update, bool) {
		if current.Status != string(expected) {
			return nil, false
		}
		updates := []firestore.Update{{Path: "status", Value: string(next)}}
		return append(updates, statusUpdates(update)...), true
	})
}

// SetOTP implements repositories.OrderRepository.
func (r *OrderRepository) SetOTP(ctx context.Context, orderID string, hash string, expiry time.Time) (bool, error) {
	return r.base.UpdateIf(ctx, orderID, func(current orderDocument) ([]firestore.Update, bool) {
		if current.Status != string(domain.OrderStatusReady) {
			return nil, false
		}
		return []firestore.Update{
			{Path: "pickupCodeHash", Value: hash},
			{Path: "pickupCodeExpiry", Value: expiry.UTC()},
		}, true
	})
}

// ClearOTPAndComplete implements repositories.OrderRepository.
func (r *OrderRepository) ClearOTPAndComplete(ctx context.Context, orderID string, expectedHash string, completedAt time.Time) (bool, error) {
	at := completedAt.UTC()
	return r.base.UpdateIf(ctx, orderID, func(current orderDocument) ([]firestore.Update, bool) {
		if current.Status != string(domain.OrderStatusReady) || current.PickupCodeHash == "" || current.PickupCodeHash != expectedHash {
			return nil, false
		}
		return []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusCompleted)},
			{Path: "pickupCodeHash", Value: firestore.Delete},
			{Path: "pickupCodeExpiry", Value: firestore.Delete},
			{Path: "completedAt", Value: at},
			{Path: "updatedAt", Value: at},
		}, true
	})
}

// ListByShop implements repositories.OrderRepository. It needs a composite index on
// shopId, status and createdAt descending.
func (r *OrderRepository) ListByShop(ctx context.Context, filter domain.OrderListFilter) (domain.OrderPage, error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.OrderPage{}, repositories.NewStoreError("orders.list", repositories.StoreErrorUnknown, err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("shopId", "==", filter.ShopID)
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, status := range filter.Statuses {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.OrderPage{}, err
	}

	page := domain.OrderPage{Items: make([]domain.Order, 0, len(docs))}
	for _, doc := range docs {
		page.Items = append(page.Items, toDomainOrder(doc.ID, doc.Data))
	}
	if len(page.Items) > size {
		page.Items = page.Items[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.OrderPage{}, repositories.NewStoreError("orders.list", repositories.StoreErrorUnknown, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

type orderDocument struct {
	RequesterID          string     `firestore:"requesterId"`
	ShopID               string     `firestore:"shopId"`
	FileRef              string     `firestore:"fileRef"`
	Instructions         string     `firestore:"instructions,omitempty"`
	PageCount            int        `firestore:"pageCount"`
	CopyCount            int        `firestore:"copyCount"`
	ColorMode            string     `firestore:"colorMode"`
	DuplexMode           string     `firestore:"duplexMode"`
	TotalPaise           int64      `firestore:"totalPaise"`
	Status               string     `firestore:"status"`
	PaymentProvider      string     `firestore:"paymentProvider,omitempty"`
	PaymentTransactionID string     `firestore:"paymentTransactionId,omitempty"`
	PickupCodeHash       string     `firestore:"pickupCodeHash,omitempty"`
	PickupCodeExpiry     *time.Time `firestore:"pickupCodeExpiry,omitempty"`
	CancelReason         string     `firestore:"cancelReason,omitempty"`
	CreatedAt            time.Time  `firestore:"createdAt"`
	UpdatedAt            time.Time  `firestore:"updatedAt"`
	PaidAt               *time.Time `firestore:"paidAt,omitempty"`
	CompletedAt          *time.Time `firestore:"completedAt,omitempty"`
	CancelledAt          *time.Time `firestore:"cancelledAt,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	return orderDocument{
		RequesterID:          order.RequesterID,
		ShopID:               order.ShopID,
		FileRef:              order.FileRef,
		Instructions:         order.Instructions,
		PageCount:            order.Job.PageCount,
		CopyCount:            order.Job.CopyCount,
		ColorMode:            string(order.Job.ColorMode),
		DuplexMode:           string(order.Job.DuplexMode),
		TotalPaise:           order.Total.Paise(),
		Status:               string(order.Status),
		PaymentProvider:      order.PaymentProvider,
		PaymentTransactionID: order.PaymentTransactionID,
		PickupCodeHash:       order.PickupCodeHash,
		PickupCodeExpiry:     utcPtr(order.PickupCodeExpiry),
		CancelReason:         order.CancelReason,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
		PaidAt:               utcPtr(order.PaidAt),
		CompletedAt:          utcPtr(order.CompletedAt),
		CancelledAt:          utcPtr(order.CancelledAt),
	}
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:           id,
		RequesterID:  doc.RequesterID,
		ShopID:       doc.ShopID,
		FileRef:      doc.FileRef,
		Instructions: doc.Instructions,
		Job: domain.JobSpec{
			PageCount:  doc.PageCount,
			CopyCount:  doc.CopyCount,
			ColorMode:  domain.ColorMode(doc.ColorMode),
			DuplexMode: domain.DuplexMode(doc.DuplexMode),
		},
		Total:                domain.Money(doc.TotalPaise),
		Status:               domain.OrderStatus(doc.Status),
		PaymentProvider:      doc.PaymentProvider,
		PaymentTransactionID: doc.PaymentTransactionID,
		PickupCodeHash:       doc.PickupCodeHash,
		PickupCodeExpiry:     utcPtr(doc.PickupCodeExpiry),
		CancelReason:         doc.CancelReason,
		CreatedAt:            doc.CreatedAt.UTC(),
		UpdatedAt:            doc.UpdatedAt.UTC(),
		PaidAt:               utcPtr(doc.PaidAt),
		CompletedAt:          utcPtr(doc.CompletedAt),
		CancelledAt:          utcPtr(doc.CancelledAt),
	}
}

func statusUpdates(update domain.StatusUpdate) []firestore.Update {
	var updates []firestore.Update
	if update.PaymentTransactionID != "" {
		updates = append(updates, firestore.Update{Path: "paymentTransactionId", Value: update.PaymentTransactionID})
	}
	if update.PaidAt != nil {
		updates = append(updates, firestore.Update{Path: "paidAt", Value: update.PaidAt.UTC()})
	}
	if update.CompletedAt != nil {
		updates = append(updates, firestore.Update{Path: "completedAt", Value: update.CompletedAt.UTC()})
	}
	if update.CancelledAt != nil {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: update.CancelledAt.UTC()})
	}
	if update.CancelReason != "" {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: update.CancelReason})
	}
	if update.ClearPickupCode {
		updates = append(updates,
			firestore.Update{Path: "pickupCodeHash", Value: firestore.Delete},
			firestore.Update{Path: "pickupCodeExpiry", Value: firestore.Delete},
		)
	}
	if !update.UpdatedAt.IsZero() {
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: update.UpdatedAt.UTC()})
	}
	return updates
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

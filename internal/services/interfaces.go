package services

import (
	"context"
	"time"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderStatus   = domain.OrderStatus
	OrderPage     = domain.OrderPage
	JobSpec       = domain.JobSpec
	PricingConfig = domain.PricingConfig
	Shop          = domain.Shop
	Money         = domain.Money
)

// ActorRole identifies the capacity in which a caller acts.
type ActorRole string

const (
	ActorRequester ActorRole = "requester"
	ActorShop      ActorRole = "shop"
	ActorAdmin     ActorRole = "admin"
)

// Actor is the authenticated caller of an order action.
type Actor struct {
	ID   string
	Role ActorRole
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool { return a.Role == ActorAdmin }

// OrderService exposes the print order workflow.
type OrderService interface {
	SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (Order, error)
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error)
	ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (ReconcileResult, error)
	HandleGatewayCallback(ctx context.Context, cmd GatewayCallbackCommand) (ReconcileResult, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListShopOrders(ctx context.Context, cmd ListShopOrdersCommand) (OrderPage, error)
	AdvanceOrder(ctx context.Context, cmd AdvanceOrderCommand) (TransitionResult, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	VerifyPickup(ctx context.Context, cmd VerifyPickupCommand) (Order, error)
	ResendPickupCode(ctx context.Context, orderID string, actor Actor) (TransitionResult, error)
	DocumentURL(ctx context.Context, orderID string, actor Actor) (DocumentLink, error)
}

// PaymentGateway initiates and queries payments; *payments.Manager satisfies it.
type PaymentGateway interface {
	Resolve(provider string) (string, error)
	Initiate(ctx context.Context, provider string, req payments.PaymentRequest) (payments.Initiation, error)
	CheckStatus(ctx context.Context, provider string, transactionID string) (payments.PaymentOutcome, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	ShopID         string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// NotificationDispatcher delivers a message to a requester. Delivery is best effort.
type NotificationDispatcher interface {
	Send(ctx context.Context, notification Notification) error
}

// AttemptLimiter bounds how often a key may be attempted within a window.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// DocumentSigner issues short-lived download URLs for stored print files.
type DocumentSigner interface {
	SignedDownloadURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// SubmitOrderCommand carries the requester's print job.
type SubmitOrderCommand struct {
	Actor        Actor
	ShopID       string
	FileRef      string
	Instructions string
	Job          JobSpec
	// PaymentProvider names the gateway; empty selects the default.
	PaymentProvider string
}

// InitiatePaymentCommand requests a hosted payment page for an order.
type InitiatePaymentCommand struct {
	OrderID string
	Actor   Actor
}

// PaymentInitiation is returned to the requester after the gateway accepted the request.
type PaymentInitiation struct {
	OrderID       string
	Provider      string
	TransactionID string
	RedirectURL   string
}

// ReconcilePaymentCommand carries the ids returned by the gateway redirect.
type ReconcilePaymentCommand struct {
	OrderID       string
	TransactionID string
}

// GatewayCallbackCommand carries a raw server-to-server webhook.
type GatewayCallbackCommand struct {
	Provider  string
	Body      []byte
	Signature string
}

// ReconcileResult reports whether the order is paid; Paid false means NotPaid.
type ReconcileResult struct {
	Order          Order
	Paid           bool
	AlreadyApplied bool
	Outcome        payments.OutcomeKind
}

// ListShopOrdersCommand describes one page of a shop queue.
type ListShopOrdersCommand struct {
	ShopID    string
	Statuses  []OrderStatus
	PageSize  int
	PageToken string
	Actor     Actor
}

// AdvanceOrderCommand moves an order forward on behalf of the shop.
type AdvanceOrderCommand struct {
	OrderID string
	Target  OrderStatus
	Actor   Actor
}

// TransitionResult reports the order after a shop transition. NotificationDelivered is
// false when a pickup code was issued but the dispatch failed.
type TransitionResult struct {
	Order                 Order
	SkippedAhead          bool
	PickupCodeIssued      bool
	NotificationDelivered bool
}

// CancelOrderCommand cancels an order that has not completed.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   Actor
}

// VerifyPickupCommand carries the code presented at the counter.
type VerifyPickupCommand struct {
	OrderID string
	Code    string
	Actor   Actor
}

// DocumentLink is a signed URL for the order's print file.
type DocumentLink struct {
	URL       string
	ExpiresAt time.Time
}

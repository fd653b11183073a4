package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// OrderStatus enumerates the lifecycle states of a print order.
type OrderStatus string

const (
	// OrderStatusCreated indicates the order was submitted and priced but payment is not confirmed.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusPaid indicates the gateway confirmed payment during reconciliation.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusPrinting indicates the shop operator started the job.
	OrderStatusPrinting OrderStatus = "PRINTING"
	// OrderStatusReady indicates the job is printed and a pickup code is active.
	OrderStatusReady OrderStatus = "READY"
	// OrderStatusCompleted indicates the requester collected the job.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was abandoned before completion.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaid, OrderStatusPrinting, OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// ColorMode selects between monochrome and colour printing.
type ColorMode string

const (
	ColorModeMono  ColorMode = "MONO"
	ColorModeColor ColorMode = "COLOR"
)

// DuplexMode selects single or double sided printing.
type DuplexMode string

const (
	DuplexModeSingle DuplexMode = "SINGLE"
	DuplexModeDouble DuplexMode = "DOUBLE"
)

// JobSpec is the print configuration used for pricing.
type JobSpec struct {
	PageCount  int
	CopyCount  int
	ColorMode  ColorMode
	DuplexMode DuplexMode
}

// BasisPointsOne represents a modifier of exactly 1.0.
const BasisPointsOne int64 = 10000

// PricingConfig is the per-shop price list. Prices are paise per page and the duplex
// modifier is expressed in basis points (10000 = 1.0).
type PricingConfig struct {
	BWPricePerPage    Money
	ColorPricePerPage Money
	DuplexModifierBps int64
}

// Shop captures the shop record the workflow reads.
type Shop struct {
	ID          string
	Name        string
	Pricing     *PricingConfig
	OperatorIDs []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasOperator reports whether uid may act on behalf of the shop.
func (s Shop) HasOperator(uid string) bool {
	for _, id := range s.OperatorIDs {
		if id == uid {
			return true
		}
	}
	return false
}

// Order represents one print job.
type Order struct {
	ID          string
	RequesterID string
	ShopID      string

	FileRef      string
	Instructions string
	Job          JobSpec
	Total        Money
	Status       OrderStatus

	PaymentProvider      string
	PaymentTransactionID string

	PickupCodeHash   string
	PickupCodeExpiry *time.Time

	CancelReason string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// HasPickupCode reports whether an OTP hash is currently stored on the order.
func (o Order) HasPickupCode() bool {
	return o.PickupCodeHash != "" && o.PickupCodeExpiry != nil
}

// StatusUpdate carries the fields written alongside a conditional status change.
type StatusUpdate struct {
	PaymentTransactionID string
	PaidAt               *time.Time
	CompletedAt          *time.Time
	CancelledAt          *time.Time
	CancelReason         string
	ClearPickupCode      bool
	UpdatedAt            time.Time
}

// OrderListFilter narrows the shop queue listing.
type OrderListFilter struct {
	ShopID     string
	Statuses   []OrderStatus
	Pagination Pagination
}

// OrderPage is one page of orders with the token for the next page.
type OrderPage struct {
	Items         []Order
	NextPageToken string
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/auth"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/requestctx"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

type orderPayload struct {
	ID                   string     `json:"id"`
	ShopID               string     `json:"shopId"`
	RequesterID          string     `json:"requesterId"`
	Status               string     `json:"status"`
	FileRef              string     `json:"fileRef,omitempty"`
	Instructions         string     `json:"instructions,omitempty"`
	Job                  jobPayload `json:"job"`
	TotalPaise           int64      `json:"totalPaise"`
	Total                string     `json:"total"`
	PaymentProvider      string     `json:"paymentProvider,omitempty"`
	PaymentTransactionID string     `json:"paymentTransactionId,omitempty"`
	PickupCodeActive     bool       `json:"pickupCodeActive"`
	PickupCodeExpiresAt  *time.Time `json:"pickupCodeExpiresAt,omitempty"`
	CancelReason         string     `json:"cancelReason,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	PaidAt               *time.Time `json:"paidAt,omitempty"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	CancelledAt          *time.Time `json:"cancelledAt,omitempty"`
}

type jobPayload struct {
	PageCount  int    `json:"pageCount"`
	CopyCount  int    `json:"copyCount"`
	ColorMode  string `json:"colorMode"`
	DuplexMode string `json:"duplexMode"`
}

// buildOrderPayload never exposes the pickup code hash.
func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                   order.ID,
		ShopID:               order.ShopID,
		RequesterID:          order.RequesterID,
		Status:               string(order.Status),
		FileRef:              order.FileRef,
		Instructions:         order.Instructions,
		Job:                  buildJobPayload(order.Job),
		TotalPaise:           order.Total.Paise(),
		Total:                order.Total.String(),
		PaymentProvider:      order.PaymentProvider,
		PaymentTransactionID: order.PaymentTransactionID,
		PickupCodeActive:     order.HasPickupCode(),
		CancelReason:         order.CancelReason,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
		PaidAt:               utcPointer(order.PaidAt),
		CompletedAt:          utcPointer(order.CompletedAt),
		CancelledAt:          utcPointer(order.CancelledAt),
	}
	if order.HasPickupCode() {
		payload.PickupCodeExpiresAt = utcPointer(order.PickupCodeExpiry)
	}
	return payload
}

func buildJobPayload(job domain.JobSpec) jobPayload {
	return jobPayload{
		PageCount:  job.PageCount,
		CopyCount:  job.CopyCount,
		ColorMode:  string(job.ColorMode),
		DuplexMode: string(job.DuplexMode),
	}
}

func utcPointer(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// actorFromRequest converts the authenticated identity into the workflow actor.
func actorFromRequest(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return services.Actor{
		ID:   strings.TrimSpace(identity.UID),
		Role: services.ActorRole(identity.PrimaryRole()),
	}, true
}

// scopeOrder tags the request context with the routed order id. It must be attached with
// r.With so that chi has resolved the URL parameters before it runs.
func scopeOrder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
		if orderID == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithOrderID(r.Context(), orderID)))
	})
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		var httpErr httpx.Error
		if !errors.As(err, &httpErr) {
			httpErr = httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest)
		}
		httpx.WriteError(ctx, w, httpErr)
		return false
	}
	return true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

// writeOrderError maps workflow errors onto HTTP statuses.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOTPExpired):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_code_expired", "pickup code has expired", http.StatusGone))
	case errors.Is(err, services.ErrOTPInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_code_invalid", "pickup code does not match", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOTPNotIssued):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_code_not_issued", "no active pickup code for this order", http.StatusConflict))
	case errors.Is(err, services.ErrOTPTooManyAttempts):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_code_locked", "too many pickup code attempts", http.StatusTooManyRequests))
	case errors.Is(err, services.ErrStateConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrGatewayRejected):
		httpx.WriteError(ctx, w, httpx.NewError("payment_rejected", "payment gateway rejected the request", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

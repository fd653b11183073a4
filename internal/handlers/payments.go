package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/requestctx"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

const (
	maxWebhookBodySize = 64 * 1024
	signatureHeader    = "X-VERIFY"
)

// PaymentHandlers serves the gateway's browser redirect and server-to-server webhook.
type PaymentHandlers struct {
	orders    services.OrderService
	returnURL string
	guard     func(http.Handler) http.Handler
}

// PaymentHandlerOption customises PaymentHandlers.
type PaymentHandlerOption func(*PaymentHandlers)

// WithPaymentThrottle applies a client throttle to both unauthenticated endpoints.
func WithPaymentThrottle(mw func(http.Handler) http.Handler) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.guard = mw
	}
}

// NewPaymentHandlers constructs the handlers. returnURL is the frontend page the
// browser lands on after reconciliation.
func NewPaymentHandlers(orders services.OrderService, returnURL string, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{
		orders:    orders,
		returnURL: strings.TrimSpace(returnURL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /payments; the gateway redirects the browser here with GET or POST.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if h.guard != nil {
		r.Use(h.guard)
	}
	r.Get("/callback", h.callback)
	r.Post("/callback", h.callback)
}

// WebhookRoutes registers /webhooks.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if h.guard != nil {
		r.Use(h.guard)
	}
	r.Post("/payments/{provider}", h.webhook)
}

func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
	txnID := strings.TrimSpace(r.URL.Query().Get("txnId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	outcome := "pending"
	result, err := h.orders.ReconcilePayment(ctx, services.ReconcilePaymentCommand{OrderID: orderID, TransactionID: txnID})
	switch {
	case err != nil:
		requestctx.Logger(ctx).Warn("payment reconcile failed", zap.String("orderId", orderID), zap.Error(err))
		outcome = "error"
	case result.Paid:
		outcome = "paid"
	case result.Outcome != "":
		outcome = string(result.Outcome)
	}

	if h.returnURL == "" {
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "outcome": outcome})
		return
	}
	http.Redirect(w, r, h.redirectTarget(orderID, outcome), http.StatusSeeOther)
}

func (h *PaymentHandlers) redirectTarget(orderID, outcome string) string {
	target, err := url.Parse(h.returnURL)
	if err != nil {
		return h.returnURL
	}
	query := target.Query()
	query.Set("orderId", orderID)
	query.Set("payment", outcome)
	target.RawQuery = query.Encode()
	return target.String()
}

func (h *PaymentHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	result, err := h.orders.HandleGatewayCallback(ctx, services.GatewayCallbackCommand{
		Provider:  chi.URLParam(r, "provider"),
		Body:      body,
		Signature: strings.TrimSpace(r.Header.Get(signatureHeader)),
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_callback", "callback could not be verified", http.StatusBadRequest))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"orderId": result.Order.ID,
		"paid":    result.Paid,
	})
}

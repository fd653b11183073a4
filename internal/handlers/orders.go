package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/auth"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

type submitOrderRequest struct {
	ShopID          string `json:"shopId"`
	FileRef         string `json:"fileRef"`
	Instructions    string `json:"instructions"`
	PageCount       int    `json:"pageCount"`
	CopyCount       int    `json:"copyCount"`
	ColorMode       string `json:"colorMode"`
	DuplexMode      string `json:"duplexMode"`
	PaymentProvider string `json:"paymentProvider"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type paymentInitiationResponse struct {
	OrderID       string `json:"orderId"`
	Provider      string `json:"provider"`
	TransactionID string `json:"transactionId"`
	RedirectURL   string `json:"redirectUrl"`
}

type documentResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OrderHandlers exposes the requester order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises the order handler groups.
type OrderHandlerOption func(*orderHandlerOptions)

// WithIdempotency guards order submission and payment initiation.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(o *orderHandlerOptions) {
		o.idempotency = mw
	}
}

// WithPickupThrottle applies a client throttle to pickup verification.
func WithPickupThrottle(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(o *orderHandlerOptions) {
		o.pickupGuard = mw
	}
}

type orderHandlerOptions struct {
	idempotency func(http.Handler) http.Handler
	pickupGuard func(http.Handler) http.Handler
}

func collectOrderOptions(opts []OrderHandlerOption) orderHandlerOptions {
	var o orderHandlerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func guarded(mw func(http.Handler) http.Handler, fn http.HandlerFunc) http.Handler {
	if mw == nil {
		return fn
	}
	return mw(fn)
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	o := collectOrderOptions(opts)
	return &OrderHandlers{
		authn:       authn,
		orders:      orders,
		idempotency: o.idempotency,
	}
}

// Routes registers the requester /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleRequester))
	}
	r.Method(http.MethodPost, "/", guarded(h.idempotency, h.submitOrder))

	order := r.With(scopeOrder)
	order.Get("/{orderID}", h.getOrder)
	order.Method(http.MethodPost, "/{orderID}:pay", guarded(h.idempotency, h.initiatePayment))
	order.Post("/{orderID}:cancel", h.cancelOrder)
	order.Get("/{orderID}/document", h.documentURL)
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}
	var req submitOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.SubmitOrder(ctx, services.SubmitOrderCommand{
		Actor:        actor,
		ShopID:       req.ShopID,
		FileRef:      req.FileRef,
		Instructions: req.Instructions,
		Job: domain.JobSpec{
			PageCount:  req.PageCount,
			CopyCount:  req.CopyCount,
			ColorMode:  domain.ColorMode(req.ColorMode),
			DuplexMode: domain.DuplexMode(req.DuplexMode),
		},
		PaymentProvider: req.PaymentProvider,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", strings.TrimRight(r.URL.Path, "/")+"/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.orders.InitiatePayment(ctx, services.InitiatePaymentCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentInitiationResponse{
		OrderID:       result.OrderID,
		Provider:      result.Provider,
		TransactionID: result.TransactionID,
		RedirectURL:   result.RedirectURL,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) documentURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	link, err := h.orders.DocumentURL(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, documentResponse{URL: link.URL, ExpiresAt: link.ExpiresAt.UTC()})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if r.ContentLength != 0 && !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  req.Reason,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

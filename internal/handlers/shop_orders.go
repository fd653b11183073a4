package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/auth"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/pagination"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

type advanceOrderRequest struct {
	Target string `json:"target"`
}

type verifyPickupRequest struct {
	Code string `json:"code"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type transitionResponse struct {
	Order                 orderPayload `json:"order"`
	SkippedAhead          bool         `json:"skippedAhead,omitempty"`
	PickupCodeIssued      bool         `json:"pickupCodeIssued"`
	NotificationDelivered bool         `json:"notificationDelivered"`
}

// ShopOrderHandlers exposes the shop operator queue and counter endpoints.
type ShopOrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	shared      *OrderHandlers
	pickupGuard func(http.Handler) http.Handler
}

// NewShopOrderHandlers constructs the /shop/orders handlers.
func NewShopOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *ShopOrderHandlers {
	o := collectOrderOptions(opts)
	return &ShopOrderHandlers{
		authn:       authn,
		orders:      orders,
		shared:      &OrderHandlers{orders: orders},
		pickupGuard: o.pickupGuard,
	}
}

// Routes registers the /shop/orders endpoints.
func (h *ShopOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleShop, auth.RoleAdmin))
	}
	r.Get("/", h.listOrders)

	order := r.With(scopeOrder)
	order.Get("/{orderID}", h.shared.getOrder)
	order.Post("/{orderID}:advance", h.advanceOrder)
	order.Post("/{orderID}:cancel", h.shared.cancelOrder)
	order.Method(http.MethodPost, "/{orderID}:verify-pickup", guarded(h.pickupGuard, h.verifyPickup))
	order.Post("/{orderID}:resend-code", h.resendPickupCode)
	order.Get("/{orderID}/document", h.shared.documentURL)
}

func (h *ShopOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w)
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}
	query := r.URL.Query()

	// Operators see their own shop; admins name one explicitly.
	shopID := strings.TrimSpace(query.Get("shop_id"))
	if identity, ok := auth.IdentityFromContext(ctx); ok && !actor.IsAdmin() {
		shopID = strings.TrimSpace(identity.ShopID)
	}
	if shopID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shop_id is required", http.StatusBadRequest))
		return
	}

	pageSize, err := pagination.ParsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListShopOrders(ctx, services.ListShopOrdersCommand{
		ShopID:    shopID,
		Statuses:  parseStatusFilters(query["status"]),
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
		Actor:     actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *ShopOrderHandlers) advanceOrder(w http.ResponseWriter, r *http.Request) {
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
	var req advanceOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	result, err := h.orders.AdvanceOrder(ctx, services.AdvanceOrderCommand{
		OrderID: orderID,
		Target:  services.OrderStatus(req.Target),
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildTransitionResponse(result))
}

func (h *ShopOrderHandlers) verifyPickup(w http.ResponseWriter, r *http.Request) {
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
	var req verifyPickupRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	order, err := h.orders.VerifyPickup(ctx, services.VerifyPickupCommand{
		OrderID: orderID,
		Code:    req.Code,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *ShopOrderHandlers) resendPickupCode(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.orders.ResendPickupCode(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildTransitionResponse(result))
}

func buildTransitionResponse(result services.TransitionResult) transitionResponse {
	return transitionResponse{
		Order:                 buildOrderPayload(result.Order),
		SkippedAhead:          result.SkippedAhead,
		PickupCodeIssued:      result.PickupCodeIssued,
		NotificationDelivered: result.NotificationDelivered,
	}
}

// parseStatusFilters accepts repeated and comma separated status values.
func parseStatusFilters(values []string) []services.OrderStatus {
	var out []services.OrderStatus
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, services.OrderStatus(strings.ToUpper(part)))
			}
		}
	}
	return out
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/auth"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

type stubOrderService struct {
	submitFn    func(context.Context, services.SubmitOrderCommand) (services.Order, error)
	initiateFn  func(context.Context, services.InitiatePaymentCommand) (services.PaymentInitiation, error)
	reconcileFn func(context.Context, services.ReconcilePaymentCommand) (services.ReconcileResult, error)
	callbackFn  func(context.Context, services.GatewayCallbackCommand) (services.ReconcileResult, error)
	getFn       func(context.Context, string, services.Actor) (services.Order, error)
	listFn      func(context.Context, services.ListShopOrdersCommand) (services.OrderPage, error)
	advanceFn   func(context.Context, services.AdvanceOrderCommand) (services.TransitionResult, error)
	cancelFn    func(context.Context, services.CancelOrderCommand) (services.Order, error)
	verifyFn    func(context.Context, services.VerifyPickupCommand) (services.Order, error)
	resendFn    func(context.Context, string, services.Actor) (services.TransitionResult, error)
	documentFn  func(context.Context, string, services.Actor) (services.DocumentLink, error)
}

var errNotStubbed = errors.New("not implemented")

func (s *stubOrderService) SubmitOrder(ctx context.Context, cmd services.SubmitOrderCommand) (services.Order, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) InitiatePayment(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, cmd)
	}
	return services.PaymentInitiation{}, errNotStubbed
}

func (s *stubOrderService) ReconcilePayment(ctx context.Context, cmd services.ReconcilePaymentCommand) (services.ReconcileResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, cmd)
	}
	return services.ReconcileResult{}, errNotStubbed
}

func (s *stubOrderService) HandleGatewayCallback(ctx context.Context, cmd services.GatewayCallbackCommand) (services.ReconcileResult, error) {
	if s.callbackFn != nil {
		return s.callbackFn(ctx, cmd)
	}
	return services.ReconcileResult{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListShopOrders(ctx context.Context, cmd services.ListShopOrdersCommand) (services.OrderPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, cmd)
	}
	return services.OrderPage{}, nil
}

func (s *stubOrderService) AdvanceOrder(ctx context.Context, cmd services.AdvanceOrderCommand) (services.TransitionResult, error) {
	if s.advanceFn != nil {
		return s.advanceFn(ctx, cmd)
	}
	return services.TransitionResult{}, errNotStubbed
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) VerifyPickup(ctx context.Context, cmd services.VerifyPickupCommand) (services.Order, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ResendPickupCode(ctx context.Context, orderID string, actor services.Actor) (services.TransitionResult, error) {
	if s.resendFn != nil {
		return s.resendFn(ctx, orderID, actor)
	}
	return services.TransitionResult{}, errNotStubbed
}

func (s *stubOrderService) DocumentURL(ctx context.Context, orderID string, actor services.Actor) (services.DocumentLink, error) {
	if s.documentFn != nil {
		return s.documentFn(ctx, orderID, actor)
	}
	return services.DocumentLink{}, errNotStubbed
}

// tokenVerifier maps fixed bearer tokens onto test identities.
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	switch token {
	case "requester":
		return &firebaseauth.Token{UID: "user_1", Claims: map[string]any{"role": "requester"}}, nil
	case "operator":
		return &firebaseauth.Token{UID: "op_1", Claims: map[string]any{"role": "shop", "shop": "shop_1"}}, nil
	case "admin":
		return &firebaseauth.Token{UID: "admin_1", Claims: map[string]any{"role": "admin"}}, nil
	}
	return nil, errors.New("invalid token")
}

func newTestRouter(svc services.OrderService, opts ...Option) chi.Router {
	authn := auth.NewAuthenticator(tokenVerifier{})
	payments := NewPaymentHandlers(svc, "https://app.example.com/orders/return")
	opts = append([]Option{
		WithOrderRoutes(NewOrderHandlers(authn, svc).Routes),
		WithShopRoutes(NewShopOrderHandlers(authn, svc).Routes),
		WithPaymentRoutes(payments.Routes),
		WithWebhookRoutes(payments.WebhookRoutes),
	}, opts...)
	return NewRouter(opts...)
}

func doRequest(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

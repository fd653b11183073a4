package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/payments"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

func TestPaymentCallbackRedirectsToFrontend(t *testing.T) {
	svc := &stubOrderService{
		reconcileFn: func(_ context.Context, cmd services.ReconcilePaymentCommand) (services.ReconcileResult, error) {
			if cmd.OrderID != "ord_1" || cmd.TransactionID != "TXN1" {
				t.Errorf("unexpected command %#v", cmd)
			}
			return services.ReconcileResult{Order: sampleOrder(domain.OrderStatusPaid), Paid: true, Outcome: payments.OutcomePaid}, nil
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodGet, "/api/v1/payments/callback?orderId=ord_1&txnId=TXN1", "", "")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Host != "app.example.com" || loc.Query().Get("payment") != "paid" || loc.Query().Get("orderId") != "ord_1" {
		t.Fatalf("unexpected redirect %s", loc)
	}
}

func TestPaymentCallbackErrorStillRedirects(t *testing.T) {
	svc := &stubOrderService{
		reconcileFn: func(context.Context, services.ReconcilePaymentCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrGateway
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodGet, "/api/v1/payments/callback?orderId=ord_1", "", "")
	if rr.Code != http.StatusSeeOther || !strings.Contains(rr.Header().Get("Location"), "payment=error") {
		t.Fatalf("expected error redirect, got %d %s", rr.Code, rr.Header().Get("Location"))
	}
}

func TestWebhookPassesSignature(t *testing.T) {
	var received services.GatewayCallbackCommand
	svc := &stubOrderService{
		callbackFn: func(_ context.Context, cmd services.GatewayCallbackCommand) (services.ReconcileResult, error) {
			received = cmd
			return services.ReconcileResult{Order: sampleOrder(domain.OrderStatusPaid), Paid: true}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/phonepe", strings.NewReader(`{"response":"eyJ9"}`))
	req.Header.Set("X-VERIFY", "abc###1")
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if received.Provider != "phonepe" || received.Signature != "abc###1" || string(received.Body) != `{"response":"eyJ9"}` {
		t.Fatalf("unexpected command %#v", received)
	}
}

func TestWebhookRejectsUnverifiedCallback(t *testing.T) {
	svc := &stubOrderService{
		callbackFn: func(context.Context, services.GatewayCallbackCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrValidation
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodPost, "/api/v1/webhooks/payments/phonepe", "", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

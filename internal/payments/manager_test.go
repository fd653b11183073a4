package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp     string
	initiation Initiation
	outcome    PaymentOutcome
	err        error
}

func (f *fakeProvider) Initiate(ctx context.Context, req PaymentRequest) (Initiation, error) {
	f.lastOp = "initiate"
	return f.initiation, f.err
}

func (f *fakeProvider) CheckStatus(ctx context.Context, transactionID string) (PaymentOutcome, error) {
	f.lastOp = "status"
	return f.outcome, f.err
}

func TestManagerInitiateUsesNamedProvider(t *testing.T) {
	ctx := context.Background()
	primary := &fakeProvider{initiation: Initiation{RedirectURL: "https://pay.example/primary"}}
	other := &fakeProvider{initiation: Initiation{RedirectURL: "https://pay.example/other"}}

	mgr, err := NewManager(map[string]Provider{
		ProviderPhonePe: primary,
		"other":         other,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.Initiate(ctx, " Other ", PaymentRequest{TransactionID: "ord01"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.Provider != "other" {
		t.Fatalf("expected provider 'other', got %q", result.Provider)
	}
	if result.TransactionID != "ord01" {
		t.Fatalf("expected transaction id to default from request, got %q", result.TransactionID)
	}
	if other.lastOp != "initiate" {
		t.Fatalf("expected other provider to handle call")
	}
	if primary.lastOp != "" {
		t.Fatalf("expected default provider to remain unused")
	}
}

func TestManagerDefaultsToPhonePe(t *testing.T) {
	primary := &fakeProvider{outcome: PaymentOutcome{Kind: OutcomePaid}}
	mgr, err := NewManager(map[string]Provider{
		ProviderPhonePe: primary,
		"other":         &fakeProvider{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	outcome, err := mgr.CheckStatus(context.Background(), "", "ord01")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if !outcome.Paid() || primary.lastOp != "status" {
		t.Fatalf("expected phonepe to answer status, got %#v", outcome)
	}
}

func TestManagerUnknownProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderPhonePe: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Initiate(context.Background(), "cash", PaymentRequest{}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNewManagerRejectsMissingDefault(t *testing.T) {
	_, err := NewManager(map[string]Provider{"other": &fakeProvider{}}, WithDefaultProvider("missing"))
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestManagerPropagatesProviderError(t *testing.T) {
	gwErr := &GatewayError{Provider: ProviderPhonePe, Op: "initiate", StatusCode: 503, Temporary: true}
	mgr, err := NewManager(map[string]Provider{ProviderPhonePe: &fakeProvider{err: gwErr}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.Initiate(context.Background(), "", PaymentRequest{})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("temporary error must not match ErrGatewayRejected")
	}
}

func TestGatewayErrorPermanentMatchesRejected(t *testing.T) {
	err := error(&GatewayError{Provider: ProviderPhonePe, Op: "status", StatusCode: 401, Code: "UNAUTHORIZED"})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.StatusCode != 401 {
		t.Fatalf("expected GatewayError with status 401, got %#v", gwErr)
	}
}

func TestTransactionIDStripsSeparators(t *testing.T) {
	if got := TransactionID("ord_01J-ABC"); got != "ord01JABC" {
		t.Fatalf("expected ord01JABC, got %q", got)
	}
}

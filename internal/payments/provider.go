package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/textutil"
)

var (
	// ErrUnknownProvider is returned when the manager cannot locate a provider.
	ErrUnknownProvider = errors.New("payments: unknown provider")
	// ErrGatewayUnavailable matches transient gateway failures (network, timeout, 5xx).
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayRejected matches permanent rejections (4xx, signature or contract failures).
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
	// ErrInvalidCallback is returned when a webhook fails checksum verification or decoding.
	ErrInvalidCallback = errors.New("payments: invalid callback")
)

// OutcomeKind is the normalised result of a payment status check.
type OutcomeKind string

const (
	// OutcomePaid means the gateway reported the payment as successful.
	OutcomePaid OutcomeKind = "paid"
	// OutcomePending means the payment may still complete.
	OutcomePending OutcomeKind = "pending"
	// OutcomeFailed means the gateway reported a terminal failure for this attempt.
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeUnknown means the response could not be interpreted.
	OutcomeUnknown OutcomeKind = "unknown"
)

// PaymentOutcome is the single internal representation of a gateway verdict.
type PaymentOutcome struct {
	Kind      OutcomeKind
	Code      string
	Reference string
	// Amount is the amount in paise reported by the gateway, when AmountKnown is set.
	Amount      int64
	AmountKnown bool
}

// Paid reports whether the outcome proves payment.
func (o PaymentOutcome) Paid() bool { return o.Kind == OutcomePaid }

// PaymentRequest describes an initiation for a single order.
type PaymentRequest struct {
	OrderID       string
	TransactionID string
	RequesterID   string
	Amount        int64
	RedirectURL   string
	CallbackURL   string
}

// Initiation is returned when the gateway accepted a payment request.
type Initiation struct {
	Provider      string
	TransactionID string
	RedirectURL   string
}

// Provider defines the contract gateway adapters implement.
type Provider interface {
	Initiate(ctx context.Context, req PaymentRequest) (Initiation, error)
	CheckStatus(ctx context.Context, transactionID string) (PaymentOutcome, error)
}

// WebhookVerifier authenticates server-to-server callbacks and extracts the transaction id.
type WebhookVerifier interface {
	VerifyWebhook(body []byte, signature string) (string, error)
}

// GatewayError describes a failed gateway exchange. It matches ErrGatewayUnavailable
// when Temporary is set and ErrGatewayRejected otherwise.
type GatewayError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       string
	Temporary  bool
	Err        error
}

// Error implements the error interface. Gateway payloads are never included.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": code %s", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying transport error, if any.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is maps the error onto the transient/permanent sentinels.
func (e *GatewayError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrGatewayUnavailable:
		return e.Temporary
	case ErrGatewayRejected:
		return !e.Temporary
	}
	return false
}

// TransactionID derives the gateway-facing transaction id from an order id.
func TransactionID(orderID string) string {
	return textutil.AlphaNumeric(orderID)
}

// Manager coordinates provider selection.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when callers do not name one.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseProvider(provider)
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normaliseProvider(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap[ProviderPhonePe]; ok {
		m.defaultProvider = ProviderPhonePe
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaultProvider != "" {
		if _, ok := m.providers[m.defaultProvider]; !ok {
			return nil, fmt.Errorf("%w: default %q not registered", ErrUnknownProvider, m.defaultProvider)
		}
	}
	return m, nil
}

// Resolve returns the canonical provider name for the requested key, falling back to the default.
func (m *Manager) Resolve(name string) (string, error) {
	_, key, err := m.resolve(name)
	return key, err
}

func (m *Manager) resolve(name string) (Provider, string, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, "", errors.New("payments: manager not configured")
	}
	key := normaliseProvider(name)
	if key == "" {
		key = m.defaultProvider
	}
	if key == "" && len(m.providers) == 1 {
		for k := range m.providers {
			key = k
		}
	}
	provider, ok := m.providers[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return provider, key, nil
}

// Initiate delegates to the named provider and stamps the provider name on the result.
func (m *Manager) Initiate(ctx context.Context, providerName string, req PaymentRequest) (Initiation, error) {
	provider, key, err := m.resolve(providerName)
	if err != nil {
		return Initiation{}, err
	}
	result, err := provider.Initiate(ctx, req)
	if err != nil {
		return Initiation{}, err
	}
	result.Provider = key
	if result.TransactionID == "" {
		result.TransactionID = req.TransactionID
	}
	return result, nil
}

// CheckStatus delegates a status query to the named provider.
func (m *Manager) CheckStatus(ctx context.Context, providerName string, transactionID string) (PaymentOutcome, error) {
	provider, _, err := m.resolve(providerName)
	if err != nil {
		return PaymentOutcome{}, err
	}
	return provider.CheckStatus(ctx, transactionID)
}

func normaliseProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

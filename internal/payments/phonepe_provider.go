package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/textutil"
)

const (
	// ProviderPhonePe is the manager key of the PhonePe-style redirect gateway.
	ProviderPhonePe = "phonepe"

	// PhonePeSandboxHost is the pre-production gateway host.
	PhonePeSandboxHost = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	// PhonePeProductionHost is the production gateway host.
	PhonePeProductionHost = "https://api.phonepe.com/apis/hermes"

	phonePePayPath       = "/pg/v1/pay"
	phonePeStatusPathFmt = "/pg/v1/status/%s/%s"

	headerVerify     = "X-VERIFY"
	headerMerchantID = "X-MERCHANT-ID"

	defaultGatewayTimeout = 10 * time.Second
	maxGatewayBody        = 1 << 20
)

// PhonePeLogger defines the logging contract for gateway operations.
type PhonePeLogger func(ctx context.Context, event string, fields map[string]any)

// PhonePeConfig configures the PhonePe provider.
type PhonePeConfig struct {
	MerchantID string
	SaltKey    string
	SaltIndex  string
	// Environment selects the host: "production" or anything else for sandbox.
	Environment string
	// Host overrides the environment host, mainly for tests.
	Host       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     PhonePeLogger
}

// PhonePeProvider signs and sends pay and status requests to the gateway.
type PhonePeProvider struct {
	merchantID string
	saltKey    string
	saltIndex  string
	host       string
	client     *http.Client
	logger     PhonePeLogger
}

var (
	_ Provider        = (*PhonePeProvider)(nil)
	_ WebhookVerifier = (*PhonePeProvider)(nil)
)

// NewPhonePeProvider validates configuration and returns a provider.
func NewPhonePeProvider(cfg PhonePeConfig) (*PhonePeProvider, error) {
	merchantID := strings.TrimSpace(cfg.MerchantID)
	if merchantID == "" {
		return nil, errors.New("phonepe: merchant id is required")
	}
	if cfg.SaltKey == "" {
		return nil, errors.New("phonepe: salt key is required")
	}
	saltIndex := strings.TrimSpace(cfg.SaltIndex)
	if saltIndex == "" {
		return nil, errors.New("phonepe: salt index is required")
	}

	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = PhonePeHost(cfg.Environment)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultGatewayTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PhonePeProvider{
		merchantID: merchantID,
		saltKey:    cfg.SaltKey,
		saltIndex:  saltIndex,
		host:       host,
		client:     client,
		logger:     logger,
	}, nil
}

// PhonePeHost returns the gateway host for the named environment.
func PhonePeHost(environment string) string {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "production", "prod":
		return PhonePeProductionHost
	default:
		return PhonePeSandboxHost
	}
}

type phonePePayPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	PaymentInstrument     phonePeInstrument `json:"paymentInstrument"`
}

type phonePeInstrument struct {
	Type string `json:"type"`
}

type phonePeEnvelope struct {
	Request string `json:"request,omitempty"`
}

type phonePePayResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		InstrumentResponse    struct {
			Type         string `json:"type"`
			RedirectInfo struct {
				URL    string `json:"url"`
				Method string `json:"method"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// Initiate posts a signed pay request and returns the hosted payment page URL.
func (p *PhonePeProvider) Initiate(ctx context.Context, req PaymentRequest) (Initiation, error) {
	if p == nil {
		return Initiation{}, errors.New("phonepe: provider is nil")
	}
	txnID := textutil.AlphaNumeric(req.TransactionID)
	if txnID == "" {
		txnID = TransactionID(req.OrderID)
	}
	if txnID == "" {
		return Initiation{}, errors.New("phonepe: transaction id is required")
	}
	if req.Amount <= 0 {
		return Initiation{}, errors.New("phonepe: amount must be positive")
	}

	payload := phonePePayPayload{
		MerchantID:            p.merchantID,
		MerchantTransactionID: txnID,
		MerchantUserID:        textutil.AlphaNumeric(req.RequesterID),
		Amount:                req.Amount,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           req.CallbackURL,
		PaymentInstrument:     phonePeInstrument{Type: "PAY_PAGE"},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Initiation{}, fmt.Errorf("phonepe: encode payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, err := json.Marshal(phonePeEnvelope{Request: encoded})
	if err != nil {
		return Initiation{}, fmt.Errorf("phonepe: encode envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+phonePePayPath, bytes.NewReader(body))
	if err != nil {
		return Initiation{}, fmt.Errorf("phonepe: build pay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(headerVerify, PayChecksum(encoded, p.saltKey, p.saltIndex))

	status, respBody, err := p.do(httpReq)
	if err != nil {
		p.logger(ctx, "payment.initiate.network_error", map[string]any{"transactionId": txnID})
		return Initiation{}, &GatewayError{Provider: ProviderPhonePe, Op: "initiate", Temporary: true, Err: err}
	}

	var resp phonePePayResponse
	decodeErr := json.Unmarshal(respBody, &resp)

	if gwErr := classifyStatus("initiate", status, resp.Code); gwErr != nil {
		p.logger(ctx, "payment.initiate.failed", map[string]any{
			"transactionId": txnID,
			"httpStatus":    status,
			"code":          resp.Code,
		})
		return Initiation{}, gwErr
	}
	if decodeErr != nil {
		return Initiation{}, &GatewayError{Provider: ProviderPhonePe, Op: "initiate", StatusCode: status, Code: "malformed_response", Err: decodeErr}
	}
	if !resp.Success {
		p.logger(ctx, "payment.initiate.rejected", map[string]any{"transactionId": txnID, "code": resp.Code})
		return Initiation{}, &GatewayError{Provider: ProviderPhonePe, Op: "initiate", StatusCode: status, Code: resp.Code}
	}
	redirect := strings.TrimSpace(resp.Data.InstrumentResponse.RedirectInfo.URL)
	if redirect == "" {
		return Initiation{}, &GatewayError{Provider: ProviderPhonePe, Op: "initiate", StatusCode: status, Code: "missing_redirect"}
	}

	p.logger(ctx, "payment.initiate.accepted", map[string]any{"transactionId": txnID})
	return Initiation{
		Provider:      ProviderPhonePe,
		TransactionID: txnID,
		RedirectURL:   redirect,
	}, nil
}

// CheckStatus queries the signed status endpoint and maps the body to a PaymentOutcome.
func (p *PhonePeProvider) CheckStatus(ctx context.Context, transactionID string) (PaymentOutcome, error) {
	if p == nil {
		return PaymentOutcome{}, errors.New("phonepe: provider is nil")
	}
	txnID := textutil.AlphaNumeric(transactionID)
	if txnID == "" {
		return PaymentOutcome{}, errors.New("phonepe: transaction id is required")
	}

	path := p.StatusPath(txnID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+path, nil)
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("phonepe: build status request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(headerVerify, StatusChecksum(path, p.saltKey, p.saltIndex))
	httpReq.Header.Set(headerMerchantID, p.merchantID)

	status, respBody, err := p.do(httpReq)
	if err != nil {
		p.logger(ctx, "payment.status.network_error", map[string]any{"transactionId": txnID})
		return PaymentOutcome{}, &GatewayError{Provider: ProviderPhonePe, Op: "status", Temporary: true, Err: err}
	}

	var resp StatusResponse
	decodeErr := json.Unmarshal(respBody, &resp)

	// A 4xx carrying a definite failure code is an answer about the payment, not about the request.
	if status >= 400 && status < 500 && decodeErr == nil && isFailureCode(resp.Code) {
		return MapStatusResponse(resp), nil
	}
	if gwErr := classifyStatus("status", status, resp.Code); gwErr != nil {
		p.logger(ctx, "payment.status.failed", map[string]any{
			"transactionId": txnID,
			"httpStatus":    status,
			"code":          resp.Code,
		})
		return PaymentOutcome{}, gwErr
	}
	if decodeErr != nil {
		return PaymentOutcome{Kind: OutcomeUnknown, Code: "malformed_response"}, nil
	}
	return MapStatusResponse(resp), nil
}

// StatusPath returns the status endpoint path for a transaction id.
func (p *PhonePeProvider) StatusPath(transactionID string) string {
	return fmt.Sprintf(phonePeStatusPathFmt, url.PathEscape(p.merchantID), url.PathEscape(transactionID))
}

type phonePeCallback struct {
	Response string `json:"response"`
}

// VerifyWebhook authenticates a server-to-server callback and returns the merchant transaction id.
// The callback content is not trusted beyond identifying the transaction; callers re-query status.
func (p *PhonePeProvider) VerifyWebhook(body []byte, signature string) (string, error) {
	if p == nil {
		return "", errors.New("phonepe: provider is nil")
	}
	var cb phonePeCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return "", fmt.Errorf("%w: decode body", ErrInvalidCallback)
	}
	encoded := strings.TrimSpace(cb.Response)
	if encoded == "" {
		return "", fmt.Errorf("%w: empty response", ErrInvalidCallback)
	}
	if !VerifyChecksum(signature, encoded, p.saltKey, p.saltIndex) {
		return "", fmt.Errorf("%w: checksum mismatch", ErrInvalidCallback)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode payload", ErrInvalidCallback)
	}
	var resp StatusResponse
	if err := json.Unmarshal(decoded, &resp); err != nil {
		return "", fmt.Errorf("%w: decode payload", ErrInvalidCallback)
	}
	txnID := textutil.AlphaNumeric(resp.Data.MerchantTransactionID)
	if txnID == "" {
		return "", fmt.Errorf("%w: missing transaction id", ErrInvalidCallback)
	}
	return txnID, nil
}

func (p *PhonePeProvider) do(req *http.Request) (int, []byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func classifyStatus(op string, status int, code string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &GatewayError{Provider: ProviderPhonePe, Op: op, StatusCode: status, Code: code, Temporary: true}
	default:
		return &GatewayError{Provider: ProviderPhonePe, Op: op, StatusCode: status, Code: code}
	}
}

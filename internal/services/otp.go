package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

const (
	pickupCodeDigits = 6
	defaultOTPTTL    = 24 * time.Hour
)

var pickupCodeSpace = big.NewInt(1_000_000)

// OTPConfig holds the pickup code settings derived from configuration.
type OTPConfig struct {
	// HashKey keys the HMAC over stored codes. It must not be shared with gateway signing.
	HashKey []byte
	TTL     time.Duration
}

// OTPHandoverManagerDeps bundles collaborators for the pickup code manager.
type OTPHandoverManagerDeps struct {
	Orders  repositories.OrderRepository
	Limiter AttemptLimiter
	Config  OTPConfig
	Clock   func() time.Time
	Random  io.Reader
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// OTPHandoverManager issues and verifies single-use pickup codes. Only the keyed hash of a
// code is persisted; the plaintext is returned to the caller for immediate dispatch.
type OTPHandoverManager struct {
	orders  repositories.OrderRepository
	limiter AttemptLimiter
	key     []byte
	ttl     time.Duration
	clock   func() time.Time
	random  io.Reader
	logger  func(context.Context, string, map[string]any)
}

// PickupCode is the plaintext code with its expiry. It must never be logged or stored.
type PickupCode struct {
	Code      string
	ExpiresAt time.Time
	hash      string
}

// NewOTPHandoverManager validates dependencies and returns a manager.
func NewOTPHandoverManager(deps OTPHandoverManagerDeps) (*OTPHandoverManager, error) {
	if deps.Orders == nil {
		return nil, errors.New("otp manager: order repository is required")
	}
	if len(deps.Config.HashKey) == 0 {
		return nil, errors.New("otp manager: hash key is required")
	}
	ttl := deps.Config.TTL
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	random := deps.Random
	if random == nil {
		random = rand.Reader
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	key := make([]byte, len(deps.Config.HashKey))
	copy(key, deps.Config.HashKey)

	return &OTPHandoverManager{
		orders:  deps.Orders,
		limiter: deps.Limiter,
		key:     key,
		ttl:     ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		random: random,
		logger: logger,
	}, nil
}

// Issue generates a fresh code for a READY order and stores its hash, replacing any previous code.
func (m *OTPHandoverManager) Issue(ctx context.Context, order Order) (PickupCode, error) {
	if order.Status != domain.OrderStatusReady {
		return PickupCode{}, fmt.Errorf("%w: pickup codes are issued only for %s orders", ErrStateConflict, domain.OrderStatusReady)
	}
	n, err := rand.Int(m.random, pickupCodeSpace)
	if err != nil {
		return PickupCode{}, fmt.Errorf("otp manager: generate code: %w", err)
	}
	code := fmt.Sprintf("%0*d", pickupCodeDigits, n.Int64())
	expiry := m.clock().Add(m.ttl)

	hash := m.Hash(order.ID, code)
	ok, err := m.orders.SetOTP(ctx, order.ID, hash, expiry)
	if err != nil {
		return PickupCode{}, mapRepositoryError(err, "order not found")
	}
	if !ok {
		return PickupCode{}, fmt.Errorf("%w: order is no longer %s", ErrStateConflict, domain.OrderStatusReady)
	}
	m.logger(ctx, "order.pickup_code.issued", map[string]any{
		"orderId":   order.ID,
		"expiresAt": expiry,
	})
	return PickupCode{Code: code, ExpiresAt: expiry, hash: hash}, nil
}

// Hash returns the hex HMAC-SHA256 of the code bound to the order id.
func (m *OTPHandoverManager) Hash(orderID, code string) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(orderID + ":" + code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks code against the order's stored hash and, on a match, clears it and
// completes the order in one conditional write. Exactly one concurrent caller can succeed.
func (m *OTPHandoverManager) Verify(ctx context.Context, order Order, code string) (time.Time, error) {
	code = strings.TrimSpace(code)
	if !isPickupCode(code) {
		return time.Time{}, fmt.Errorf("%w: code must be %d digits", ErrOTPInvalid, pickupCodeDigits)
	}
	if !order.HasPickupCode() {
		return time.Time{}, ErrOTPNotIssued
	}
	if m.limiter != nil {
		allowed, err := m.limiter.Allow(ctx, "otp:"+order.ID)
		if err != nil {
			m.logger(ctx, "order.pickup_code.limiter_error", map[string]any{"orderId": order.ID, "error": err.Error()})
			return time.Time{}, fmt.Errorf("%w: attempt limiter: %v", ErrUnavailable, err)
		}
		if !allowed {
			m.logger(ctx, "order.pickup_code.throttled", map[string]any{"orderId": order.ID})
			return time.Time{}, ErrOTPTooManyAttempts
		}
	}

	now := m.clock()
	if now.After(order.PickupCodeExpiry.UTC()) {
		return time.Time{}, ErrOTPExpired
	}
	if !hmac.Equal([]byte(m.Hash(order.ID, code)), []byte(order.PickupCodeHash)) {
		m.logger(ctx, "order.pickup_code.mismatch", map[string]any{"orderId": order.ID})
		return time.Time{}, ErrOTPInvalid
	}

	ok, err := m.orders.ClearOTPAndComplete(ctx, order.ID, order.PickupCodeHash, now)
	if err != nil {
		return time.Time{}, mapRepositoryError(err, "order not found")
	}
	if !ok {
		// Another verifier won or the code was replaced; either way this code is spent.
		return time.Time{}, ErrOTPNotIssued
	}
	return now, nil
}

func isPickupCode(code string) bool {
	if len(code) != pickupCodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

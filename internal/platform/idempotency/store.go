// Package idempotency replays the first response for a repeated Idempotency-Key so that
// client retries of order submission and payment initiation have no second effect.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultTTL is how long records are retained when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of reserving a key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should process the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// Reservation is the result of Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state for one key.
type Record struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

// Response is the HTTP response stored for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func storageKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// existingReservation classifies a live record found for a key.
func existingReservation(record Record, fingerprint string) (Reservation, error) {
	switch {
	case record.Fingerprint != fingerprint:
		return Reservation{}, ErrFingerprintMismatch
	case record.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	default:
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
}

func completedRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = replayableHeaders(resp.Headers)
	record.ResponseBody = bytes.Clone(resp.Body)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

// hopHeaders are regenerated per response and never replayed.
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Keep-Alive":        {},
	"Set-Cookie":        {},
	"Te":                {},
	"Trailers":          {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"X-Request-Id":      {},
}

func replayableHeaders(header http.Header) map[string][]string {
	var kept map[string][]string
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, hop := hopHeaders[canonical]; hop {
			continue
		}
		if kept == nil {
			kept = make(map[string][]string, len(header))
		}
		kept[canonical] = slices.Clone(values)
	}
	return kept
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = slices.Clone(vals)
	}
	return header
}

package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory for tests and single-instance deployments.
// Expired records linger until CleanupExpired runs or the key is reserved again.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if record, live := s.live(id, now); live {
		return existingReservation(record, fingerprint)
	}
	record := pendingRecord(key, fingerprint, now, ttl)
	s.records[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	switch {
	case !ok:
		record = Record{Key: key, Fingerprint: fingerprint}
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	s.records[id] = completedRecord(record, resp, now, ttl)
	return nil
}

// Release implements Store. A record held by another fingerprint is left alone.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := storageKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[id].Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired drops up to limit expired records and returns how many were removed.
// A non-positive limit removes every expired record.
func (s *MemoryStore) CleanupExpired(now time.Time, limit int) int {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if now.Before(record.ExpiresAt) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed
}

// live returns the record for id when it has not expired at now. Callers hold mu.
func (s *MemoryStore) live(id string, now time.Time) (Record, bool) {
	record, ok := s.records[id]
	if !ok || !now.Before(record.ExpiresAt) {
		return Record{}, false
	}
	return record, true
}

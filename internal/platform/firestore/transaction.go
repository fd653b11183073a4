package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 10 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn within a transaction on the provided client. Firestore retries
// fn on contention, so fn must not have side effects outside tx.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(cfg.attempts))
	return WrapError("transaction", err)
}

// Guard inspects the current snapshot inside a transaction. It returns the updates to
// apply, or ok=false to leave the document untouched.
type Guard func(snap *firestore.DocumentSnapshot) (updates []firestore.Update, ok bool, err error)

// UpdateIf performs a read-check-write on ref. It reports whether guard approved and the
// write committed; a missing document surfaces as a not-found StoreError.
func UpdateIf(ctx context.Context, client *firestore.Client, ref *firestore.DocumentRef, guard Guard, opts ...TxOption) (bool, error) {
	if ref == nil || guard == nil {
		return false, WrapError("transaction.update_if", errors.New("firestore: document and guard are required"))
	}
	var applied bool
	err := RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		updates, ok, err := guard(snap)
		if err != nil || !ok {
			return err
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		applied = true
		return nil
	}, opts...)
	if err != nil {
		return false, err
	}
	return applied, nil
}

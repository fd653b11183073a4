package repositories

import "fmt"

// StoreErrorKind categorises failures raised by any order store.
type StoreErrorKind string

const (
	// StoreErrorNotFound indicates the requested record does not exist.
	StoreErrorNotFound StoreErrorKind = "not_found"
	// StoreErrorConflict indicates a uniqueness or concurrency conflict.
	StoreErrorConflict StoreErrorKind = "conflict"
	// StoreErrorUnavailable indicates a transient backend outage.
	StoreErrorUnavailable StoreErrorKind = "unavailable"
	// StoreErrorUnknown represents an unspecified failure.
	StoreErrorUnknown StoreErrorKind = "unknown"
)

// StoreError implements RepositoryError for every store adapter.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError constructs a typed store error.
func NewStoreError(op string, kind StoreErrorKind, err error) *StoreError {
	if err == nil {
		err = fmt.Errorf("%s", kind)
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

package services

import (
	"errors"
	"fmt"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/payments"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

var (
	// ErrValidation signals bad pricing inputs, missing shop pricing or malformed commands.
	ErrValidation = errors.New("order: validation failed")
	// ErrNotFound indicates an unknown order or shop.
	ErrNotFound = errors.New("order: not found")
	// ErrForbidden indicates the actor may not act on an existing order.
	ErrForbidden = errors.New("order: forbidden")
	// ErrStateConflict indicates a transition from an unexpected status, including lost races.
	ErrStateConflict = errors.New("order: state conflict")
	// ErrUnavailable indicates the backing store is temporarily unreachable.
	ErrUnavailable = errors.New("order: store unavailable")

	// ErrOTPNotIssued is returned when no pickup code is active on the order.
	ErrOTPNotIssued = errors.New("pickup code: not issued")
	// ErrOTPExpired is returned when the pickup code is past its expiry.
	ErrOTPExpired = errors.New("pickup code: expired")
	// ErrOTPInvalid is returned when the submitted code does not match.
	ErrOTPInvalid = errors.New("pickup code: invalid")
	// ErrOTPTooManyAttempts is returned when verification attempts exceed the configured limit.
	ErrOTPTooManyAttempts = errors.New("pickup code: too many attempts")

	// ErrGateway wraps transient gateway failures (network, timeout, 5xx). Safe to retry.
	ErrGateway = errors.New("payment gateway: unavailable")
	// ErrGatewayRejected wraps permanent gateway rejections. Must not be retried unmodified.
	ErrGatewayRejected = errors.New("payment gateway: rejected")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func mapRepositoryError(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, notFoundMsg)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrStateConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}

func mapGatewayError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, payments.ErrGatewayRejected):
		return fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	case errors.Is(err, payments.ErrUnknownProvider):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
}

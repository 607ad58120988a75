package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCode is returned for every wrong, expired, replayed, or
	// malformed code. Callers never learn which of those it was.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrRateLimited means the verification throttle rejected the attempt
	// before any code was checked.
	ErrRateLimited = errors.New("too many verification attempts")

	// ErrNoMFAConfigured means the user has no active standalone factor,
	// which backup codes require.
	ErrNoMFAConfigured = errors.New("MFA not configured for this user")

	// ErrFactorNotFound means no matching factor exists for the user.
	ErrFactorNotFound = errors.New("factor not found")

	// ErrFactorNotActive means the operation requires an ACTIVE factor.
	ErrFactorNotActive = errors.New("factor is not active")

	// ErrFactorExists means the user already has an active factor of the
	// requested type.
	ErrFactorExists = errors.New("factor of this type already exists")

	// ErrUnavailable wraps infrastructure failures (store, delivery) so
	// callers can tell them apart from a rejected code.
	ErrUnavailable = errors.New("verification backend unavailable")
)

// unavailable wraps an infrastructure error so errors.Is(err, ErrUnavailable)
// holds while the cause stays reachable for logs.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

package errors

import (
	"errors"
	"fmt"
)

// Common error kinds for the session broker. Handlers map these to HTTP
// status codes at the server edge; everything below the server package
// wraps and compares against these sentinels.
var (
	// PKCE errors
	ErrInvalidState = errors.New("invalid or expired state")

	// Identity provider errors
	ErrUpstreamRejected    = errors.New("identity provider rejected the request")
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")

	// Session errors
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")

	// Store errors
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("session store unavailable")

	// Vault errors
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

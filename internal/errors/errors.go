package errors

import (
	"errors"
	"fmt"
)

// Common error types for session acquisition and profile synchronization
var (
	// Acquisition errors
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrTimeout            = errors.New("timeout")
	ErrProviderRejected   = errors.New("provider rejected credential")

	// Profile errors
	ErrProfileFetchFailed = errors.New("profile fetch failed")
	ErrNoProfile          = errors.New("no profile loaded")

	// Session errors
	ErrNoSession = errors.New("no session")

	// Sign-out errors
	ErrSignOutFailed = errors.New("sign-out failed")

	// Backend call failures
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrOther        = errors.New("backend call failed")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("unsupported operation")
	ErrClosed      = errors.New("closed")
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

// New is errors.New, re-exported so callers need a single errors import
func New(text string) error {
	return errors.New(text)
}

// Join is errors.Join; every joined error stays matchable with Is
func Join(errs ...error) error {
	return errors.Join(errs...)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common error types for the auth core and the device authorization backend
var (
	// Session / credential errors
	ErrInvalidGrant     = errors.New("invalid grant")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSessionExpired   = errors.New("session expired")
	ErrNoSession        = errors.New("no session")
	ErrSignInInProgress = errors.New("sign-in already in progress")

	// Device-flow ticket errors
	ErrTicketNotFound          = errors.New("device code not found")
	ErrTicketExpired           = errors.New("device code expired")
	ErrTicketAlreadyConsumed   = errors.New("device code already consumed")
	ErrTicketAlreadyAuthorized = errors.New("device code already authorized")
	ErrAuthorizationPending    = errors.New("authorization pending")

	// Adapter errors
	ErrAdapterUnavailable = errors.New("provider adapter unavailable")
	ErrSignInCancelled    = errors.New("sign-in cancelled")

	// Storage errors
	ErrStorage = errors.New("storage failure")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// TransientError marks a failure as retry-worthy (network blips, 5xx
// responses). Only the SessionManager acts on this classification; adapters
// never retry themselves.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err looks like a failure that may succeed on
// retry: anything wrapped by Transient, deadline expiry, or a net.Error
// timeout. Authorization failures are always terminal, even when they arrive
// wrapped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidGrant) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

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

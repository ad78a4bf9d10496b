package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned by Login when the identifier or secret is rejected.
	ErrInvalidCredentials = errors.New("gateway: invalid credentials")
	// ErrAccountNotActive is returned by Login for principals that may not sign in.
	ErrAccountNotActive = errors.New("gateway: account not active")
	// ErrInvalidRefreshCredential means the refresh secret was expired, revoked or already used.
	ErrInvalidRefreshCredential = errors.New("gateway: invalid refresh credential")
	// ErrNetworkFailure wraps transport errors and 5xx answers from the issuer.
	ErrNetworkFailure = errors.New("gateway: network failure")
	// ErrIssuerUnreachable marks a network failure where no connection was established,
	// so the request never reached the issuer. Only these refresh failures are retried.
	ErrIssuerUnreachable = errors.New("gateway: issuer unreachable")
	// ErrTimeout is returned when an issuer call exceeds its deadline.
	ErrTimeout = errors.New("gateway: timeout")
	// ErrSessionExpired means the session could not be recovered and the caller must log in again.
	ErrSessionExpired = errors.New("gateway: session expired")
	// ErrGatewayClosed is returned for calls issued or pending after Close.
	ErrGatewayClosed = errors.New("gateway: closed")
)

// SessionExpiredError describes the call that was abandoned because the session ended.
// StatusCode is zero when the call never reached the server.
type SessionExpiredError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *SessionExpiredError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s %s not sent", ErrSessionExpired, e.Method, e.URL)
	}
	return fmt.Sprintf("%s: %s %s returned %d", ErrSessionExpired, e.Method, e.URL, e.StatusCode)
}

func (e *SessionExpiredError) Unwrap() error {
	return ErrSessionExpired
}

// StatusError is an unexpected issuer response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: issuer responded %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: issuer responded %d: %s", e.StatusCode, e.Message)
}

// Unwrap classifies server-side failures as network failures.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrNetworkFailure
	}
	return nil
}

// retryable reports whether a refresh may be attempted again with the same secret.
// A request that reached the issuer may already have rotated the secret, and
// presenting it again would be treated as reuse.
func retryable(err error) bool {
	return errors.Is(err, ErrIssuerUnreachable)
}

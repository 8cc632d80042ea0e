// Package autherr defines the failure taxonomy shared by the session
// components. Callers match kinds with errors.Is and status details with
// errors.As on *StatusError.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoSession means no session identifier is available. No network call
	// is ever attempted when this is returned.
	ErrNoSession = errors.New("no session")

	// ErrTransportFailure covers network errors and timeouts. Callers may retry.
	ErrTransportFailure = errors.New("transport failure")

	// ErrMalformedCredential means the exchange endpoint answered but the
	// envelope carried no usable access token. Retrying without a changed
	// session is pointless.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrUnauthenticated is the terminal authorization failure for a call.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownServerError is any other non-2xx from the identity or exchange
	// endpoints. It may be transient.
	ErrUnknownServerError = errors.New("unknown server error")
)

// IsAuthorizationFailure reports whether status is one of the
// authorization-class responses handled by the guard.
func IsAuthorizationFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// StatusError is a non-2xx response from an identity, exchange or protected
// backend call.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap maps the status onto the taxonomy so errors.Is works against the
// sentinel kinds.
func (e *StatusError) Unwrap() error {
	if IsAuthorizationFailure(e.StatusCode) {
		return ErrUnauthenticated
	}
	return ErrUnknownServerError
}

// Transport wraps a network-level failure as ErrTransportFailure while keeping
// the cause reachable through errors.Is/As.
func Transport(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransportFailure, err)
}

// Retryable reports whether a caller may usefully retry the operation that
// produced err without changing the session.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransportFailure):
		return true
	case errors.Is(err, ErrMalformedCredential),
		errors.Is(err, ErrNoSession),
		errors.Is(err, ErrUnauthenticated):
		return false
	case errors.Is(err, ErrUnknownServerError):
		var se *StatusError
		return errors.As(err, &se) && se.StatusCode >= 500
	}
	return false
}

// Kind returns the short machine name of err's taxonomy kind, used in logs,
// metrics labels and JSON error bodies.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	case errors.Is(err, ErrTransportFailure):
		return "transport_failure"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrUnknownServerError):
		return "unknown_server_error"
	}
	return "internal"
}

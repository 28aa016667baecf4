// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Protocol and session sentinels.
var (
	// ErrInvalidQRCode indicates a QR-code URL lacking school, url, key or user.
	ErrInvalidQRCode = errors.New("invalid qr code")

	// ErrQRAuthFailed indicates the OTP login was rejected by the backend.
	ErrQRAuthFailed = errors.New("qr authentication failed")

	// ErrCredentialAuthFailed indicates a username/password login was rejected.
	ErrCredentialAuthFailed = errors.New("credential authentication failed")

	// ErrSessionExpired indicates the backend answered with a login page instead of a token.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoSessionCookie indicates a login response carried no JSESSIONID.
	ErrNoSessionCookie = errors.New("no session cookie in response")

	// ErrMissingPersonID indicates the app config response had no personId.
	ErrMissingPersonID = errors.New("missing person id")

	// ErrNoCookies indicates a pre-authenticated session was supplied without cookies.
	ErrNoCookies = errors.New("no cookies in existing session")

	// ErrMissingUsername indicates neither a username nor another session source exists.
	ErrMissingUsername = errors.New("no username and no other session source")

	// ErrRPC indicates an error object embedded in a JSON-RPC response.
	ErrRPC = errors.New("json-rpc error")

	// ErrUnauthorized indicates failed authentication/authorization (401/403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable indicates the backend is temporarily unavailable (503).
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimited indicates a temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// StatusError reports a non-success HTTP status returned for Op.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses onto sentinels so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

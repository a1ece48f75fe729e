// Package relayerr defines the error taxonomy shared by the auth, cloud and
// HTTP layers, and the mapping from those errors to HTTP status codes.
package relayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthKind classifies an authentication failure.
type AuthKind int

const (
	InvalidCredentials AuthKind = iota + 1
	InvalidVerificationCode
	TokenExpired
	UpstreamUnreachable
)

func (k AuthKind) String() string {
	switch k {
	case InvalidCredentials:
		return "invalid_credentials"
	case InvalidVerificationCode:
		return "invalid_verification_code"
	case TokenExpired:
		return "token_expired"
	case UpstreamUnreachable:
		return "upstream_unreachable"
	default:
		return fmt.Sprintf("auth_kind(%d)", int(k))
	}
}

// AuthError is returned by login, verification and token-bearing upstream calls.
type AuthError struct {
	Kind    AuthKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", msg, e.Err)
	}
	return "auth: " + msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches another *AuthError of the same kind, so callers can write
// errors.Is(err, relayerr.ErrTokenExpired).
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCredentials      = &AuthError{Kind: InvalidCredentials}
	ErrInvalidVerificationCode = &AuthError{Kind: InvalidVerificationCode}
	ErrTokenExpired            = &AuthError{Kind: TokenExpired}
	ErrUpstreamUnreachable     = &AuthError{Kind: UpstreamUnreachable}
)

// NewAuthError builds an AuthError with an optional cause.
func NewAuthError(kind AuthKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: cause}
}

// UpstreamError carries a non-auth failure reported by the cloud API.
// Status is the upstream HTTP status, or a gateway status (502/504) when the
// request never produced a response.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream: HTTP %d", e.Status)
	}
	return fmt.Sprintf("upstream: HTTP %d: %s", e.Status, e.Message)
}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Required is shorthand for a ValidationError on a missing field.
func Required(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "is required"}
}

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// IsAuth reports whether err is an AuthError of any of the given kinds
// (any kind when none are given).
func IsAuth(err error, kinds ...AuthKind) bool {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if ae.Kind == k {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error to the status code the relay responds with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		if ae.Kind == UpstreamUnreachable {
			return http.StatusBadGateway
		}
		return http.StatusUnauthorized
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		if ue.Status >= 400 && ue.Status <= 599 {
			return ue.Status
		}
		return http.StatusBadGateway
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}

	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to show to the client. Internal
// errors collapse to a generic string.
func PublicMessage(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		if ae.Message != "" {
			return ae.Message
		}
		switch ae.Kind {
		case InvalidCredentials:
			return "Invalid email or password."
		case InvalidVerificationCode:
			return "Invalid verification code."
		case TokenExpired:
			return "Session token expired or invalid. Please log in again."
		case UpstreamUnreachable:
			return "Could not reach the printer cloud."
		}
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		if ue.Message != "" {
			return ue.Message
		}
		return fmt.Sprintf("Upstream request failed with HTTP %d.", ue.Status)
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}

	if errors.Is(err, ErrNotFound) {
		return "Not found."
	}
	return "Internal server error."
}

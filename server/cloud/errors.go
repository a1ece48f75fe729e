package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"bambuwatch/server/relayerr"
)

// HTTPError represents a non-2xx response from the cloud API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the request hit its deadline.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// queryError maps a failed token-bearing query onto the relay taxonomy:
// 401 means the token is no longer valid; everything else is an UpstreamError.
func queryError(op string, err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusUnauthorized {
			return relayerr.NewAuthError(relayerr.TokenExpired, "", err)
		}
		return &relayerr.UpstreamError{Status: httpErr.StatusCode, Message: httpErr.Message}
	}

	var te *TransportError
	if errors.As(err, &te) {
		if te.Timeout() {
			return &relayerr.UpstreamError{Status: http.StatusGatewayTimeout, Message: op + ": upstream timed out"}
		}
		return &relayerr.UpstreamError{Status: http.StatusBadGateway, Message: op + ": upstream unreachable"}
	}
	return err
}

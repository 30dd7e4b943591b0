package api

import (
	"errors"
	"fmt"
)

// ErrAuthFatal means the device can no longer authenticate and has to be paired
// again. Retrying the same request will not help.
var ErrAuthFatal = errors.New("authentication failed, device must be paired again")

// RequestError is a completed HTTP exchange whose status was outside [200, 300).
type RequestError struct {
	StatusCode int
	Body       any
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %v", e.StatusCode, e.Body)
}

// ConnectionError wraps a transport failure: no response was received.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "connection error: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func IsUnauthorized(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == 401
	}

	return false
}

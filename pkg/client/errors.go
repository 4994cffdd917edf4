package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrMissingToken is returned by New when no bearer token is configured.
	ErrMissingToken = errors.New("api token is required")

	// ErrInvalidBaseURL is returned by New when the base URL is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("invalid base url")
)

// RequestError represents a failed page request with additional context.
// A response with a non-2xx status is not a RequestError; the body is still
// returned to the caller.
type RequestError struct {
	Offset     int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bookingproposals %s error (offset %d): %s: %v",
			e.ErrorClass, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("bookingproposals %s error (offset %d): %s",
		e.ErrorClass, e.Offset, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

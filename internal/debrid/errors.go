package debrid

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL means a magnet or provider link could not be parsed.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidToken means no valid access token could be obtained; the
	// user has to re-authenticate with the provider.
	ErrInvalidToken = errors.New("invalid or missing token")
	// ErrInvalidResponse means the provider returned a payload that could
	// not be decoded.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrEmptyData means the provider returned a well-formed but empty
	// result set.
	ErrEmptyData = errors.New("empty data")
	// ErrNotSupported means the provider has no equivalent of the requested
	// operation.
	ErrNotSupported = errors.New("operation not supported by provider")
)

// RequestError is any non-2xx provider response other than 401.
type RequestError struct {
	Status      int
	Description string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Description)
}

// AuthError covers auth-flow-specific failures, including an exhausted
// polling budget.
type AuthError struct {
	Description string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Description
}

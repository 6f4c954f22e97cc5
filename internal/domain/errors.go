package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is wrapped by validation failures across packages.
var ErrInvalidInput = errors.New("invalid input")

// APIError is the user-facing failure of a scoring attempt. StatusCode is 0
// when no HTTP response was received.
type APIError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring failed (status %d): %s", e.StatusCode, e.Message)
	}
	return e.Message
}

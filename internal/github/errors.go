package github

import (
	"errors"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v60/github"
)

var (
	// ErrRefNotFound is returned when a branch or ref does not exist.
	ErrRefNotFound = errors.New("ref not found")
	// ErrRepoNotFound is returned when the repository does not exist or the
	// token cannot see it.
	ErrRepoNotFound = errors.New("repository not found")
	// ErrAccessDenied is returned when the token lacks permission for an operation.
	ErrAccessDenied = errors.New("access denied")
)

// APIError wraps a provider error with its HTTP status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrRefNotFound) || errors.Is(err, ErrRepoNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// wrapError normalizes go-github errors into APIError, preserving sentinel
// classification for the status codes callers branch on.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		apiErr := &APIError{
			StatusCode: ghErr.Response.StatusCode,
			Message:    ghErr.Message,
		}
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAccessDenied, apiErr)
		}
		return apiErr
	}

	return err
}

package github

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no discussion. Search is
// eventually consistent, so a recently created discussion can land here.
var ErrNotFound = errors.New("not found")

// APIError is a failed GraphQL call: either an HTTP error status or a
// GraphQL-level error payload (which arrives with status 200).
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api: status %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the wrapped HTTP status code when available.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

// IsSecondaryRateLimit reports whether an error is GitHub's abuse-detection
// throttle. It is signaled through the error payload message rather than a
// dedicated status code, so the match is on message content.
func IsSecondaryRateLimit(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	text := strings.ToLower(apiErr.Message)
	return strings.Contains(text, "secondary rate limit") ||
		strings.Contains(text, "abuse detection")
}

// RetryAfterHint returns the server-provided backoff, when one was sent.
func RetryAfterHint(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// IsTransient reports whether an error is worth a plain retry: a network
// timeout or a 5xx response. Secondary rate limits are classified
// separately since they need a backoff, not an immediate retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if status, ok := StatusCode(err); ok {
		return status >= 500 && status <= 599
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	type temporary interface {
		Temporary() bool
	}
	var tempErr temporary
	return errors.As(err, &tempErr) && tempErr.Temporary()
}

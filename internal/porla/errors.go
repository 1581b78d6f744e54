package porla

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a classified failure from the managing service. Transient
// failures (timeouts, connection errors, 5xx, throttling) are retried
// with backoff inside the client; permanent failures (auth, malformed
// input, not-found) are returned immediately and must not be retried
// within the same cycle.
type Error struct {
	Op         string
	StatusCode int // 0 for connection-level failures
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("porla %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("porla %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is a retryable service failure.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}

// IsNotFound reports whether the service does not know the torrent.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}

// transientStatus classifies an HTTP status code.
func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

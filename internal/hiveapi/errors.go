package hiveapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/model"
)

// ErrUnauthorized means the access token was rejected and must be refreshed.
var ErrUnauthorized = errors.New("access token rejected")

// StatusError is a non-success API response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "api status error"
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return model.ErrAPIUnavailable
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == http.StatusTooManyRequests
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "connection reset") ||
		strings.Contains(message, "connection refused") ||
		strings.Contains(message, "broken pipe") ||
		strings.Contains(message, "eof")
}

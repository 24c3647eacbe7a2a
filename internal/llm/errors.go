package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RequestError is a non-2xx provider response.
type RequestError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter *time.Duration
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth retrying: rate limits,
// timeouts, and server-side errors.
func (e *RequestError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable classifies any completion error. Transport-level failures
// without an HTTP status count as retryable; malformed requests do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return false
	}
	return true
}

// ConfigError is a client-side misconfiguration that no retry can fix.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "llm config: " + e.Message }

func parseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

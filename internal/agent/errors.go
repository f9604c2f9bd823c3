package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/canopyhq/graphpilot/internal/retry"
)

// ProviderError carries structured failure detail from a backend call.
// Providers wrap their native API errors into this type so the turn loop
// can classify failures without knowing provider internals.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsThrottling reports whether the backend rejected the call for rate
// limiting. Throttling is the only failure class the turn loop retries
// transparently.
func IsThrottling(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.StatusCode == 429 {
			return true
		}
	}
	return retry.IsThrottling(err)
}

// IsContextOverflow reports whether the backend rejected the call because
// the accumulated conversation no longer fits its context window.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.StatusCode == 413 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context window")
}

package risk

import (
	"errors"
	"fmt"
	"strings"
)

// Error classifies risk service failures as transient/permanent. The loops
// treat transient failures as recoverable: the cycle aborts or skips and
// the next scheduled tick retries naturally.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "risk service error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a risk fetch should be retried on a later tick.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var riskErr *Error
	if errors.As(err, &riskErr) {
		return riskErr.Transient
	}

	return false
}

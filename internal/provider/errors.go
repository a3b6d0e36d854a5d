// Package provider implements the upstream adapters: one per wire family,
// each normalising provider responses into the internal stream events.
package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/zeroai-dev/zeroai/internal/util"
)

// ErrAuthRequired signals that no usable credential exists for a provider.
var ErrAuthRequired = errors.New("authentication required")

// Error is a failed upstream call. Body is sanitized before storage so it is
// safe to log and to forward to clients.
type Error struct {
	StatusCode   int
	Body         string
	RetryAfterMs int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// NewError builds an Error from an upstream response, scrubbing the body and
// honouring a Retry-After header when present.
func NewError(statusCode int, body string, header http.Header) *Error {
	e := &Error{
		StatusCode: statusCode,
		Body:       util.SanitizeErrorBody(body),
	}
	if header != nil {
		if v := header.Get("Retry-After"); v != "" {
			if sec, err := strconv.ParseFloat(v, 64); err == nil && sec > 0 {
				e.RetryAfterMs = int64(sec * 1000)
			}
		}
	}
	return e
}

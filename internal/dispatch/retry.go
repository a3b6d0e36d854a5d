package dispatch

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeroai-dev/zeroai/internal/provider"
)

const (
	// defaultBackoffMs is used when the upstream gives no Retry-After.
	defaultBackoffMs int64 = 60000

	// maxBackoffMs clamps the health window so one bad answer cannot bench
	// an account for long.
	maxBackoffMs int64 = 30000
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry-after[:\s]+([0-9]+(?:\.[0-9]+)?)`)

// isRateLimited reports whether an error is an upstream rate limit, by
// status code or by message text.
func isRateLimited(err error) bool {
	var pErr *provider.Error
	if errors.As(err, &pErr) && pErr.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota exceeded")
}

// isNonRetryable reports whether rotating accounts cannot help: client
// errors other than timeout/rate-limit, and missing credentials.
func isNonRetryable(err error) bool {
	if errors.Is(err, provider.ErrAuthRequired) {
		return true
	}
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		status := pErr.StatusCode
		return status >= 400 && status < 500 && status != 408 && status != 429
	}
	return false
}

// parseRetryAfterMs extracts a Retry-After duration from the error, either
// the captured header or a textual occurrence in the body. Returns 0 when
// absent.
func parseRetryAfterMs(err error) int64 {
	var pErr *provider.Error
	if errors.As(err, &pErr) && pErr.RetryAfterMs > 0 {
		return pErr.RetryAfterMs
	}
	match := retryAfterPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return 0
	}
	sec, errParse := strconv.ParseFloat(match[1], 64)
	if errParse != nil || sec <= 0 {
		return 0
	}
	return int64(sec * 1000)
}

// computeBackoff derives the health window for a rate-limited account.
func computeBackoff(base int64, err error) int64 {
	backoff := base
	if retryAfter := parseRetryAfterMs(err); retryAfter > backoff {
		backoff = retryAfter
	}
	if backoff > maxBackoffMs {
		backoff = maxBackoffMs
	}
	return backoff
}

package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zeroai-dev/zeroai/internal/provider"
)

func TestIsRateLimited(t *testing.T) {
	assert.True(t, isRateLimited(&provider.Error{StatusCode: 429, Body: "slow down"}))
	assert.True(t, isRateLimited(errors.New("RESOURCE_EXHAUSTED: quota exceeded")))
	assert.True(t, isRateLimited(errors.New("rate limit reached for requests")))
	assert.False(t, isRateLimited(&provider.Error{StatusCode: 500, Body: "boom"}))
	assert.False(t, isRateLimited(errors.New("connection refused")))
}

func TestIsNonRetryable(t *testing.T) {
	assert.True(t, isNonRetryable(provider.ErrAuthRequired))
	assert.True(t, isNonRetryable(&provider.Error{StatusCode: 400}))
	assert.True(t, isNonRetryable(&provider.Error{StatusCode: 401}))
	assert.False(t, isNonRetryable(&provider.Error{StatusCode: 408}))
	assert.False(t, isNonRetryable(&provider.Error{StatusCode: 429}))
	assert.False(t, isNonRetryable(&provider.Error{StatusCode: 500}))
	assert.False(t, isNonRetryable(errors.New("dial tcp: timeout")))
}

func TestParseRetryAfterMs(t *testing.T) {
	assert.Equal(t, int64(5000), parseRetryAfterMs(&provider.Error{StatusCode: 429, RetryAfterMs: 5000}))
	assert.Equal(t, int64(2500), parseRetryAfterMs(errors.New("please wait, Retry-After: 2.5 seconds")))
	assert.Equal(t, int64(0), parseRetryAfterMs(errors.New("rate limit reached")))
}

func TestComputeBackoff(t *testing.T) {
	// The default window is clamped to the cap.
	assert.Equal(t, maxBackoffMs, computeBackoff(defaultBackoffMs, errors.New("rate limit")))

	// A small base keeps its value; a Retry-After can raise it up to the cap.
	assert.Equal(t, int64(1000), computeBackoff(1000, errors.New("rate limit")))
	assert.Equal(t, int64(5000), computeBackoff(1000, &provider.Error{StatusCode: 429, RetryAfterMs: 5000}))
	assert.Equal(t, maxBackoffMs, computeBackoff(1000, &provider.Error{StatusCode: 429, RetryAfterMs: 90_000}))
}

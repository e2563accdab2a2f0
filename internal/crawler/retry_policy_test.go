package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 10*time.Millisecond)
	require.True(t, p.ShouldRetry(timeoutErr{}, 0))
	require.True(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", timeoutErr{}), 1))
	require.False(t, p.ShouldRetry(timeoutErr{}, 2))
	require.False(t, p.ShouldRetry(errors.New("connection refused"), 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	require.False(t, p.ShouldRetry(nil, 0))

	require.False(t, NewExponentialRetryPolicy(0, 0).ShouldRetry(timeoutErr{}, 0))
}

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond)
	for attempt := 0; attempt < 3; attempt++ {
		full := 100 * time.Millisecond << attempt
		got := p.Backoff(attempt)
		require.GreaterOrEqual(t, got, full/2)
		require.LessOrEqual(t, got, full)
	}
	require.LessOrEqual(t, p.Backoff(20), 5*time.Second)
}

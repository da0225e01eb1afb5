package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/incident-sync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func quietCtx() context.Context {
	return logging.WithLogger(context.Background(), logging.Discard())
}

func TestSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(quietCtx(), fastConfig(5), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return stderrors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	boom := stderrors.New("boom")
	result := WithExponentialBackoff(quietCtx(), fastConfig(4), func(context.Context, int) error { return boom })
	assert.False(t, result.Success)
	assert.Equal(t, 4, result.Attempts)
	assert.ErrorIs(t, result.LastError, boom)
}

func TestShouldRetryStopsEarly(t *testing.T) {
	fatal := stderrors.New("bad password")
	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool { return !stderrors.Is(err, fatal) }

	calls := 0
	err := Do(quietCtx(), cfg, func(context.Context, int) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(quietCtx())
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, Multiplier: 2}

	result := WithExponentialBackoff(ctx, cfg, func(context.Context, int) error {
		cancel()
		return stderrors.New("down")
	})
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 4*time.Second, calculateDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, calculateDelay(cfg, 10))
}

package job

import (
	"fmt"
	"math"
	"time"
)

// BackoffType selects how the retry delay grows
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff configures the delay before a failed job is retried
type Backoff struct {
	Type     BackoffType   `json:"type"`
	Delay    time.Duration `json:"delay"`
	MaxDelay time.Duration `json:"maxDelay,omitempty"`
}

// Next returns the delay after the given attempt (1-based).
//
//	fixed:       Delay
//	exponential: Delay * 2^(attempt-1), capped at MaxDelay
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}

	delay := float64(b.Delay) * math.Pow(2, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Validate checks the backoff is usable
func (b Backoff) Validate() error {
	switch b.Type {
	case BackoffFixed:
	case BackoffExponential:
		if b.MaxDelay < b.Delay {
			return fmt.Errorf("exponential backoff max delay %s is below delay %s", b.MaxDelay, b.Delay)
		}
	default:
		return fmt.Errorf("unknown backoff type %q", b.Type)
	}
	if b.Delay <= 0 {
		return fmt.Errorf("backoff delay must be positive, got %s", b.Delay)
	}
	return nil
}

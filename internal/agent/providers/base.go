package providers

import (
	"context"
	"time"

	"github.com/agentcore/runtime/internal/backoff"
)

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.BackoffPolicy
}

// NewBaseProvider creates a base provider with sane defaults. retryDelay
// seeds the policy's initial backoff; the cap and exponential factor come
// from backoff.ProviderRetryPolicy, the same curve the retry classifier in
// failover.go expects transient provider errors to back off along.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = backoff.ProviderRetryMaxAttempts
	}
	policy := backoff.ProviderRetryPolicy()
	if retryDelay > 0 {
		policy.InitialMs = float64(retryDelay.Milliseconds())
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy:     policy,
	}
}

// Retry executes op with exponential backoff and jitter if isRetryable
// returns true for the resulting error.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			if err := backoff.SleepWithBackoff(ctx, b.policy, attempt); err != nil {
				return err
			}
		}
	}
	return lastErr
}

package providers

import (
	"context"
	"math"
	"time"
)

// retryPolicy bounds the retry loop shared by the adapters.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

func (p retryPolicy) withDefaults() retryPolicy {
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = time.Second
	}
	return p
}

// do runs fn up to maxRetries+1 times, backing off exponentially between
// retryable failures. A provider-supplied RetryAfter overrides the
// computed backoff. Non-retryable errors return immediately.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == p.maxRetries {
			break
		}

		backoff := p.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if perr, ok := AsError(err); ok && perr.RetryAfter > backoff {
			backoff = perr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

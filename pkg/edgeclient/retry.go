package edgeclient

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Do retries fn with exponential backoff when safe is true. Only idempotent
// calls (GET, DELETE, idempotent PUT) opt in; non-idempotent creates run once.
func (r RetryPolicy) Do(ctx context.Context, safe bool, fn func() error) error {
	if !safe || r.MaxRetries <= 0 {
		return fn()
	}
	backoff := retry.WithMaxRetries(uint64(r.MaxRetries), retry.NewExponential(r.BaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(); err != nil && !IsNotFound(err) {
			return retry.RetryableError(err)
		} else if err != nil {
			return err
		}
		return nil
	})
}

package application

import (
	"context"
	"time"
)

// RetryPolicy is a fixed ceiling of attempts with a fixed delay between them.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

var (
	DefaultConnectRetry   = RetryPolicy{Attempts: 150, Interval: 5 * time.Second}
	DefaultSubscribeRetry = RetryPolicy{Attempts: 3, Interval: time.Second}
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

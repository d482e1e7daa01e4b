package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// IsTransient reports whether a send failure is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sbErr *azservicebus.Error
	if errors.As(err, &sbErr) {
		return sbErr.Code == azservicebus.CodeConnectionLost || sbErr.Code == azservicebus.CodeTimeout
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBusUnavailable)
}

// RetryWithBackoff runs fn up to maxRetries times, doubling the wait from
// base after each transient failure. Permanent errors return immediately.
func RetryWithBackoff(ctx context.Context, fn func() error, maxRetries int, base time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for retry := 0; retry < maxRetries; retry++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || retry == maxRetries-1 {
			return err
		}

		backoff := base << uint(retry)
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

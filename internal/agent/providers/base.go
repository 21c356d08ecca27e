package providers

import (
	"context"
	"time"
)

// baseClient holds the retry configuration shared by the cloud clients.
type baseClient struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

func newBaseClient(name string, maxRetries int, retryDelay time.Duration) baseClient {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return baseClient{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// retry executes op with linear backoff while IsRetryable holds.
func (b *baseClient) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt >= b.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

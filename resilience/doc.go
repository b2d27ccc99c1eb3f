// Package resilience retries operations that fail transiently.
//
// iceflow retries only process creation: a worker that failed to start is
// safe to start again, while a call that timed out against a live worker is
// never retried because the worker's state is unknown.
//
//	cmd, err := resilience.Retry(ctx, resilience.RetryConfig{
//	    MaxAttempts: 5,
//	    Backoff:     resilience.LinearBackoff(100 * time.Millisecond),
//	}, spawn)
package resilience

// Package retry provides backoff and retry logic for transient fetch failures.
//
// Features:
//   - Exponential and constant backoff strategies
//   - Jitter to avoid thundering herd problems
//   - Context support for cancellation
//   - Error-type specific backoff (429 responses wait longer)
//   - Configurable retry predicates
//
// Basic usage:
//
//	err := retry.Do(func() error {
//		return fetch(ctx, req)
//	}, retry.FromSettings(ctx, cfg.Retry, log))
//
// Only transport failures with a retryable status (network errors, 408, 429, 5xx)
// are retried by DefaultRetryIf. Authentication, configuration and malformed
// response errors fail immediately.
package retry

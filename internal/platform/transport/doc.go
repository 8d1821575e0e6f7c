// Package transport builds the retrying HTTP client used by every platform client.
//
// Transient failures (network errors and 5xx other than 501) are retried with
// bounded exponential backoff. Throttling responses pass through unchanged so the
// ratelimit gate can suspend all workers at once.
package transport

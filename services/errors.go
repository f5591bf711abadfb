// services/errors.go
package services

import (
	"errors"
)

// Pipeline error taxonomy. Callers dispatch with errors.Is; everything else
// wraps one of these so per-game failures stay isolated from the run.
var (
	// ErrAuthExpired — upstream rejected the credential (401/403). Fatal for
	// the whole run, surfaced so the operator can refresh the cookie.
	ErrAuthExpired = errors.New("upstream auth expired")

	// ErrUpstreamUnavailable — network failure or 5xx/429. Retryable; the
	// affected game is deferred to the next run.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrGameNotFound — the game expired or was removed upstream (404).
	// Permanently skippable, recorded so it is not retried.
	ErrGameNotFound = errors.New("game not found upstream")

	// ErrMalformedResponse — payload violates the expected schema. Logged,
	// the game is skipped for this run, the run continues.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrGeocodeUnresolved — reverse geocoding exhausted its retries. The
	// location is persisted with its coordinate only, never dropped.
	ErrGeocodeUnresolved = errors.New("geocode unresolved")
)

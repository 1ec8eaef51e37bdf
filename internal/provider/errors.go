package provider

import "errors"

// Classified provider failures. Callers branch on these with errors.Is; the
// wrapped error carries position/status detail.
var (
	// ErrRateLimited marks an explicit rate-limit signal (429) that
	// survived all retries.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProviderUnavailable marks timeouts, transport failures and 5xx
	// responses that survived all retries.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidInput marks caller errors (empty input text, 4xx other
	// than 429). Never retried.
	ErrInvalidInput = errors.New("invalid provider input")
)

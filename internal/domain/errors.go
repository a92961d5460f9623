package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrBreakerOpen    = errors.New("circuit breaker open")
	ErrRiskLimit      = errors.New("risk limit reached")
	ErrBaselineSet    = errors.New("baseline already captured")
	ErrNotTracked     = errors.New("market not tracked")
	ErrStreamTerminal = errors.New("stream reconnect attempts exhausted")
	ErrStreamStale    = errors.New("stream connection stale")
	ErrMissingCreds   = errors.New("missing required credentials")
)

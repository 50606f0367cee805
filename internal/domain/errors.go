package domain

import "errors"

var (
	// ErrRateLimited marks an upstream rate-limit condition. Retry loops
	// must fail fast on it instead of burning remaining attempts.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidOwnersResponse is returned when the indexing service
	// answers with something that is not a list of owners.
	ErrInvalidOwnersResponse = errors.New("invalid owners response")

	// ErrUnknownContract is returned for contract keys absent from the registry.
	ErrUnknownContract = errors.New("unknown contract")

	// ErrContractDisabled is returned for contracts present but disabled.
	ErrContractDisabled = errors.New("contract disabled")

	// ErrValidationFailed marks a holder set that violates the output
	// invariants. A run ending here must not overwrite the previous cache.
	ErrValidationFailed = errors.New("holder validation failed")
)

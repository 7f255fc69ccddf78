package domain

import "errors"

var (
	// ErrStorageUnavailable wraps cache backend failures. Callers treat it as a miss.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrExternalService wraps completion service failures and unusable responses.
	ErrExternalService = errors.New("external service error")

	// ErrServiceOpen is returned while the completion circuit breaker is open.
	ErrServiceOpen = errors.New("external service circuit open")
)

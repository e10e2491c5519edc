package ai

import "errors"

var (
	// ErrQuotaExceeded means the provider refused the call for rate or billing limits.
	ErrQuotaExceeded = errors.New("ai quota exceeded")
	// ErrEmptyCompletion means the provider answered without any text.
	ErrEmptyCompletion = errors.New("ai returned an empty completion")
)

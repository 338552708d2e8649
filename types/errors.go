package types

import "errors"

var (
	// ErrInvalidEmail is returned when the email is invalid
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrConflict is returned when the resource conflicts (e.g. unique constraint or stale update)
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when the requested resource (form, submission, delivery) doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed requests
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited is returned when the client exceeded its request window
	ErrRateLimited = errors.New("rate limited")

	// ErrForbiddenOrigin is returned when the form doesn't accept posts from the request origin
	ErrForbiddenOrigin = errors.New("origin not allowed")

	// ErrUpstream wraps email provider failures that must be surfaced to the submitter
	ErrUpstream = errors.New("upstream dependency failure")

	// ErrTokenNotFound is returned for unknown, expired, stale or malformed verification tokens
	ErrTokenNotFound = errors.New("verification token not found")

	// ErrHashCollision is returned when two different emails produce the same routing hash
	ErrHashCollision = errors.New("email hash collision")
)

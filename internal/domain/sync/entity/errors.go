package entity

import "errors"

// Domain errors for conversation synchronization
var (
	ErrUnauthorized  = errors.New("invalid or missing identity token")
	ErrForbidden     = errors.New("caller does not own this child")
	ErrNoCredentials = errors.New("child has no provider credentials yet")
	ErrRateLimited   = errors.New("provider rate limit exceeded")
)

package models

import "errors"

// Errors surfaced to callers before a request is acknowledged. Everything that
// happens asynchronously afterwards is recorded on events instead.
var (
	ErrRateLimit     = errors.New("rate limit reached")
	ErrMalformedPing = errors.New("malformed ping")
	ErrNotFound      = errors.New("not found")
	ErrInvalidQuery  = errors.New("invalid query")
)

package model

import "errors"

// Sentinel errors shared across the ingestion, query and API layers.
// Callers match them with errors.Is; the API layer maps them to HTTP
// status codes.
var (
	// ErrInvalidPath rejects an ingest whose path is empty or does not
	// start with "/". Not retryable without modification.
	ErrInvalidPath = errors.New("path must be non-empty and start with /")

	// ErrInvalidTimestamp rejects an ingest whose supplied timestamp
	// does not parse to a valid instant.
	ErrInvalidTimestamp = errors.New("timestamp is not a valid instant")

	// ErrRateLimited tells the caller to back off.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnauthorized means no usable credentials were presented.
	ErrUnauthorized = errors.New("missing or malformed bearer token")

	// ErrForbidden means the presented identity is not on the allow-list.
	ErrForbidden = errors.New("caller is not authorized")

	// ErrTransientStore wraps a store conflict or I/O failure that
	// survived the internal retry policy.
	ErrTransientStore = errors.New("transient store failure")

	// ErrConfiguration marks configuration that must fail closed,
	// e.g. an empty query allow-list.
	ErrConfiguration = errors.New("invalid configuration")
)

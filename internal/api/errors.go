package api

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the server reports 404 for an entity.
// Deletes treat it as success; upserts fall back to create.
var ErrNotFound = errors.New("api: not found")

// ConflictError is the 409 outcome of an update: the server holds a
// diverged version of the entity. It is a first-class sync outcome, not a
// failure, and is never retried as-is.
type ConflictError struct {
	Collection string
	EntityID   string
	Server     map[string]any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("api: conflict on %s/%s", e.Collection, e.EntityID)
}

// RemoteError is a non-2xx, non-409 response. 5xx responses are retryable;
// other 4xx indicate a malformed request that retries cannot fix.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("api: remote rejected with status %d", e.Status)
}

// Retryable reports whether the failure is worth another attempt.
func (e *RemoteError) Retryable() bool {
	return e.Status >= 500
}

// IsRetryable classifies an error from a client call for the engine's
// retry/backoff path. Transport failures and timeouts are retryable;
// conflicts and 4xx rejections are not.
func IsRetryable(err error) bool {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Retryable()
	}
	return err != nil
}

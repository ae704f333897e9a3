package activitypub

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrMalformed: the payload cannot be parsed or violates the protocol.
	ErrMalformed = errors.New("malformed activity")
	// ErrUnauthorized: signature, digest or domain check failed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBlocked: the URL policy forbids talking to the other side.
	ErrBlocked = errors.New("blocked by url policy")
	// ErrResolution: a remote object could not be fetched right now.
	ErrResolution = errors.New("object resolution failed")
	ErrFetchLimit = errors.New("fetch limit exceeded")
	// ErrObjectDeleted: the remote answered 410 or with a Tombstone.
	ErrObjectDeleted = errors.New("object was deleted")
	ErrTypeMismatch  = errors.New("object has unexpected type")
	ErrNotFound      = errors.New("object not found")
	// ErrRejected: the activity is well formed but not allowed.
	ErrRejected = errors.New("activity rejected")
)

// StatusCode maps an inbox error to the HTTP status returned to the sender.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, ErrRejected),
		errors.Is(err, ErrFetchLimit),
		errors.Is(err, ErrObjectDeleted),
		errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrResolution), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

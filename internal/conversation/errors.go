package conversation

import (
	"errors"
	"net/http"
)

// Sentinel errors for the access-check taxonomy. Stream adapters translate
// these into HTTP status codes before upgrading a connection; once upgraded,
// no status can be returned and failures degrade to log-and-continue or
// log-and-terminate.
var (
	// ErrUnauthorized indicates a bad or missing session API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")
	// ErrRuntimeUnavailable indicates the backing store or runtime could
	// not be reached.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")
)

// ErrorKind classifies an access-check failure. Adapters switch over the
// kind explicitly so the upgrade decision is a pure function of the result
// rather than of exception propagation.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnauthorized
	KindNotFound
	KindRuntimeUnavailable
	KindInternal
)

// KindOf maps an error to its kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRuntimeUnavailable):
		return KindRuntimeUnavailable
	default:
		return KindInternal
	}
}

// StatusForKind returns the HTTP status for a pre-upgrade failure.
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindNone:
		return http.StatusOK
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRuntimeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

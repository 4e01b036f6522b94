// Package apperr classifies failures of the ingest and answer operations into
// a small set of kinds so the HTTP layer can report them uniformly and callers
// can tell retryable conditions from terminal ones.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of a failure.
type Kind string

const (
	// KindInvalidInput means the request itself was malformed.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound means the referenced document has never been ingested.
	KindNotFound Kind = "not_found"
	// KindExtraction means the uploaded file could not be parsed.
	KindExtraction Kind = "extraction_failure"
	// KindUpstream means the embedding or generation service failed.
	KindUpstream Kind = "upstream_failure"
	// KindInternal covers I/O errors and anything not otherwise classified.
	KindInternal Kind = "internal"
)

// ErrNotFound is the sentinel wrapped by every not-found failure.
var ErrNotFound = errors.New("document not found")

// Error is a classified failure. Op names the operation that failed
// (e.g. "ingest", "answer") and Err carries the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is shorthand for New(kind, op, fmt.Errorf(format, args...)).
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost *Error in err's chain. Errors that
// wrap ErrNotFound without a classification are reported as KindNotFound;
// everything else unclassified is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// Retryable reports whether a failure of kind k may succeed if repeated.
func Retryable(k Kind) bool {
	return k == KindUpstream
}

// HTTPStatus maps a kind to the status code written by the server.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExtraction:
		return http.StatusUnprocessableEntity
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Package apperr defines the error taxonomy shared by ingestion, search and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindParentNotFound    Kind = "parent_not_found"
	KindSourceUnavailable Kind = "source_unavailable"
	KindExtractionFailed  Kind = "extraction_failed"
	KindStoreFailure      Kind = "store_failure"
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrParentNotFound    = &Error{Kind: KindParentNotFound}
	ErrSourceUnavailable = &Error{Kind: KindSourceUnavailable}
	ErrExtractionFailed  = &Error{Kind: KindExtractionFailed}
	ErrStoreFailure      = &Error{Kind: KindStoreFailure}
)

// Error is a classified failure. The underlying cause is available via errors.Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of kind k with a formatted message.
func New(k Kind, op string, format string, args ...any) error {
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind k. A nil err yields nil. An err that is already classified keeps
// its original kind.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// InvalidRequest returns a KindInvalidRequest error.
func InvalidRequest(op, format string, args ...any) error {
	return New(KindInvalidRequest, op, format, args...)
}

// KindOf returns the kind of err. Unclassified errors are store failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindStoreFailure
}

// HTTPStatus maps a kind to the status code returned by the service boundary.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindParentNotFound:
		return http.StatusNotFound
	case KindSourceUnavailable:
		return http.StatusBadGateway
	case KindExtractionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Package apperr defines the error kinds shared by the domain packages.
// Domain sentinels wrap exactly one kind so transports can classify them
// with errors.Is without knowing every domain error.
package apperr

import "errors"

var (
	ErrValidation = errors.New("validation_error")
	ErrNotFound   = errors.New("not_found")
	ErrGateway    = errors.New("gateway_error")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal_error")
	ErrForbidden  = errors.New("forbidden")
)

type codedError struct {
	kind error
	code string
}

func (e *codedError) Error() string { return e.code }

func (e *codedError) Unwrap() error { return e.kind }

// New returns a sentinel whose message is code and which matches kind.
func New(kind error, code string) error {
	return &codedError{kind: kind, code: code}
}

func Validation(code string) error { return New(ErrValidation, code) }

func NotFound(code string) error { return New(ErrNotFound, code) }

func Conflict(code string) error { return New(ErrConflict, code) }

func Gateway(code string) error { return New(ErrGateway, code) }

func Forbidden(code string) error { return New(ErrForbidden, code) }

// Kind reports which error kind err belongs to, defaulting to ErrInternal.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrGateway, ErrForbidden} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// Retryable reports whether a later reconciliation path may succeed.
func Retryable(err error) bool {
	switch Kind(err) {
	case ErrGateway, ErrInternal:
		return err != nil
	default:
		return false
	}
}

// Code returns the sentinel code carried by err, or "" for foreign errors.
func Code(err error) string {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

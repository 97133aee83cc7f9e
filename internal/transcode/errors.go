package transcode

import (
	"errors"
	"fmt"

	"resonate/internal/services"
)

// ErrorKind classifies a transcode failure.
type ErrorKind string

const (
	DecodeFailure     ErrorKind = services.KindDecodeFailure
	UnsupportedFormat ErrorKind = services.KindUnsupportedFormat
	OversizeInput     ErrorKind = services.KindOversizeInput
)

// Error reports why a variant could not be produced.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind satisfies services.ErrorClassifier.
func (e *Error) ErrorKind() string { return string(e.Kind) }

// KindOf returns the transcode error kind wrapped in err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

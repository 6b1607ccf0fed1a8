package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors the bus and its collaborators raise. Use errors.Is to
// test for these across a wrapped chain, and CodeOf to recover the Code.
// ErrUnknownEventType wraps ErrValidation, so errors.Is(err, ErrValidation)
// also matches an unknown event type.
var (
	ErrValidation       = errors.New("errs: validation failed")
	ErrUnknownEventType = fmt.Errorf("errs: unknown event_type: %w", ErrValidation)
	ErrLocked           = errors.New("errs: backlog item locked")
	ErrGroupExists      = errors.New("errs: consumer group exists")
)

type codedError struct {
	code Code
	base error
	msg  string
}

func (e *codedError) Error() string {
	if e.msg == "" {
		return e.base.Error()
	}
	return fmt.Sprintf("%s: %s", e.base.Error(), e.msg)
}

func (e *codedError) Unwrap() error { return e.base }

// Wrap attaches a Code and a detail message to one of the sentinel errors
// above, producing an error that satisfies errors.Is(err, base) and that
// CodeOf can classify.
func Wrap(code Code, base error, detail string) error {
	return &codedError{code: code, base: base, msg: detail}
}

// CodeOf recovers the Code attached by Wrap, if any, by walking the
// unwrap chain.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if ce, ok := err.(*codedError); ok {
			return ce.code, true
		}
		err = errors.Unwrap(err)
	}
	return "", false
}

package message

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMessageKind    = errors.New("unknown message kind")
	ErrPayloadHeaderMismatch = errors.New("payload does not match headers")
)

// DecodeError marks a message that can never be decoded, whoever receives it.
type DecodeError struct {
	error
}

func NewDecodeError(format string, args ...any) *DecodeError {
	return &DecodeError{fmt.Errorf(format, args...)}
}

func (e *DecodeError) Unwrap() error {
	return e.error
}

// IsPoison reports whether err describes a message that redelivery cannot fix.
func IsPoison(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr) || errors.Is(err, ErrPayloadHeaderMismatch)
}

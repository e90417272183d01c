package mail

import (
	"errors"
	"io"
)

var (
	ErrMalformedBoundary = errors.New("mail: malformed multipart boundary")
	ErrMalformedHeaders  = errors.New("mail: malformed part headers")
	ErrHeaderTooLarge    = errors.New("mail: part header block too large")
	ErrTruncatedBody     = errors.New("mail: multipart body truncated")
	ErrPartLimitExceeded = errors.New("mail: multipart limit exceeded")
	ErrClosed            = errors.New("mail: part reader closed")
)

// IOError wraps error returned by underlying stream.
type IOError struct {
	Err error
}

func (e *IOError) Error() string {
	return "mail: read error: " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsClientError tells whether err was caused by malformed or oversized
// input, as opposed to failure of the transport.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedBoundary) ||
		errors.Is(err, ErrMalformedHeaders) ||
		errors.Is(err, ErrHeaderTooLarge) ||
		errors.Is(err, ErrTruncatedBody) ||
		errors.Is(err, ErrPartLimitExceeded)
}

func wrapIOError(e error) error {
	if e == io.EOF {
		return ErrTruncatedBody
	}
	return &IOError{Err: e}
}

package formhandler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"partsrv/lib/mail"
	"partsrv/lib/mail/form"
)

var (
	ErrNotMultipart     = errors.New("request body is not multipart/form-data")
	ErrNoBoundary       = errors.New("multipart/form-data without boundary")
	ErrRequestTooLarge  = errors.New("request body too large")
	errBadContentType   = errors.New("failed to parse content type")
	errSubmissionAbsent = errors.New("no such submission")
)

// BoundaryFromRequest extracts boundary parameter of multipart/form-data request.
func BoundaryFromRequest(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return "", ErrNotMultipart
	}
	mt, param, e := mime.ParseMediaType(ct)
	if e != nil {
		return "", fmt.Errorf("%w: %v", errBadContentType, e)
	}
	if mt != "multipart/form-data" {
		return "", fmt.Errorf("%w: got %q", ErrNotMultipart, mt)
	}
	b := param["boundary"]
	if b == "" {
		return "", ErrNoBoundary
	}
	return b, nil
}

// StatusForError picks HTTP status code for error returned
// while processing request body.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRequestTooLarge) || form.IsLimitError(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNotMultipart) || errors.Is(err, form.ErrFileTypeRejected):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errSubmissionAbsent):
		return http.StatusNotFound
	case errors.Is(err, ErrNoBoundary) || errors.Is(err, errBadContentType) ||
		mail.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// limitedBody fails with ErrRequestTooLarge once more than n bytes were read.
type limitedBody struct {
	r io.Reader
	n int64
}

func limitBody(r io.Reader, n int64) io.Reader {
	if n <= 0 {
		return r
	}
	return &limitedBody{r: r, n: n}
}

func (l *limitedBody) Read(b []byte) (int, error) {
	if l.n <= 0 {
		// something still left?
		var x [1]byte
		n, e := l.r.Read(x[:])
		if n != 0 {
			return 0, ErrRequestTooLarge
		}
		return 0, e
	}
	if int64(len(b)) > l.n {
		b = b[:l.n]
	}
	n, e := l.r.Read(b)
	l.n -= int64(n)
	return n, e
}

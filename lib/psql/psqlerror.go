package psql

import (
	"runtime/debug"

	"github.com/lib/pq"
	"golang.org/x/xerrors"

	. "partsrv/lib/utils/logx"
)

// SQLError logs and formats error message. if l is nil it doesn't log.
func SQLError(l Logger, when string, err error) error {
	werr := xerrors.Errorf("error on %s: %w", when, err)
	if l != nil {
		l.LogPrint(ERROR, werr.Error())
		w := NewWriteToLog(l, ERROR)
		w.Write(debug.Stack())
		w.Close()
	}
	return werr
}

func (s PSQL) sqlError(when string, err error) error {
	return SQLError(s.log, when, err)
}

// RetriableError indicates that transaction may succeed if repeated.
type RetriableError struct {
	error
}

func (x RetriableError) Unwrap() error { return x.error }

// ClassifyError wraps serialization failures and deadlocks
// into RetriableError and logs everything else.
func ClassifyError(l Logger, when string, err error) error {
	if pqerr, _ := err.(*pq.Error); pqerr != nil {
		switch pqerr.Code {
		case "40001" /* serialization_failure */ :
			err = RetriableError{err}
		case "40P01" /* deadlock_detected */ :
			err = RetriableError{err}
		default:
			return SQLError(l, when, err)
		}
		// do not log backtrace if we hit expected retriable error
		return SQLError(nil, when, err)
	}
	return SQLError(l, when, err)
}

// IsDuplicate tells whether err is unique constraint violation.
func IsDuplicate(err error) bool {
	var pqerr *pq.Error
	return xerrors.As(err, &pqerr) && pqerr.Code == "23505"
}

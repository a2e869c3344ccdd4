// Package errs defines the failure kinds of the sync pipeline.
//
// Every boundary call (ledger, source database, object store, mail transport)
// is converted into an *Error carrying one of the Err* kinds below, so callers
// can decide abort-vs-skip with errors.Is while the underlying cause stays
// reachable for logging.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable means the local ledger could not be opened or queried.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageWrite means a ledger write failed for a reason other than a duplicate id.
	ErrStorageWrite = errors.New("storage write error")
	// ErrDuplicateEntry means the ledger already holds an entry for the id.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrSourceUnavailable means the remote applicant dataset could not be read.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrDownload means an artifact could not be fetched or persisted locally.
	ErrDownload = errors.New("download error")
	// ErrDispatch means the notification message could not be built or delivered.
	ErrDispatch = errors.New("dispatch error")
)

// Error is a pipeline failure with the stage that produced it.
type Error struct {
	// Kind is one of the Err* sentinels of this package.
	Kind error

	// Op is the operation that failed (e.g. "ledger.record", "source.query").
	Op string

	// ApplicantID identifies the record being processed, if any.
	ApplicantID string

	// Err is the underlying cause.
	Err error
}

// New creates an Error of the given kind.
func New(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithApplicant adds applicant context to the error.
func (e *Error) WithApplicant(id string) *Error {
	e.ApplicantID = id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.ApplicantID != "" {
		msg = fmt.Sprintf("%s [applicant %s]: %v", e.Op, e.ApplicantID, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the pipeline kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, k := range []error{
		ErrDuplicateEntry,
		ErrStorageUnavailable,
		ErrStorageWrite,
		ErrSourceUnavailable,
		ErrDownload,
		ErrDispatch,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

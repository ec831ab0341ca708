// Package apierr classifies errors into the kinds the ingestion core's
// consumers and API boundary need to distinguish: which ones a queue
// consumer must rethrow for broker redelivery, which ones just mark a
// child row FAILED, and which ones map to which HTTP status.
//
// It deliberately does not depend on net/http: the core stays transport
// agnostic, and the HTTP status mapping lives at the boundary, in
// internal/api's writeError.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy entries from spec.md §7.
type Kind string

const (
	// KindValidation covers bad input, unsupported file types, and
	// invalid multipart parts. Recovered locally by persisting an
	// IGNORED child row; never retried.
	KindValidation Kind = "VALIDATION"

	// KindDuplicate covers a unique-index violation on the dedup key.
	// Always recovered by findWinner; never surfaced to a caller.
	KindDuplicate Kind = "DUPLICATE"

	// KindTerminalZip covers ZipException, the bulk-layout rule, and
	// other structural ZIP errors. The owning ZipMaster moves to
	// EXTRACTION_FAILED and the parent Job follows via C10. Not
	// retried by the broker.
	KindTerminalZip Kind = "TERMINAL_ZIP"

	// KindTerminalFile covers a handler-raised or persistent conversion
	// failure. The owning File moves to FAILED and the parent Job
	// follows via C10. Not retried; a user may re-drive via retry.
	KindTerminalFile Kind = "TERMINAL_FILE"

	// KindTransient covers I/O errors, storage 5xx, GX 5xx, and
	// interruption. Must be rethrown so the broker redelivers per its
	// own backoff and eventual DLQ.
	KindTransient Kind = "TRANSIENT"

	// KindDownstream covers bad gateway / unavailable / gateway timeout
	// from a downstream dependency. Treated the same as Transient by a
	// queue consumer; distinguished only at the API boundary.
	KindDownstream Kind = "DOWNSTREAM"

	// KindConflict covers termination of an already-terminal job or a
	// retry request against a non-failed task. No state change occurs.
	KindConflict Kind = "CONFLICT"
)

// Retryable reports whether a broker consumer should rethrow this kind so
// the message is redelivered, rather than recording a terminal outcome.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindDownstream
}

// Error wraps an underlying error with a classification kind and an
// optional remark suitable for a child row's errorMessage column.
type Error struct {
	Kind   Kind
	Remark string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Remark, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Remark)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, remark string, cause error) *Error {
	return &Error{Kind: kind, Remark: remark, Err: cause}
}

// Validation builds a KindValidation error.
func Validation(remark string, cause error) *Error { return New(KindValidation, remark, cause) }

// TerminalZip builds a KindTerminalZip error.
func TerminalZip(remark string, cause error) *Error { return New(KindTerminalZip, remark, cause) }

// TerminalFile builds a KindTerminalFile error.
func TerminalFile(remark string, cause error) *Error { return New(KindTerminalFile, remark, cause) }

// Transient builds a KindTransient error.
func Transient(remark string, cause error) *Error { return New(KindTransient, remark, cause) }

// Downstream builds a KindDownstream error.
func Downstream(remark string, cause error) *Error { return New(KindDownstream, remark, cause) }

// Conflict builds a KindConflict error.
func Conflict(remark string, cause error) *Error { return New(KindConflict, remark, cause) }

// As extracts the *Error from err, if any, following the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the classified Kind of err, defaulting to KindTransient
// for an unclassified error so an unexpected failure is retried rather
// than silently swallowed.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindTransient
}

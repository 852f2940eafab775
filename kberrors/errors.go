// Package kberrors defines the error taxonomy shared by every layer of the
// knowledge-base engine: the object store, the sharded index, and the
// topic store. Every failure mode a caller needs to distinguish is
// represented as a distinct Code so that callers can use errors.Is against
// the exported sentinels instead of matching on message text.
package kberrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a failure.
type Code string

const (
	// NotFound means no object exists at the given path, or the topic_id
	// is unknown.
	NotFound Code = "not_found"

	// Conflict means an ETag-guarded write was rejected because the
	// current ETag did not match the caller's expectation. Error.Etag
	// carries the object's current ETag so the caller can retry.
	Conflict Code = "conflict"

	// LockHeld means a non-waiting acquire_lock call found the lock
	// already held by someone else.
	LockHeld Code = "lock_held"

	// LockMismatch means release_lock or force_unlock was called with a
	// lock_id that does not match the lock currently on disk.
	LockMismatch Code = "lock_mismatch"

	// Timeout means a waiting lock acquisition exceeded its wait_ttl.
	Timeout Code = "timeout"

	// SchemaError means JSON content could not be parsed, or was missing
	// a field required by the record's schema.
	SchemaError Code = "schema_error"

	// IOError wraps an underlying storage failure not covered by a more
	// specific code.
	IOError Code = "io_error"

	// Unsupported means a document format or operation is not supported.
	// Surfaced by external ingest collaborators through this taxonomy.
	Unsupported Code = "unsupported"
)

// Error is the concrete error type returned by every package in this
// module. Callers distinguish failure classes with errors.Is against the
// sentinels below, or by inspecting Code directly after an errors.As.
type Error struct {
	Code    Code
	Message string

	// Etag carries the object's current ETag when Code == Conflict, so a
	// caller can retry the write with an up-to-date expected_etag.
	Etag string

	// Err is the underlying cause, if any (e.g. an *os.PathError).
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Code, which is what
// errors.Is(err, kberrors.ErrNotFound) relies on.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for use with errors.Is. They carry no message or cause; use the
// *f constructors below (NotFoundf, Conflictf, ...) to build a return value
// with context attached.
var (
	ErrNotFound     = &Error{Code: NotFound}
	ErrConflict     = &Error{Code: Conflict}
	ErrLockHeld     = &Error{Code: LockHeld}
	ErrLockMismatch = &Error{Code: LockMismatch}
	ErrTimeout      = &Error{Code: Timeout}
	ErrSchemaError  = &Error{Code: SchemaError}
	ErrIOError      = &Error{Code: IOError}
	ErrUnsupported  = &Error{Code: Unsupported}
)

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Code: NotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(etag string, format string, args ...interface{}) *Error {
	return &Error{Code: Conflict, Etag: etag, Message: fmt.Sprintf(format, args...)}
}

func LockHeldf(format string, args ...interface{}) *Error {
	return &Error{Code: LockHeld, Message: fmt.Sprintf(format, args...)}
}

func LockMismatchf(format string, args ...interface{}) *Error {
	return &Error{Code: LockMismatch, Message: fmt.Sprintf(format, args...)}
}

func Timeoutf(format string, args ...interface{}) *Error {
	return &Error{Code: Timeout, Message: fmt.Sprintf(format, args...)}
}

func SchemaErrorf(err error, format string, args ...interface{}) *Error {
	return &Error{Code: SchemaError, Message: fmt.Sprintf(format, args...), Err: err}
}

func IOErrorf(err error, format string, args ...interface{}) *Error {
	return &Error{Code: IOError, Message: fmt.Sprintf(format, args...), Err: err}
}

func Unsupportedf(format string, args ...interface{}) *Error {
	return &Error{Code: Unsupported, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, and ok
// reports whether one was found.
func CodeOf(err error) (code Code, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsLockHeld reports whether err is a LockHeld error.
func IsLockHeld(err error) bool { return errors.Is(err, ErrLockHeld) }

// IsLockMismatch reports whether err is a LockMismatch error.
func IsLockMismatch(err error) bool { return errors.Is(err, ErrLockMismatch) }

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

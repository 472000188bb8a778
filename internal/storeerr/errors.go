// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package storeerr defines the typed error kinds shared by the entry
// store, the two store backends, the overlay database, and the declare
// pipeline.
package storeerr

import "fmt"

// Code enumerates the error kinds a store or database operation may fail
// with.
type Code int

const (
	// InternalErr indicates an unknown, internal error occurred.
	InternalErr Code = iota

	// NotFoundErr indicates a requested product, version, tag, or identity
	// is absent. Read paths should prefer returning an absent result over
	// this error; it is reserved for operations where absence is itself
	// the failure (e.g. no table can be found for a product being added to
	// the dependency graph).
	NotFoundErr

	// ConflictErr indicates a declare batch collided with an existing
	// (product, version), (tag, product), or (product, identity) tuple.
	ConflictErr

	// MalformedPathErr indicates a supplied path does not resolve to a
	// valid store location.
	MalformedPathErr

	// NoWritableStoreErr indicates declare could not find any writable
	// backend.
	NoWritableStoreErr

	// MultipleWritableStoresErr indicates declare found more than one
	// writable backend and no explicit target was given.
	MultipleWritableStoresErr

	// NoSuchStoreErr indicates an explicitly named target backend does
	// not exist in the database.
	NoSuchStoreErr

	// SerializationErr indicates the single-file store's structured
	// document failed to encode or decode.
	SerializationErr

	// IoErr indicates a filesystem error during read, scan, or write.
	IoErr
)

func (c Code) String() string {
	switch c {
	case NotFoundErr:
		return "not_found"
	case ConflictErr:
		return "conflict"
	case MalformedPathErr:
		return "malformed_path"
	case NoWritableStoreErr:
		return "no_writable_store"
	case MultipleWritableStoresErr:
		return "multiple_writable_stores"
	case NoSuchStoreErr:
		return "no_such_store"
	case SerializationErr:
		return "serialization_failure"
	case IoErr:
		return "io_failure"
	default:
		return "internal"
	}
}

// Error is the error type returned by store and database operations.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (err *Error) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("reups store error (%s): %s: %v", err.Code, err.Message, err.Cause)
	}
	return fmt.Sprintf("reups store error (%s): %s", err.Code, err.Message)
}

func (err *Error) Unwrap() error {
	return err.Cause
}

func newError(code Code, cause error, format string, a ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...), Cause: cause}
}

// NotFound builds a NotFoundErr.
func NotFound(format string, a ...interface{}) *Error {
	return newError(NotFoundErr, nil, format, a...)
}

// Conflict builds a ConflictErr.
func Conflict(format string, a ...interface{}) *Error {
	return newError(ConflictErr, nil, format, a...)
}

// MalformedPath builds a MalformedPathErr.
func MalformedPath(format string, a ...interface{}) *Error {
	return newError(MalformedPathErr, nil, format, a...)
}

// NoWritableStore builds a NoWritableStoreErr.
func NoWritableStore(format string, a ...interface{}) *Error {
	return newError(NoWritableStoreErr, nil, format, a...)
}

// MultipleWritableStores builds a MultipleWritableStoresErr.
func MultipleWritableStores(format string, a ...interface{}) *Error {
	return newError(MultipleWritableStoresErr, nil, format, a...)
}

// NoSuchStore builds a NoSuchStoreErr.
func NoSuchStore(format string, a ...interface{}) *Error {
	return newError(NoSuchStoreErr, nil, format, a...)
}

// Serialization wraps a marshal/unmarshal failure of the single-file store.
func Serialization(cause error, format string, a ...interface{}) *Error {
	return newError(SerializationErr, cause, format, a...)
}

// Io wraps a filesystem error.
func Io(cause error, format string, a ...interface{}) *Error {
	return newError(IoErr, cause, format, a...)
}

// Internal builds an InternalErr, for invariant violations that should
// never be reachable through documented API usage.
func Internal(format string, a ...interface{}) *Error {
	return newError(InternalErr, nil, format, a...)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Code == code
}

// IsNotFound returns true if err is a NotFoundErr.
func IsNotFound(err error) bool { return Is(err, NotFoundErr) }

// IsConflict returns true if err is a ConflictErr.
func IsConflict(err error) bool { return Is(err, ConflictErr) }

// Package orcherr defines the semantic error kinds the orchestrator control
// plane surfaces to its callers, so a REST or CLI adapter built on top of
// the facade can map failures to the right status code without string
// matching.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the control plane's operations can
// fail with.
type Kind string

const (
	// KindNotFound means the referenced Job/Execution/Pool/Worker/Artifact
	// does not exist.
	KindNotFound Kind = "not_found"
	// KindInvalidArgument means the request itself is malformed.
	KindInvalidArgument Kind = "invalid_argument"
	// KindConflict means the operation would violate a uniqueness or
	// state-transition invariant.
	KindConflict Kind = "conflict"
	// KindQuotaExceeded means a QuotaPolicy with ENFORCE rejected the
	// request.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindCapacityUnavailable means no Pool/Worker currently has room.
	KindCapacityUnavailable Kind = "capacity_unavailable"
	// KindUnauthenticated means the caller's session token or client
	// certificate did not validate.
	KindUnauthenticated Kind = "unauthenticated"
	// KindUnavailable means a dependency (storage, raft leadership) is
	// temporarily down.
	KindUnavailable Kind = "unavailable"
	// KindCorruptArtifact means a reassembled artifact failed its digest
	// check.
	KindCorruptArtifact Kind = "corrupt_artifact"
	// KindTimeout means an operation exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindCancelled means the caller cancelled the operation.
	KindCancelled Kind = "cancelled"
	// KindInternal is an unexpected failure with no more specific kind.
	KindInternal Kind = "internal"
)

// Error is a control-plane error carrying a semantic Kind alongside the
// usual message and cause chain.
type Error struct {
	Kind    Kind
	Message string
	TraceID string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// carries no *Error in its chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

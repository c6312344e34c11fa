package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind is the stable semantic classification of a store failure.
type Kind string

const (
	// KindPermissionDenied indicates the store rejected the caller's credentials or rules.
	KindPermissionDenied Kind = "permission_denied"
	// KindNotFound indicates a referenced document does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict indicates a transient transaction conflict (retriable by the store).
	KindConflict Kind = "conflict"
	// KindUnreachable indicates the store could not be reached.
	KindUnreachable Kind = "unreachable"
	// KindUnknown covers failures with no stable classification.
	KindUnknown Kind = "unknown"
)

// Phase locates a failure relative to the transaction commit point.
type Phase string

const (
	// PhasePreCommit marks failures raised before the transaction durably applied.
	PhasePreCommit Phase = "pre_commit"
	// PhasePostCommit marks failures reported after the write already committed.
	PhasePostCommit Phase = "post_commit"
)

// Error is the structured failure emitted at the store boundary. Callers classify
// by Kind and Phase, never by message text.
type Error struct {
	Kind  Kind
	Phase Phase
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("store: %s (%s)", e.Kind, e.Phase)
	}
	return fmt.Sprintf("store: %s (%s): %v", e.Kind, e.Phase, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError wraps cause with an explicit kind and phase.
func NewError(kind Kind, phase Phase, cause error) *Error {
	if kind == "" {
		kind = KindUnknown
	}
	if phase == "" {
		phase = PhasePreCommit
	}
	return &Error{Kind: kind, Phase: phase, cause: cause}
}

// KindOf extracts the semantic kind from err, classifying raw driver errors
// when no structured Error is present.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return classifyRaw(err)
}

// PhaseOf extracts the commit phase from err, defaulting to pre-commit.
func PhaseOf(err error) Phase {
	if err == nil {
		return ""
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Phase
	}
	return PhasePreCommit
}

// IsSuppressedCommitDenial reports whether err is a permission denial raised
// after the transaction already committed. Such errors describe a successful
// write and must not be surfaced to callers.
func IsSuppressedCommitDenial(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindPermissionDenied && PhaseOf(err) == PhasePostCommit
}

// Classify normalizes err into a structured *Error, preserving an existing one.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	return NewError(classifyRaw(err), PhasePreCommit, err)
}

func classifyRaw(err error) Kind {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindUnreachable
	case isBusy(err):
		return KindConflict
	default:
		return KindUnknown
	}
}

// isBusy recognizes sqlite lock contention, which the driver reports without a
// sentinel value. This is the one place the adapter reads driver text; nothing
// above this boundary does.
func isBusy(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") || strings.Contains(message, "sqlite_busy")
}

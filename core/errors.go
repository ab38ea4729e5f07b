package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of failure categories a core operation can
// return. Callers that need to branch on failure class should compare
// against these values via errors.Is / CoreError.Kind rather than matching
// on error strings.
type ErrorKind string

const (
	ErrUnauthorizedSender      ErrorKind = "UnauthorizedSender"
	ErrInvalidSignature        ErrorKind = "InvalidSignature"
	ErrReplayDetected          ErrorKind = "ReplayDetected"
	ErrTimestampOutOfWindow    ErrorKind = "TimestampOutOfWindow"
	ErrNonCanonicalEncoding    ErrorKind = "NonCanonicalEncoding"
	ErrParentNotFound          ErrorKind = "ParentNotFound"
	ErrBlockExists             ErrorKind = "BlockExists"
	ErrDataCorruption          ErrorKind = "DataCorruption"
	ErrDiskFull                ErrorKind = "DiskFull"
	ErrInvalidFinalization     ErrorKind = "InvalidFinalization"
	ErrGenesisImmutable        ErrorKind = "GenesisImmutable"
	ErrAssemblyTimeout         ErrorKind = "AssemblyTimeout"
	ErrCycleDetected           ErrorKind = "CycleDetected"
	ErrInsufficientAttestation ErrorKind = "InsufficientAttestations"
	ErrUnknownParent           ErrorKind = "UnknownParent"
	ErrInvalidHeight           ErrorKind = "InvalidHeight"
	ErrCheckpointNotFound      ErrorKind = "CheckpointNotFound"
	ErrSlashableOffense        ErrorKind = "SlashableOffenseDetected"
	ErrNodeUnhealthy           ErrorKind = "NodeUnhealthy"
	ErrInsufficientNodes       ErrorKind = "InsufficientNodes"
	ErrBatchTooLarge           ErrorKind = "BatchTooLarge"
	ErrBlockNotFound           ErrorKind = "BlockNotFound"
)

// CoreError wraps an ErrorKind with the underlying cause, so callers can
// branch on the kind while %w-chains still reach the root cause.
type CoreError struct {
	Kind ErrorKind
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, SomeKindSentinel) work against the Kind alone, by
// matching another *CoreError with an equal Kind.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// NewError builds a *CoreError, wrapping the message as a plain error when no
// underlying cause is available.
func NewError(kind ErrorKind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapError attaches kind to an existing error without discarding its chain.
func WrapError(kind ErrorKind, err error) *CoreError {
	if err == nil {
		return nil
	}
	return &CoreError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, if any, returning ok=false when err
// is not (or does not wrap) a *CoreError.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

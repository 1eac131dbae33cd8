// Package vaulterrors defines the error taxonomy shared by every layer of
// the vault engine, so callers can branch on Kind with errors.As instead of
// matching error strings.
package vaulterrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Values mirror the error categories a conforming
// vault engine reports to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingVault
	KindMissingRecord
	KindInvalidKey
	KindDecryption
	KindInvalidTransaction
	KindSnapshotKey
	KindSerialization
	KindIO
	KindClientDataNotPresent
	KindProcedure
	KindLockNotAvailable
	KindAlreadyExists
	KindInvalidInput
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindMissingVault:
		return "MissingVault"
	case KindMissingRecord:
		return "MissingRecord"
	case KindInvalidKey:
		return "InvalidKey"
	case KindDecryption:
		return "Decryption"
	case KindInvalidTransaction:
		return "InvalidTransaction"
	case KindSnapshotKey:
		return "SnapshotKey"
	case KindSerialization:
		return "SerializationFailure"
	case KindIO:
		return "Io"
	case KindClientDataNotPresent:
		return "ClientDataNotPresent"
	case KindProcedure:
		return "Procedure"
	case KindLockNotAvailable:
		return "LockNotAvailable"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotFound:
		return "NotFound"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind, in the teacher's
// fmt.Errorf("context: %w", err) wrapping style, but keeps the Kind queryable
// via errors.As instead of forcing callers to parse the message.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

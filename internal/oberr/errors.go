// Package oberr defines the error taxonomy shared by every engine
// subsystem. It mirrors the original OblivionError enum (io, serialization,
// corruption, key-not-found, recovery-failed, config) while staying an
// ordinary Go error so callers can still errors.Is/errors.As through it.
package oberr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way §7 of the spec requires.
type Kind int

const (
	KindIO Kind = iota
	KindSerialization
	KindCorruption
	KindKeyNotFound
	KindRecoveryFailed
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindCorruption:
		return "corruption"
	case KindKeyNotFound:
		return "key_not_found"
	case KindRecoveryFailed:
		return "recovery_failed"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the engine's tagged error type. The wrapped cause keeps a stack
// trace courtesy of github.com/pkg/errors so I/O failures surfaced to a
// caller still carry enough context to debug, without losing the ability
// to switch on Kind.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bare Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap attaches a stack-bearing cause to msg under kind. Returns nil if
// cause is nil, matching errors.Wrap's convention.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, cause: errors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Is lets errors.Is(err, oberr.ErrCorruption) style sentinels keep working
// by comparing Kind rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels usable with errors.Is for each Kind.
var (
	ErrIO             = New(KindIO, "io error")
	ErrSerialization  = New(KindSerialization, "serialization error")
	ErrCorruption     = New(KindCorruption, "data corruption detected")
	ErrKeyNotFound    = New(KindKeyNotFound, "key not found")
	ErrRecoveryFailed = New(KindRecoveryFailed, "wal recovery failed")
	ErrConfig         = New(KindConfig, "invalid configuration")
)

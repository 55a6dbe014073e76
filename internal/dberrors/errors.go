// Package dberrors defines the sentinel error kinds the engine reports
// and the wrapping helpers used to attach operation context.
package dberrors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers can branch on it with
// errors.Is without parsing message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindIoError
	KindCorruptPage
	KindTableNotFound
	KindTableExists
	KindColumnNotFound
	KindAmbiguousColumn
	KindTypeMismatch
	KindNullInNotNull
	KindUniqueViolation
	KindPrimaryKeyViolation
	KindCheckViolation
	KindForeignKeyViolation
	KindTransactionState
	KindLockConflict
	KindTriggerRecursion
	KindUnsupportedStatement
	KindAllPagesPinned
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindCorruptPage:
		return "CorruptPage"
	case KindTableNotFound:
		return "TableNotFound"
	case KindTableExists:
		return "TableExists"
	case KindColumnNotFound:
		return "ColumnNotFound"
	case KindAmbiguousColumn:
		return "AmbiguousColumn"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindNullInNotNull:
		return "NullInNotNull"
	case KindUniqueViolation:
		return "UniqueViolation"
	case KindPrimaryKeyViolation:
		return "PrimaryKeyViolation"
	case KindCheckViolation:
		return "CheckViolation"
	case KindForeignKeyViolation:
		return "ForeignKeyViolation"
	case KindTransactionState:
		return "TransactionStateError"
	case KindLockConflict:
		return "LockConflict"
	case KindTriggerRecursion:
		return "TriggerRecursion"
	case KindUnsupportedStatement:
		return "UnsupportedStatement"
	case KindAllPagesPinned:
		return "AllPagesPinned"
	default:
		return "Unknown"
	}
}

// EngineError is the typed error carried through the executor's result
// envelope. It wraps an underlying error (often a sentinel below) and
// tags it with a Kind plus free-form detail fields used by callers
// that need the offending index/table/lock name, not just the message.
type EngineError struct {
	Kind    Kind
	Detail  string
	Wrapped error
}

func (e *EngineError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *EngineError) Unwrap() error { return e.Wrapped }

// New constructs an EngineError of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an EngineError of the given kind, wrapping err so
// errors.Is/errors.As still see through to it.
func Wrap(kind Kind, err error, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Detail: fmt.Sprintf(format, args...), Wrapped: err}
}

// Sentinel errors for conditions that do not need per-occurrence detail.
var (
	ErrPageNotFound    = errors.New("dberrors: page not found")
	ErrAllPagesPinned  = errors.New("dberrors: all buffer pool frames are pinned")
	ErrCorruptPage     = errors.New("dberrors: page failed corruption check")
	ErrTxnNotActive    = errors.New("dberrors: no active transaction")
	ErrTxnAlreadyOpen  = errors.New("dberrors: transaction already open on this session")
)

// Is reports whether err carries the given Kind, looking through any
// wrapping via errors.As.
func Is(err error, kind Kind) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}

// WrapIo attaches an operation name to a raw I/O failure and tags it
// as an IoError.
func WrapIo(op string, err error) error {
	if err == nil {
		return nil
	}
	return Wrap(KindIoError, err, "%s: %v", op, err)
}

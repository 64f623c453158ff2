package spreadsheet

import (
	"fmt"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (worksheet, alias, binding) was
	// not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// Aborted indicates the operation was refused because another one is
	// in progress.
	Aborted AppErrorCode = 10

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

// ErrorKind names the structural failure behind an AppError
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindMalformedAddress
	KindOverlap
	KindNotMerged
	KindDuplicateAlias
	KindInvalidName
	KindUnknownAlias
	KindSyntax
	KindTypeMismatch
	KindRangeInScalarContext
	KindCircularReference
	KindShapeMismatch
	KindBusy
	KindNotFound
	KindAlreadyExists
	KindBoundCell
)

var kindNames = map[ErrorKind]string{
	KindNone:                 "none",
	KindMalformedAddress:     "malformed address",
	KindOverlap:              "overlap",
	KindNotMerged:            "not merged",
	KindDuplicateAlias:       "duplicate alias",
	KindInvalidName:          "invalid name",
	KindUnknownAlias:         "unknown alias",
	KindSyntax:               "syntax error",
	KindTypeMismatch:         "type mismatch",
	KindRangeInScalarContext: "range in scalar context",
	KindCircularReference:    "circular reference",
	KindShapeMismatch:        "shape mismatch",
	KindBusy:                 "busy",
	KindNotFound:             "not found",
	KindAlreadyExists:        "already exists",
	KindBoundCell:            "bound cell",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// kindCodes maps each kind to the code reported with it
var kindCodes = map[ErrorKind]AppErrorCode{
	KindMalformedAddress:     InvalidArgument,
	KindOverlap:              FailedPrecondition,
	KindNotMerged:            FailedPrecondition,
	KindDuplicateAlias:       AlreadyExists,
	KindInvalidName:          InvalidArgument,
	KindUnknownAlias:         NotFound,
	KindSyntax:               InvalidArgument,
	KindTypeMismatch:         InvalidArgument,
	KindRangeInScalarContext: InvalidArgument,
	KindCircularReference:    FailedPrecondition,
	KindShapeMismatch:        OutOfRange,
	KindBusy:                 Aborted,
	KindNotFound:             NotFound,
	KindAlreadyExists:        AlreadyExists,
	KindBoundCell:            FailedPrecondition,
}

// AppError represents errors at the application level (not cell error
// values). Pos is the rune offset of a syntax error, -1 otherwise.
type AppError struct {
	Code    AppErrorCode
	Kind    ErrorKind
	Message string
	Pos     int
}

func (e *AppError) Error() string {
	if e.Kind == KindSyntax && e.Pos >= 0 {
		return fmt.Sprintf("%s at position %d", e.Message, e.Pos)
	}
	return e.Message
}

// Is matches on Kind, so errors.Is(err, ErrBusy) works for every busy
// error regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Kind == KindNone {
		return e == t
	}
	return e.Kind == t.Kind
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Pos:     -1,
	}
}

// newKindError creates an application error of the given kind
func newKindError(kind ErrorKind, format string, args ...any) *AppError {
	return &AppError{
		Code:    kindCodes[kind],
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
	}
}

// newSyntaxError creates a syntax error at a rune offset
func newSyntaxError(pos int, format string, args ...any) *AppError {
	err := newKindError(KindSyntax, format, args...)
	err.Pos = pos
	return err
}

// sentinels for errors.Is
var (
	ErrMalformedAddress = newKindError(KindMalformedAddress, "malformed address")
	ErrOverlap          = newKindError(KindOverlap, "range overlaps")
	ErrNotMerged        = newKindError(KindNotMerged, "range is not merged")
	ErrDuplicateAlias   = newKindError(KindDuplicateAlias, "alias already in use")
	ErrInvalidName      = newKindError(KindInvalidName, "invalid name")
	ErrUnknownAlias     = newKindError(KindUnknownAlias, "unknown alias")
	ErrSyntax           = newKindError(KindSyntax, "syntax error")
	ErrShapeMismatch    = newKindError(KindShapeMismatch, "shape mismatch")
	ErrBusy             = newKindError(KindBusy, "spreadsheet is busy")
	ErrNotFound         = newKindError(KindNotFound, "not found")
	ErrAlreadyExists    = newKindError(KindAlreadyExists, "already exists")
	ErrBoundCell        = newKindError(KindBoundCell, "cell is bound")
)

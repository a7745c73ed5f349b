package psfs

import (
	"errors"
	"fmt"

	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
)

type ErrorKind int

const (
	EmptyInput ErrorKind = iota
	MagicMismatch
	TruncatedInput
	InvalidCharacterSet
	EndianMismatch
	ConstantViolation
	ChecksumMismatch
	UnknownVariant
	MissingKeyMaterial
	SizeConstraintViolation
	UnsupportedOperation
)

func (k ErrorKind) String() string {
	return [...]string{
		"EmptyInput",
		"MagicMismatch",
		"TruncatedInput",
		"InvalidCharacterSet",
		"EndianMismatch",
		"ConstantViolation",
		"ChecksumMismatch",
		"UnknownVariant",
		"MissingKeyMaterial",
		"SizeConstraintViolation",
		"UnsupportedOperation"}[k]
}

// FormatError is returned by every parser in this package. Field names the
// offending structure member, Expected/Actual carry the values that disagreed.
type FormatError struct {
	Kind     ErrorKind
	Field    string
	Expected interface{}
	Actual   interface{}
	Err      error
}

func (e *FormatError) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	if e.Expected != nil || e.Actual != nil {
		msg += fmt.Sprintf(" expected %v, got %v", printable(e.Expected), printable(e.Actual))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func printable(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("%X", b)
	}
	return v
}

func newError(kind ErrorKind, field string, expected, actual interface{}) error {
	return &FormatError{Kind: kind, Field: field, Expected: expected, Actual: actual}
}

func wrapError(kind ErrorKind, field string, err error) error {
	return &FormatError{Kind: kind, Field: field, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a FormatError of the
// given kind. pscrypto.ErrMissingKey counts as MissingKeyMaterial.
func IsKind(err error, kind ErrorKind) bool {
	if kind == MissingKeyMaterial && errors.Is(err, pscrypto.ErrMissingKey) {
		return true
	}
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

func constantCheck(field string, actual, expected uint64) error {
	if actual != expected {
		return newError(ConstantViolation, field, expected, actual)
	}
	return nil
}

func zeroCheck(field string, data []byte) error {
	for _, b := range data {
		if b != 0 {
			return newError(ConstantViolation, field, "all zero", data)
		}
	}
	return nil
}

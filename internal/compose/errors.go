package compose

import (
	"fmt"
	"strings"
)

// ErrorKind tags a composition failure so callers can map it to a response.
type ErrorKind string

const (
	ErrUnknownCategory ErrorKind = "unknown_category"
	ErrConflict        ErrorKind = "conflict"
	ErrMissingRequires ErrorKind = "missing_requires"
	ErrTypeCapExceeded ErrorKind = "type_cap_exceeded"
	ErrEmptyInput      ErrorKind = "empty_input"
)

// Error is a composition failure. A compose call either yields a fully valid
// recipe or exactly one of these.
type Error struct {
	Kind     ErrorKind
	Category string   // the category that triggered the failure
	Related  []string // conflicting ids or the missing requires set
	Message  string
}

func (e *Error) Error() string { return e.Message }

func errUnknown(id string) *Error {
	return &Error{
		Kind:     ErrUnknownCategory,
		Category: id,
		Message:  fmt.Sprintf("unknown category %q", id),
	}
}

func errEmpty() *Error {
	return &Error{Kind: ErrEmptyInput, Message: "no categories to compose"}
}

func errConflict(id string, conflicting []string) *Error {
	return &Error{
		Kind:     ErrConflict,
		Category: id,
		Related:  conflicting,
		Message:  fmt.Sprintf("category %s conflicts with %s", id, strings.Join(conflicting, ", ")),
	}
}

func errMissingRequires(id string, missing []string) *Error {
	return &Error{
		Kind:     ErrMissingRequires,
		Category: id,
		Related:  missing,
		Message:  fmt.Sprintf("category %s requires %s", id, strings.Join(missing, ", ")),
	}
}

func errTypeCap(id string, typ string, cap, count int) *Error {
	return &Error{
		Kind:     ErrTypeCapExceeded,
		Category: id,
		Message:  fmt.Sprintf("category %s caps %s categories at %d, got %d", id, typ, cap, count),
	}
}

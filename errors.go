package fieldform

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of a fatal conversion error.
type ErrorKind string

const (
	KindSchema            ErrorKind = "schema"             // malformed or missing sheet structure
	KindReference         ErrorKind = "reference"          // dangling list or variable reference
	KindDuplicateList     ErrorKind = "duplicate_list"     // non-contiguous duplicate choice list
	KindNesting           ErrorKind = "nesting"            // group/repeat closer mismatch
	KindUnclosedContainer ErrorKind = "unclosed_container" // begin without matching end
	KindExpression        ErrorKind = "expression"         // unparsable expression syntax
	KindUnsupportedType   ErrorKind = "unsupported_type"   // question type outside the mapping table
	KindMultipleGeometry  ErrorKind = "multiple_geometry"  // more than one geometry per layer
	KindIO                ErrorKind = "io"                 // unwritable output target
	KindPartialWrite      ErrorKind = "partial_write"      // container committed, descriptor failed
)

// ConversionError is the unified fatal error of the pipeline. Every error
// carries enough context (sheet, row, field) to locate the offending
// spreadsheet cell.
type ConversionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Sheet   string    `json:"sheet,omitempty"`
	Row     int       `json:"row,omitempty"` // 1-based sheet row
	Field   string    `json:"field,omitempty"`
	Cause   error     `json:"-"`
}

func (e *ConversionError) Error() string {
	loc := ""
	if e.Sheet != "" {
		loc = " sheet " + e.Sheet
	}
	if e.Row > 0 {
		loc += fmt.Sprintf(" row %d", e.Row)
	}
	if e.Field != "" {
		loc += fmt.Sprintf(" field %q", e.Field)
	}
	if loc != "" {
		return fmt.Sprintf("[%s]%s: %s", e.Kind, loc, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// WithSheet attaches the source sheet name.
func (e *ConversionError) WithSheet(sheet string) *ConversionError {
	e.Sheet = sheet
	return e
}

// WithRow attaches the 1-based source row index.
func (e *ConversionError) WithRow(row int) *ConversionError {
	e.Row = row
	return e
}

// WithField attaches the question or field name.
func (e *ConversionError) WithField(field string) *ConversionError {
	e.Field = field
	return e
}

// WithCause attaches the underlying error.
func (e *ConversionError) WithCause(cause error) *ConversionError {
	e.Cause = cause
	return e
}

// NewError builds a ConversionError of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *ConversionError {
	return &ConversionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err is a ConversionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

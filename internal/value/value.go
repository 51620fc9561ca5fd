package value

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a sealed interface over the types a cell may hold.
// Only Null, Number, String, Bool, List, and Error implement it.
// List never lives in a cell; it is the shape aggregate formulas
// receive when they read a whole column.
type Value interface {
	cellValue() // Sealed - only these types implement it
}

// Null represents an empty cell. A legitimate empty result is
// distinguishable from an error-valued cell (see Error).
type Null struct{}

func (Null) cellValue() {}

// Number is a numeric cell value. The engine computes in float64;
// the source system's formulas are floating point throughout.
type Number float64

func (Number) cellValue() {}

// String is a text cell value.
type String string

func (String) cellValue() {}

// Bool is a boolean cell value.
type Bool bool

func (Bool) cellValue() {}

// List is an ordered sequence of values. Produced only when binding a
// whole column for a sheet-trigger aggregate; never stored in a cell.
type List []Value

func (List) cellValue() {}

// ErrorCode categorizes evaluation failures that are stored as data.
type ErrorCode string

const (
	// CodeTimeout indicates the evaluation budget was exhausted.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeTypeMismatch indicates a result or operand of the wrong type.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeUnknownReference indicates a reference missing from the bound
	// context. Its occurrence is an internal-consistency fault.
	CodeUnknownReference ErrorCode = "UNKNOWN_REFERENCE"

	// CodeRuntimeFault covers other contained failures (division by
	// zero, domain errors, non-finite results).
	CodeRuntimeFault ErrorCode = "RUNTIME_FAULT"
)

// Error is an evaluation failure carried as a cell value. Errors
// propagate downstream like any other value: a formula reading an
// error-valued reference evaluates to the same error.
type Error struct {
	Code    ErrorCode
	Message string
}

func (Error) cellValue() {}

// Error implements the error interface so an Error can travel through
// error returns as well as through cell values.
func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an error value with a formatted message.
func NewError(code ErrorCode, format string, args ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsError reports whether v carries an error value.
func IsError(v Value) bool {
	_, ok := v.(Error)
	return ok
}

// IsNull reports whether v is the empty value (or a nil interface).
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal compares two values structurally. Numbers compare by exact
// float64 equality; errors compare by code and message.
func Equal(a, b Value) bool {
	if IsNull(a) && IsNull(b) {
		return true
	}
	switch av := a.(type) {
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Error:
		bv, ok := b.(Error)
		return ok && av.Code == bv.Code && av.Message == bv.Message
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Display renders a value the way the grid shows it. Numbers use the
// shortest round-trip form, errors render as #CODE.
func Display(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case Number:
		return FormatNumber(float64(val))
	case String:
		return string(val)
	case Bool:
		if val {
			return "true"
		}
		return "false"
	case Error:
		return "#" + string(val.Code)
	case List:
		return fmt.Sprintf("<list len=%d>", len(val))
	}
	return "<unknown>"
}

// FormatNumber renders a float with the shortest representation that
// round-trips. Integral values render without a decimal point.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

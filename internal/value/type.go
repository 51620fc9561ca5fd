package value

import "fmt"

// Type is a column's declared value type. Every column declares one;
// derived results are checked against it after evaluation.
type Type string

const (
	TypeNumber Type = "number"
	TypeString Type = "string"
	TypeBool   Type = "bool"
)

// ParseType validates a type name from a workbook definition.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeNumber, TypeString, TypeBool:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown value type %q (want number, string, or bool)", s)
}

// CheckType verifies a value against a declared column type.
// Null always conforms (an empty cell has no type); errors are data
// and pass through unchecked. A mismatch is reported, never coerced.
func CheckType(v Value, t Type) error {
	switch v.(type) {
	case nil, Null, Error:
		return nil
	case Number:
		if t == TypeNumber {
			return nil
		}
	case String:
		if t == TypeString {
			return nil
		}
	case Bool:
		if t == TypeBool {
			return nil
		}
	case List:
		return fmt.Errorf("list is not a cell value")
	}
	return fmt.Errorf("value %s does not conform to declared type %s", Display(v), t)
}

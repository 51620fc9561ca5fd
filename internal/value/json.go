package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseJSON decodes a stored canonical JSON document back into a
// Value. This is the inverse of MarshalCanonical for everything a cell
// can hold; it is what the store uses to rehydrate cells.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return fromDecoded(raw)
}

func fromDecoded(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", val)
		}
		return Number(f), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			item, err := fromDecoded(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			list[i] = item
		}
		return list, nil
	case map[string]any:
		// The only object form a cell value takes is the tagged error.
		inner, ok := val["error"].(map[string]any)
		if !ok || len(val) != 1 {
			return nil, fmt.Errorf("unexpected object in cell value")
		}
		code, _ := inner["code"].(string)
		msg, _ := inner["message"].(string)
		if code == "" {
			return nil, fmt.Errorf("error value missing code")
		}
		return Error{Code: ErrorCode(code), Message: msg}, nil
	default:
		return nil, fmt.Errorf("unsupported JSON value: %T", v)
	}
}

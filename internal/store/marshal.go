package store

import (
	"database/sql"
	"fmt"

	"github.com/cascadehq/cascade/internal/value"
)

// marshalValue serializes a cell value to canonical JSON for storage.
// A nil value maps to SQL NULL (distinct from JSON null: NULL means
// "never written", json null means "explicitly cleared").
func marshalValue(v value.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := value.MarshalCanonical(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal value: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// unmarshalValue is the inverse of marshalValue.
func unmarshalValue(s sql.NullString) (value.Value, error) {
	if !s.Valid {
		return nil, nil
	}
	v, err := value.ParseJSON([]byte(s.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value %q: %w", s.String, err)
	}
	return v, nil
}

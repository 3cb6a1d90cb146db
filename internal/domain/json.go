package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FieldMap holds the extracted value of every schema field for one record.
// It is stored as a JSON object column.
type FieldMap map[string]string

// Value implements the driver.Valuer interface for database serialization.
func (m FieldMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return marshalColumn(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *FieldMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanColumn(value, m, "FieldMap")
}

// Clone returns an independent copy of the map.
func (m FieldMap) Clone() FieldMap {
	if m == nil {
		return nil
	}
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// marshalColumn encodes v as a JSON string for text columns.
func marshalColumn(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// scanColumn decodes a JSON text or blob column into dst.
func scanColumn(value interface{}, dst interface{}, typeName string) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan %s: unexpected type %T", typeName, value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

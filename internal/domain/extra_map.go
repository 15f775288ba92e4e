package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ExtraMap stores opaque key/value metadata inside a JSON column.
type ExtraMap map[string]string

// Value implements driver.Valuer so ExtraMap can be stored as JSON.
func (m ExtraMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}

	data, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Scan implements sql.Scanner to hydrate the ExtraMap from the database.
func (m *ExtraMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return m.unmarshal(v)
	case string:
		return m.unmarshal([]byte(v))
	default:
		return fmt.Errorf("domain.ExtraMap: unsupported type %T", value)
	}
}

func (m *ExtraMap) unmarshal(data []byte) error {
	if len(data) == 0 {
		*m = nil
		return nil
	}

	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Clone returns a copy of the underlying map to avoid sharing memory.
func (m ExtraMap) Clone() ExtraMap {
	if len(m) == 0 {
		return nil
	}
	out := make(ExtraMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

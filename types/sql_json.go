package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string stored as JSON text
type StringList []string

// Tracking holds opaque attribution parameters (utm_*, gclid, ...)
type Tracking map[string]string

func (s StringList) Value() (driver.Value, error) {
	return jsonValue(s)
}

func (s *StringList) Scan(src interface{}) error {
	return jsonScan(src, s)
}

func (t Tracking) Value() (driver.Value, error) {
	return jsonValue(t)
}

func (t *Tracking) Scan(src interface{}) error {
	return jsonScan(src, t)
}

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src interface{}, dest interface{}) error {
	b, err := scanBytes(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dest)
}

func scanBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", src)
	}
}

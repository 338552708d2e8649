package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Fields is an insertion ordered multi value map of user supplied form fields.
// Fields decoded from JSON arrays stay arrays when encoded again, even with one value.
type Fields struct {
	keys   []string
	values map[string][]string
	lists  map[string]bool
}

// NewFields returns an empty Fields
func NewFields() Fields {
	return Fields{values: map[string][]string{}}
}

// Add appends a value to the field key keeping the order of first appearance
func (f *Fields) Add(key string, value string) {
	if f.values == nil {
		f.values = map[string][]string{}
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = append(f.values[key], value)
}

// AddList appends values to key and marks it as a list. An empty list keeps the key.
func (f *Fields) AddList(key string, values []string) {
	if f.values == nil {
		f.values = map[string][]string{}
	}
	if f.lists == nil {
		f.lists = map[string]bool{}
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
		f.values[key] = []string{}
	}
	f.lists[key] = true
	f.values[key] = append(f.values[key], values...)
}

// Keys returns field names in order of first appearance
func (f Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Get returns the first value of the field or empty string
func (f Fields) Get(key string) string {
	v := f.values[key]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values of the field
func (f Fields) Values(key string) []string {
	return f.values[key]
}

func (f Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// IsList reports whether key was added as a list
func (f Fields) IsList(key string) bool {
	return f.lists[key]
}

func (f Fields) Len() int {
	return len(f.keys)
}

// AllValues returns every string value of every field in order
func (f Fields) AllValues() []string {
	all := []string{}
	for _, k := range f.keys {
		all = append(all, f.values[k]...)
	}
	return all
}

// MarshalJSON writes an object in field order. Single values are strings, lists and multi values arrays.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		var vb []byte
		vals := f.values[k]
		if len(vals) == 1 && !f.lists[k] {
			vb, err = json.Marshal(vals[0])
		} else {
			vb, err = json.Marshal(vals)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	parsed, err := DecodeOrderedJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// DecodeOrderedJSON decodes a JSON object into Fields preserving key order.
// Scalars are converted to strings, arrays become list fields,
// nested objects and arrays are kept as compact JSON strings. Trailing data is rejected.
func DecodeOrderedJSON(r io.Reader) (Fields, error) {
	fields := NewFields()
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fields, fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fields, errors.New("invalid json: expected object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fields, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fields, errors.New("invalid json: expected key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fields, fmt.Errorf("invalid json value for %s: %w", key, err)
		}
		values, isList, err := rawToStrings(raw)
		if err != nil {
			return fields, fmt.Errorf("invalid json value for %s: %w", key, err)
		}
		if isList {
			fields.AddList(key, values)
			continue
		}
		fields.Add(key, values[0])
	}
	if _, err := dec.Token(); err != nil {
		return fields, fmt.Errorf("invalid json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fields, errors.New("invalid json: trailing data after object")
	}
	return fields, nil
}

func rawToStrings(raw json.RawMessage) ([]string, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []string{""}, false, nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, true, err
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, err := scalarToString(item)
			if err != nil {
				return nil, true, err
			}
			out = append(out, s)
		}
		return out, true, nil
	default:
		s, err := scalarToString(trimmed)
		if err != nil {
			return nil, false, err
		}
		return []string{s}, false, nil
	}
}

func scalarToString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	case 'n':
		return "", nil
	case 't', 'f':
		b, err := strconv.ParseBool(string(trimmed))
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", err
		}
		return strings.TrimSpace(n.String()), nil
	}
}

// Value implements driver.Valuer (stored as JSON text)
func (f Fields) Value() (driver.Value, error) {
	b, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (f *Fields) Scan(src interface{}) error {
	b, err := scanBytes(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*f = NewFields()
		return nil
	}
	return f.UnmarshalJSON(b)
}

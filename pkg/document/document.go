// Package document wraps the dynamic payloads that flow through the pipeline.
// Producers send arbitrary JSON objects; accessors here return a typed value
// or an error so "is this field present and well-typed" is answered in one
// place (the staging validators) instead of with type assertions scattered
// across stages.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFieldMissing reports an absent field.
	ErrFieldMissing = errors.New("field missing")
	// ErrFieldType reports a present field with the wrong dynamic type.
	ErrFieldType = errors.New("field has wrong type")
)

// Document is one decoded payload. The zero value is usable as an empty document.
type Document map[string]any

// Decode parses raw JSON into a Document. Only objects are accepted; arrays
// and scalars at the top level are a structural error.
func Decode(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Encode renders the document as JSON. encoding/json writes map keys in
// sorted order, so equal documents always encode to equal bytes; fingerprints
// are computed over this form.
func (d Document) Encode() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

// Has reports field presence without caring about the type.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// String returns the named field as a string.
func (d Document) String(key string) (string, error) {
	v, ok := d[key]
	if !ok {
		return "", fmt.Errorf("%q: %w", key, ErrFieldMissing)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q: %w", key, ErrFieldType)
	}
	return s, nil
}

// Float returns the named field as a float64. JSON numbers decode to float64,
// so this is the native numeric accessor.
func (d Document) Float(key string) (float64, error) {
	v, ok := d[key]
	if !ok {
		return 0, fmt.Errorf("%q: %w", key, ErrFieldMissing)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%q: %w", key, ErrFieldType)
	}
	return f, nil
}

// Int returns the named field as an int64. A JSON number with a fractional
// part is a type error, not a truncation.
func (d Document) Int(key string) (int64, error) {
	f, err := d.Float(key)
	if err != nil {
		return 0, err
	}
	n := int64(f)
	if float64(n) != f {
		return 0, fmt.Errorf("%q: not an integer: %w", key, ErrFieldType)
	}
	return n, nil
}

// Bool returns the named field as a bool.
func (d Document) Bool(key string) (bool, error) {
	v, ok := d[key]
	if !ok {
		return false, fmt.Errorf("%q: %w", key, ErrFieldMissing)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%q: %w", key, ErrFieldType)
	}
	return b, nil
}

// Time returns the named field parsed as an RFC 3339 timestamp.
func (d Document) Time(key string) (time.Time, error) {
	s, err := d.String(key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %v: %w", key, err, ErrFieldType)
	}
	return t, nil
}

// Clone returns a shallow copy so callers can add derived fields without
// mutating the original payload.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

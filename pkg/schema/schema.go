// Package schema provides the runtime payload validator §9 calls for in
// place of the source's compile-time, codegen'd payload structs: a TOML
// schema file describes field names, types, and (for numeric types) min/max
// bounds, and Validate checks a decoded payload map against it before
// publish. The core engine never sees this package; it is purely a
// pre-publish convenience for callers who want declarative validation
// instead of hand-written checks.
package schema

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// FieldType is one of the recognized payload field types (§6).
type FieldType string

const (
	TypeF64    FieldType = "f64"
	TypeI64    FieldType = "i64"
	TypeU64    FieldType = "u64"
	TypeBool   FieldType = "bool"
	TypeString FieldType = "string"
	TypeBytes  FieldType = "bytes"
)

// Field describes one declared payload field.
type Field struct {
	Name string    `toml:"name"`
	Type FieldType `toml:"type"`
	Min  *float64  `toml:"min"`
	Max  *float64  `toml:"max"`
	// Len constrains a fixed-length byte array field, if Type is bytes.
	Len *int `toml:"len"`
}

// fileFormat mirrors the on-disk [message] / [[message.fields]] layout.
type fileFormat struct {
	Message struct {
		Name   string  `toml:"name"`
		Fields []Field `toml:"fields"`
	} `toml:"message"`
}

// Schema is a loaded, ready-to-validate message schema.
type Schema struct {
	Name   string
	Fields []Field
	byName map[string]Field
}

// ErrViolation wraps every validation failure.
type ErrViolation struct {
	Field  string
	Reason string
}

func (e *ErrViolation) Error() string {
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
}

// Load parses a schema file at path.
func Load(path string) (*Schema, error) {
	var ff fileFormat
	if _, err := toml.DecodeFile(path, &ff); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	return newSchema(ff), nil
}

// Parse parses schema file contents already read into memory, useful for
// tests and embedded schemas.
func Parse(contents string) (*Schema, error) {
	var ff fileFormat
	if _, err := toml.Decode(contents, &ff); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	return newSchema(ff), nil
}

func newSchema(ff fileFormat) *Schema {
	s := &Schema{
		Name:   ff.Message.Name,
		Fields: ff.Message.Fields,
		byName: make(map[string]Field, len(ff.Message.Fields)),
	}
	for _, f := range ff.Message.Fields {
		s.byName[f.Name] = f
	}
	return s
}

// Validate checks a decoded payload — a map of field name to decoded Go
// value, as produced by CBOR-decoding a PAYLOAD envelope's bytes into
// map[string]any by convention — against the schema's declared types and
// numeric bounds. It returns the first violation found, or nil.
func (s *Schema) Validate(payload map[string]interface{}) error {
	for _, f := range s.Fields {
		v, ok := payload[f.Name]
		if !ok {
			return &ErrViolation{Field: f.Name, Reason: "missing"}
		}
		if err := validateField(f, v); err != nil {
			return err
		}
	}
	return nil
}

func validateField(f Field, v interface{}) error {
	switch f.Type {
	case TypeF64, TypeI64, TypeU64:
		n, ok := asFloat(v)
		if !ok {
			return &ErrViolation{Field: f.Name, Reason: fmt.Sprintf("expected numeric type %s", f.Type)}
		}
		if f.Min != nil && n < *f.Min {
			return &ErrViolation{Field: f.Name, Reason: fmt.Sprintf("%v below min %v", n, *f.Min)}
		}
		if f.Max != nil && n > *f.Max {
			return &ErrViolation{Field: f.Name, Reason: fmt.Sprintf("%v above max %v", n, *f.Max)}
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return &ErrViolation{Field: f.Name, Reason: "expected bool"}
		}
	case TypeString:
		if _, ok := v.(string); !ok {
			return &ErrViolation{Field: f.Name, Reason: "expected string"}
		}
	case TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return &ErrViolation{Field: f.Name, Reason: "expected byte array"}
		}
		if f.Len != nil && len(b) != *f.Len {
			return &ErrViolation{Field: f.Name, Reason: fmt.Sprintf("expected %d bytes, got %d", *f.Len, len(b))}
		}
	default:
		return &ErrViolation{Field: f.Name, Reason: fmt.Sprintf("unrecognized field type %q", f.Type)}
	}
	return nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

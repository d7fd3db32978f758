package validation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ha1tch/quill/pkg/storage"
)

// Validator checks request payloads before they are stored
type Validator interface {
	// Validate checks a full document. Partial payloads of an update skip
	// the required-field check.
	Validate(collection string, data map[string]interface{}, partial bool) (bool, []string)
	HasSchema(collection string) bool
}

// Property constrains one document field
type Property struct {
	Types     []string // accepted JSON types, empty accepts any
	MaxLength int      // for strings, 0 means unbounded
	Minimum   *float64 // for numbers
}

// Schema describes the fields of one collection. Fields not listed are
// allowed.
type Schema struct {
	Required   []string
	Properties map[string]Property
}

// SchemaValidator validates payloads against per-collection schemas
type SchemaValidator struct {
	schemas map[string]Schema
	mu      sync.RWMutex
}

// NewSchemaValidator creates a validator without schemas
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]Schema)}
}

// NewDefaultValidator creates a validator loaded with the built-in schemas
func NewDefaultValidator() *SchemaValidator {
	v := NewSchemaValidator()
	for collection, schema := range DefaultSchemas() {
		v.LoadSchema(collection, schema)
	}
	return v
}

// LoadSchema sets the schema of a collection
func (v *SchemaValidator) LoadSchema(collection string, schema Schema) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.schemas[collection] = schema
}

// HasSchema checks if a schema exists for a collection
func (v *SchemaValidator) HasSchema(collection string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	_, exists := v.schemas[collection]
	return exists
}

// Validate validates data against the collection schema. A collection
// without schema always passes.
func (v *SchemaValidator) Validate(collection string, data map[string]interface{}, partial bool) (bool, []string) {
	v.mu.RLock()
	schema, exists := v.schemas[collection]
	v.mu.RUnlock()

	if !exists {
		return true, nil
	}

	errs := []string{}

	if !partial {
		for _, field := range schema.Required {
			if _, ok := data[field]; !ok {
				errs = append(errs, fmt.Sprintf("missing required field: %s", field))
			}
		}
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, ok := schema.Properties[key]
		if !ok {
			continue
		}
		value := data[key]

		if len(prop.Types) > 0 {
			actual := jsonType(value)
			if !typeAccepted(prop.Types, actual) {
				errs = append(errs, fmt.Sprintf("field %s: expected type %s, got %s", key, joinTypes(prop.Types), actual))
				continue
			}
		}

		if s, ok := value.(string); ok && prop.MaxLength > 0 && len([]rune(s)) > prop.MaxLength {
			errs = append(errs, fmt.Sprintf("field %s: string too long (max %d)", key, prop.MaxLength))
		}

		if prop.Minimum != nil {
			if n, ok := number(value); ok && n < *prop.Minimum {
				errs = append(errs, fmt.Sprintf("field %s: value too small (min %v)", key, *prop.Minimum))
			}
		}
	}

	return len(errs) == 0, errs
}

// DefaultSchemas returns the schemas of all collections
func DefaultSchemas() map[string]Schema {
	zero := 0.0
	title := Property{Types: []string{"string"}, MaxLength: 255}
	text := Property{Types: []string{"string", "null"}}
	order := Property{Types: []string{"integer"}, Minimum: &zero}

	return map[string]Schema{
		storage.Projects: {
			Properties: map[string]Property{
				"title":       title,
				"description": text,
			},
		},
		storage.Chapters: {
			Properties: map[string]Property{
				"title":       title,
				"order_index": order,
				"content":     text,
			},
		},
		storage.Scenes: {
			Properties: map[string]Property{
				"title":       title,
				"order_index": order,
				"content":     text,
			},
		},
		storage.Characters: {
			Properties: map[string]Property{
				"name":        title,
				"role":        Property{Types: []string{"string"}, MaxLength: 255},
				"age":         Property{Types: []string{"string", "integer"}, MaxLength: 50},
				"description": text,
			},
		},
		storage.WorldItems: {
			Properties: map[string]Property{
				"name":        title,
				"kind":        Property{Types: []string{"string"}, MaxLength: 255},
				"icon":        Property{Types: []string{"string", "null"}, MaxLength: 64},
				"description": text,
				"props":       Property{Types: []string{"object", "null"}},
			},
		},
	}
}

func typeAccepted(accepted []string, actual string) bool {
	for _, t := range accepted {
		if t == actual || (t == "number" && actual == "integer") {
			return true
		}
	}
	return false
}

func joinTypes(types []string) string {
	out := types[0]
	for _, t := range types[1:] {
		out += "|" + t
	}
	return out
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// jsonType returns the JSON type name for a decoded value
func jsonType(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		if val == float64(int64(val)) {
			return "integer"
		}
		return "number"
	case int, int64:
		return "integer"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "unknown"
	}
}

// NoOpValidator is a validator that always passes
type NoOpValidator struct{}

// NewNoOpValidator creates a no-op validator
func NewNoOpValidator() *NoOpValidator {
	return &NoOpValidator{}
}

// Validate always returns true
func (n *NoOpValidator) Validate(collection string, data map[string]interface{}, partial bool) (bool, []string) {
	return true, nil
}

// HasSchema always returns false
func (n *NoOpValidator) HasSchema(collection string) bool {
	return false
}

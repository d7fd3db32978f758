package validation_test

import (
	"testing"

	"github.com/ha1tch/quill/pkg/storage"
	"github.com/ha1tch/quill/pkg/validation"
	"github.com/stretchr/testify/assert"
)

func TestDefaultValidator_Characters(t *testing.T) {
	v := validation.NewDefaultValidator()

	ok, errs := v.Validate(storage.Characters, map[string]interface{}{
		"name":      "Ada",
		"age":       float64(31),
		"relations": []interface{}{},
		"extra":     true,
	}, false)
	assert.True(t, ok)
	assert.Empty(t, errs)

	ok, errs = v.Validate(storage.Characters, map[string]interface{}{
		"name":      float64(3),
		"relations": map[string]interface{}{"toId": 1},
	}, false)
	assert.False(t, ok)
	assert.Equal(t, []string{"field name: expected type string, got integer"}, errs)
}

func TestDefaultValidator_RelationsAnyShape(t *testing.T) {
	v := validation.NewDefaultValidator()

	// Malformed relation lists are dropped by the codec, never rejected
	for _, collection := range []string{storage.Characters, storage.WorldItems} {
		for _, raw := range []interface{}{
			map[string]interface{}{"toId": 1}, float64(5), true, "not json", nil, []interface{}{"x"},
		} {
			ok, errs := v.Validate(collection, map[string]interface{}{"relations": raw}, true)
			assert.True(t, ok, "%s %v", collection, raw)
			assert.Empty(t, errs)
		}
	}
}

func TestDefaultValidator_Chapters(t *testing.T) {
	v := validation.NewDefaultValidator()

	ok, errs := v.Validate(storage.Chapters, map[string]interface{}{"order_index": float64(-1)}, true)
	assert.False(t, ok)
	assert.Equal(t, []string{"field order_index: value too small (min 0)"}, errs)

	ok, errs = v.Validate(storage.Chapters, map[string]interface{}{"order_index": 1.5}, true)
	assert.False(t, ok)
	assert.Equal(t, []string{"field order_index: expected type integer, got number"}, errs)
}

func TestMaxLength(t *testing.T) {
	v := validation.NewDefaultValidator()

	long := make([]rune, 256)
	for i := range long {
		long[i] = 'ä'
	}
	ok, errs := v.Validate(storage.Projects, map[string]interface{}{"title": string(long)}, false)
	assert.False(t, ok)
	assert.Equal(t, []string{"field title: string too long (max 255)"}, errs)

	ok, _ = v.Validate(storage.Projects, map[string]interface{}{"title": string(long[:255])}, false)
	assert.True(t, ok)
}

func TestRequired(t *testing.T) {
	v := validation.NewSchemaValidator()
	v.LoadSchema("notes", validation.Schema{Required: []string{"text"}})

	assert.True(t, v.HasSchema("notes"))

	ok, errs := v.Validate("notes", map[string]interface{}{}, false)
	assert.False(t, ok)
	assert.Equal(t, []string{"missing required field: text"}, errs)

	ok, _ = v.Validate("notes", map[string]interface{}{}, true)
	assert.True(t, ok)
}

func TestNoSchemaPasses(t *testing.T) {
	v := validation.NewSchemaValidator()
	ok, errs := v.Validate("anything", map[string]interface{}{"x": 1}, false)
	assert.True(t, ok)
	assert.Nil(t, errs)

	noop := validation.NewNoOpValidator()
	ok, _ = noop.Validate(storage.Characters, map[string]interface{}{"name": 1}, false)
	assert.True(t, ok)
	assert.False(t, noop.HasSchema(storage.Characters))
}

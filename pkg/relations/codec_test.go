package relations_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/ha1tch/quill/pkg/relations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NonListInputs(t *testing.T) {
	inputs := []interface{}{
		nil,
		42,
		"not json",
		`{"toId": 2}`,
		`"[]"`,
		map[string]interface{}{"toId": 2},
		[]byte("{"),
	}

	for _, in := range inputs {
		edges := relations.Parse(in)
		require.NotNil(t, edges, "input %#v", in)
		assert.Empty(t, edges, "input %#v", in)
	}
}

func TestParse_SkipsMalformedElements(t *testing.T) {
	raw := []interface{}{
		"nope",
		42,
		map[string]interface{}{"type": "Freund"},
		map[string]interface{}{"toId": "2"},
		map[string]interface{}{"toId": 2.5},
		map[string]interface{}{"toId": true},
		map[string]interface{}{"toId": nil},
		map[string]interface{}{"toId": float64(7), "type": "Freund", "strength": float64(2), "notes": "alt"},
	}

	edges := relations.Parse(raw)
	require.Len(t, edges, 1)
	assert.Equal(t, relations.Edge{ToID: 7, Type: "Freund", Strength: 2, Notes: "alt"}, edges[0])
}

func TestParse_RejectsOutOfRangeIDs(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"toId": 1e300},
		map[string]interface{}{"toId": -1e300},
		map[string]interface{}{"toId": math.Inf(1)},
		map[string]interface{}{"toId": math.NaN()},
		map[string]interface{}{"toId": uint64(math.MaxUint64)},
		map[string]interface{}{"toId": uint(math.MaxUint)},
		map[string]interface{}{"toId": json.Number("9223372036854775808")},
		map[string]interface{}{"toId": json.Number("1e300")},
		map[string]interface{}{"toId": uint64(9), "type": "Kennt"},
		map[string]interface{}{"toId": json.Number("1e1"), "type": "Feind"},
	}

	edges := relations.Parse(raw)
	require.Len(t, edges, 2)
	assert.Equal(t, 9, edges[0].ToID)
	assert.Equal(t, 10, edges[1].ToID)
}

func TestParse_Defaults(t *testing.T) {
	tests := []struct {
		name string
		item map[string]interface{}
		want relations.Edge
	}{
		{
			name: "missing fields",
			item: map[string]interface{}{"toId": 1},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 3},
		},
		{
			name: "empty type",
			item: map[string]interface{}{"toId": 1, "type": ""},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 3},
		},
		{
			name: "non-string type",
			item: map[string]interface{}{"toId": 1, "type": 12},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 3},
		},
		{
			name: "type is case sensitive and untrimmed",
			item: map[string]interface{}{"toId": 1, "type": " mentor"},
			want: relations.Edge{ToID: 1, Type: " mentor", Strength: 3},
		},
		{
			name: "strength text",
			item: map[string]interface{}{"toId": 1, "strength": "abc"},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 3},
		},
		{
			name: "strength padded digits",
			item: map[string]interface{}{"toId": 1, "strength": " 4 "},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 4},
		},
		{
			name: "strength fractional string",
			item: map[string]interface{}{"toId": 1, "strength": "4.5"},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 3},
		},
		{
			name: "strength fractional number",
			item: map[string]interface{}{"toId": 1, "strength": 4.7},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 4},
		},
		{
			name: "strength bool",
			item: map[string]interface{}{"toId": 1, "strength": true},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 3},
		},
		{
			name: "strength out of ui range is kept",
			item: map[string]interface{}{"toId": 1, "strength": 42},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 42},
		},
		{
			name: "notes non-string",
			item: map[string]interface{}{"toId": 1, "notes": 5},
			want: relations.Edge{ToID: 1, Type: relations.DefaultType, Strength: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edges := relations.Parse([]interface{}{tt.item})
			require.Len(t, edges, 1)
			assert.Equal(t, tt.want, edges[0])
		})
	}
}

func TestParse_Blob(t *testing.T) {
	blob := `[{"toId": 2, "type": "Mentor", "strength": 4}, {"toId": "x"}, {"toId": 3, "strength": "5"}]`

	edges := relations.Parse(blob)
	require.Len(t, edges, 2)
	assert.Equal(t, relations.Edge{ToID: 2, Type: "Mentor", Strength: 4}, edges[0])
	assert.Equal(t, relations.Edge{ToID: 3, Type: relations.DefaultType, Strength: 5}, edges[1])

	assert.Equal(t, edges, relations.Parse([]byte(blob)))
	assert.Equal(t, edges, relations.Parse(json.RawMessage(blob)))
}

func TestParse_TypedEdges(t *testing.T) {
	edges := relations.Parse([]relations.Edge{{ToID: 4, Strength: 1}})
	require.Len(t, edges, 1)
	assert.Equal(t, relations.DefaultType, edges[0].Type)
}

func TestNormalize_DropsSelfReferences(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"toId": 1, "type": "Freund"},
		map[string]interface{}{"toId": 2, "type": "Freund"},
	}

	edges := relations.Normalize(raw, 1)
	require.Len(t, edges, 1)
	assert.Equal(t, 2, edges[0].ToID)
}

func TestSerialize(t *testing.T) {
	assert.Equal(t, "[]", string(relations.Serialize(nil)))

	data := relations.Serialize([]relations.Edge{{ToID: 2, Type: "Schüler", Strength: 4}})
	assert.Equal(t, `[{"toId":2,"type":"Schüler","strength":4,"notes":""}]`, string(data))
}

func TestSerialize_RoundTrip(t *testing.T) {
	inputs := []interface{}{
		nil,
		"garbage",
		[]interface{}{
			map[string]interface{}{"toId": 1},
			map[string]interface{}{"toId": float64(2), "type": "Mentor", "strength": "2", "notes": "<b>"},
			map[string]interface{}{"toId": 2, "type": "Mentor", "strength": 9.9},
			"skip me",
		},
		`[{"toId": 5, "type": "Teil von", "strength": null, "notes": null}]`,
	}

	for _, in := range inputs {
		once := relations.Parse(in)
		twice := relations.Parse(relations.Serialize(once))
		assert.Equal(t, once, twice, "input %#v", in)
		assert.Equal(t, once, relations.Parse(relations.Encode(once)), "input %#v", in)
	}
}

func TestTargets(t *testing.T) {
	set := relations.Targets([]relations.Edge{{ToID: 1}, {ToID: 2}, {ToID: 1}})
	assert.Len(t, set, 2)
	assert.Contains(t, set, 1)
	assert.Contains(t, set, 2)
}

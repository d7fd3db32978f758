package relations

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultType is assigned to edges stored without a relation type
	DefaultType = "Verbunden"
	// DefaultStrength is assigned when strength is missing or not numeric
	DefaultStrength = 3
)

// Edge is a directed relation from the owning entity to ToID
type Edge struct {
	ToID     int    `json:"toId"`
	Type     string `json:"type"`
	Strength int    `json:"strength"`
	Notes    string `json:"notes"`
}

// Parse normalizes an arbitrary relation value into a well-formed edge list.
// It never fails: anything that is not a list yields an empty list and
// malformed elements are skipped.
func Parse(raw interface{}) []Edge {
	edges := []Edge{}

	switch v := raw.(type) {
	case []Edge:
		for _, e := range v {
			edges = append(edges, normalizeEdge(e))
		}
	case []interface{}:
		for _, item := range v {
			if e, ok := parseItem(item); ok {
				edges = append(edges, e)
			}
		}
	case []map[string]interface{}:
		for _, item := range v {
			if e, ok := parseItem(item); ok {
				edges = append(edges, e)
			}
		}
	case string:
		return parseBlob([]byte(v))
	case []byte:
		return parseBlob(v)
	case json.RawMessage:
		return parseBlob(v)
	}

	return edges
}

// Normalize parses raw and drops edges pointing back at ownID
func Normalize(raw interface{}, ownID int) []Edge {
	parsed := Parse(raw)
	edges := make([]Edge, 0, len(parsed))
	for _, e := range parsed {
		if e.ToID == ownID {
			continue
		}
		edges = append(edges, e)
	}
	return edges
}

// Serialize renders edges in their stored blob form
func Serialize(edges []Edge) []byte {
	if edges == nil {
		edges = []Edge{}
	}
	// Edge only holds ints and strings, Marshal cannot fail
	data, _ := json.Marshal(edges)
	return data
}

// Encode converts edges into the plain list form embedded in JSON documents
func Encode(edges []Edge) []interface{} {
	out := make([]interface{}, 0, len(edges))
	for _, e := range edges {
		out = append(out, map[string]interface{}{
			"toId":     e.ToID,
			"type":     e.Type,
			"strength": e.Strength,
			"notes":    e.Notes,
		})
	}
	return out
}

// Targets returns the set of target ids referenced by edges
func Targets(edges []Edge) map[int]struct{} {
	set := make(map[int]struct{}, len(edges))
	for _, e := range edges {
		set[e.ToID] = struct{}{}
	}
	return set
}

func parseBlob(data []byte) []Edge {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return []Edge{}
	}

	// A blob holding a JSON string is not a list
	if list, ok := decoded.([]interface{}); ok {
		return Parse(list)
	}
	return []Edge{}
}

func parseItem(item interface{}) (Edge, bool) {
	switch v := item.(type) {
	case Edge:
		return normalizeEdge(v), true
	case map[string]interface{}:
		toID, ok := asInt(v["toId"])
		if !ok {
			return Edge{}, false
		}
		return Edge{
			ToID:     toID,
			Type:     coerceType(v["type"]),
			Strength: coerceStrength(v["strength"]),
			Notes:    coerceNotes(v["notes"]),
		}, true
	}
	return Edge{}, false
}

func normalizeEdge(e Edge) Edge {
	if e.Type == "" {
		e.Type = DefaultType
	}
	return e
}

func coerceType(v interface{}) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return DefaultType
}

func coerceNotes(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// coerceStrength truncates floats toward zero and parses trimmed decimal strings
func coerceStrength(v interface{}) int {
	switch n := v.(type) {
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
		return DefaultStrength
	case float64:
		return truncate(n)
	case float32:
		return truncate(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return truncate(f)
		}
		return DefaultStrength
	}

	if i, ok := asInt(v); ok {
		return i
	}
	return DefaultStrength
}

func truncate(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return DefaultStrength
	}
	return int(math.Trunc(f))
}

// asInt accepts Go integers, integral floats and integral json.Number
// values that fit in an int
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		if uint64(n) > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float64:
		// MaxInt+1 is a power of two and converts to float64 exactly
		if n != math.Trunc(n) || n < math.MinInt || n >= math.MaxInt+1 {
			return 0, false
		}
		return int(n), true
	case float32:
		return asInt(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return asInt(i)
		}
		if f, err := n.Float64(); err == nil {
			return asInt(f)
		}
	}
	return 0, false
}

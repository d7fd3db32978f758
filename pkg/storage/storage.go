package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrNotFound is returned when a document is not found
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned when a document already exists
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidCollection is returned when a collection name is invalid
	ErrInvalidCollection = errors.New("invalid collection name")
	// ErrInvalidID is returned when ID is invalid
	ErrInvalidID = errors.New("invalid ID")
)

// Collections used by the application
const (
	Projects   = "projects"
	Chapters   = "chapters"
	Scenes     = "scenes"
	Characters = "characters"
	WorldItems = "world_items"
)

// Store defines the core interface for document storage backends.
// Documents are JSON objects keyed by an integer id unique per collection.
type Store interface {
	// Document CRUD operations
	Create(ctx context.Context, collection string, data map[string]interface{}) (int, error)
	Get(ctx context.Context, collection string, id int) (map[string]interface{}, error)
	Update(ctx context.Context, collection string, id int, data map[string]interface{}) error
	Patch(ctx context.Context, collection string, id int, data map[string]interface{}) error
	Delete(ctx context.Context, collection string, id int) error
	Save(ctx context.Context, collection string, id int, data map[string]interface{}) error

	// Query operations
	List(ctx context.Context, collection string) ([]map[string]interface{}, error)
	ListBy(ctx context.Context, collection, field string, value interface{}) ([]map[string]interface{}, error)
	Exists(ctx context.Context, collection string, id int) bool

	// Lifecycle
	Close() error
}

// CollectionLister enumerates the collections holding documents
type CollectionLister interface {
	Collections(ctx context.Context) ([]string, error)
}

// Neighbor is one entry of a relation index lookup
type Neighbor struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	Strength  int                    `json:"strength"`
	Direction string                 `json:"direction"`
	Data      map[string]interface{} `json:"data"`
}

// RelationIndex is implemented by stores that keep a queryable copy of the
// relation lists embedded in documents
type RelationIndex interface {
	GetNeighbors(ctx context.Context, collection string, id int, direction string) ([]Neighbor, error)
	VerifyRelationIndex(ctx context.Context) error
	RebuildRelationIndex(ctx context.Context) error
}

// StoreInfo provides metadata about the store implementation
type StoreInfo struct {
	Type                  string `json:"type"` // "jsonfile", "sqlite"
	Version               string `json:"version"`
	SupportsRelationIndex bool   `json:"supports_relation_index"`
}

// InfoProvider allows stores to provide metadata about their capabilities
type InfoProvider interface {
	Info() StoreInfo
}

// IntField reads an integer document field. JSON decoding yields float64
// for numbers, so integral floats are accepted.
func IntField(doc map[string]interface{}, field string) (int, bool) {
	switch v := doc[field].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// copyDoc returns a shallow copy of data with the id field set
func copyDoc(data map[string]interface{}, id int) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["id"] = id
	return out
}

// mergePatch applies updates onto existing. A nil value removes the key.
func mergePatch(existing, updates map[string]interface{}) {
	for key, value := range updates {
		if key == "id" {
			continue
		}
		if value == nil {
			delete(existing, key)
		} else {
			existing[key] = value
		}
	}
}

// fieldMatches compares a document field against value, numerically when
// both sides are numbers
func fieldMatches(doc map[string]interface{}, field string, value interface{}) bool {
	actual, ok := doc[field]
	if !ok {
		return false
	}
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(value); ok {
			return a == b
		}
	}
	return fmt.Sprint(actual) == fmt.Sprint(value)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sortByID(docs []map[string]interface{}) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, _ := IntField(docs[i], "id")
		b, _ := IntField(docs[j], "id")
		return a < b
	})
}

func validCollection(collection string) error {
	if collection == "" {
		return ErrInvalidCollection
	}
	for _, r := range collection {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
		}
	}
	return nil
}

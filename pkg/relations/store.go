package relations

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when an entity does not exist in the
// requested project
var ErrNotFound = errors.New("relations: entity not found")

// Entity is the part of a catalog entry the engine reads and writes
type Entity struct {
	ID        int
	ProjectID int
	Relations []Edge
}

// Store loads and persists relation lists for one catalog.
//
// Load must scope lookups by project: an entity of another project is
// reported as ErrNotFound. Persist writes only the relation list.
type Store interface {
	Load(ctx context.Context, projectID, id int) (*Entity, error)
	Persist(ctx context.Context, entity *Entity) error
	List(ctx context.Context, projectID int) ([]*Entity, error)
}

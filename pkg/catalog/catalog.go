// Package catalog binds a document collection to its relation engine.
//
// Characters and world items are flat per-project catalogs whose documents
// carry a relations list. Every write that may change that list goes
// through a Catalog so the mirrored edges on other entities stay in sync.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/storage"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the document does not exist
var ErrNotFound = errors.New("catalog: entity not found")

// Catalog manages one collection of related entities
type Catalog struct {
	collection string
	store      storage.Store
	engine     *relations.Engine
}

// New creates a catalog over collection using table for inverse types
func New(store storage.Store, collection string, table relations.Table, logger zerolog.Logger, opts relations.Options) *Catalog {
	return &Catalog{
		collection: collection,
		store:      store,
		engine:     relations.NewEngine(NewDocumentStore(store, collection), table, logger, opts),
	}
}

// Collection returns the storage collection name
func (c *Catalog) Collection() string {
	return c.collection
}

// Engine returns the relation engine of the catalog
func (c *Catalog) Engine() *relations.Engine {
	return c.engine
}

// Get returns a document of the catalog
func (c *Catalog) Get(ctx context.Context, id int) (map[string]interface{}, error) {
	doc, err := c.store.Get(ctx, c.collection, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return doc, err
}

// List returns all documents of the project ordered by id
func (c *Catalog) List(ctx context.Context, projectID int) ([]map[string]interface{}, error) {
	return c.store.ListBy(ctx, c.collection, "project_id", projectID)
}

// Create stores a new document in the project. A relations field in data is
// applied through the engine after the document exists.
func (c *Catalog) Create(ctx context.Context, projectID int, data map[string]interface{}) (map[string]interface{}, relations.Report, error) {
	doc := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		doc[k] = v
	}
	rawRelations, hasRelations := doc["relations"]
	delete(doc, "id")
	doc["project_id"] = projectID
	doc["relations"] = []interface{}{}

	id, err := c.store.Create(ctx, c.collection, doc)
	if err != nil {
		return nil, relations.Report{}, fmt.Errorf("create %s: %w", c.collection, err)
	}

	var report relations.Report
	if hasRelations {
		source := &relations.Entity{ID: id, ProjectID: projectID}
		report, err = c.engine.Apply(ctx, source, rawRelations)
		if err != nil {
			return nil, report, err
		}
	}

	created, err := c.Get(ctx, id)
	return created, report, err
}

// Update patches the document. Fields other than relations are written
// directly; a relations field goes through the engine. The id and
// project_id fields cannot be changed.
func (c *Catalog) Update(ctx context.Context, id int, data map[string]interface{}) (map[string]interface{}, relations.Report, error) {
	existing, err := c.Get(ctx, id)
	if err != nil {
		return nil, relations.Report{}, err
	}
	projectID, _ := storage.IntField(existing, "project_id")

	patch := make(map[string]interface{}, len(data))
	for k, v := range data {
		patch[k] = v
	}
	rawRelations, hasRelations := patch["relations"]
	delete(patch, "relations")
	delete(patch, "id")
	delete(patch, "project_id")

	if len(patch) > 0 {
		if err := c.store.Patch(ctx, c.collection, id, patch); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, relations.Report{}, ErrNotFound
			}
			return nil, relations.Report{}, fmt.Errorf("update %s %d: %w", c.collection, id, err)
		}
	}

	var report relations.Report
	if hasRelations {
		source := &relations.Entity{
			ID:        id,
			ProjectID: projectID,
			Relations: relations.Parse(existing["relations"]),
		}
		report, err = c.engine.Apply(ctx, source, rawRelations)
		if err != nil {
			return nil, report, err
		}
	}

	updated, err := c.Get(ctx, id)
	return updated, report, err
}

// Delete removes the document and every edge other entities of the
// project hold towards it
func (c *Catalog) Delete(ctx context.Context, id int) (relations.Report, error) {
	existing, err := c.Get(ctx, id)
	if err != nil {
		return relations.Report{}, err
	}
	projectID, _ := storage.IntField(existing, "project_id")

	if err := c.store.Delete(ctx, c.collection, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return relations.Report{}, ErrNotFound
		}
		return relations.Report{}, fmt.Errorf("delete %s %d: %w", c.collection, id, err)
	}

	return c.engine.Detach(ctx, projectID, id)
}

// DeleteProject removes every document of the project. No edges are
// detached since all possible holders are removed too.
func (c *Catalog) DeleteProject(ctx context.Context, projectID int) (int, error) {
	docs, err := c.List(ctx, projectID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range docs {
		id, ok := storage.IntField(doc, "id")
		if !ok {
			continue
		}
		if err := c.store.Delete(ctx, c.collection, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return removed, fmt.Errorf("delete %s %d: %w", c.collection, id, err)
		}
		removed++
	}
	return removed, nil
}

// Audit reports relation inconsistencies in the project
func (c *Catalog) Audit(ctx context.Context, projectID int) ([]relations.Violation, error) {
	return c.engine.Audit(ctx, projectID)
}

// Repair re-mirrors every relation list of the project
func (c *Catalog) Repair(ctx context.Context, projectID int) (relations.Report, error) {
	return c.engine.Repair(ctx, projectID)
}

// Catalogs holds the catalogs served by the application
type Catalogs struct {
	Characters *Catalog
	WorldItems *Catalog
}

// NewCatalogs creates the character and world item catalogs over store
func NewCatalogs(store storage.Store, logger zerolog.Logger, opts relations.Options) *Catalogs {
	return &Catalogs{
		Characters: New(store, storage.Characters, relations.Characters, logger, opts),
		WorldItems: New(store, storage.WorldItems, relations.WorldItems, logger, opts),
	}
}

// All returns the catalogs in a stable order
func (c *Catalogs) All() []*Catalog {
	return []*Catalog{c.Characters, c.WorldItems}
}

// ByCollection looks up a catalog by its collection name
func (c *Catalogs) ByCollection(collection string) (*Catalog, bool) {
	for _, cat := range c.All() {
		if cat.Collection() == collection {
			return cat, true
		}
	}
	return nil, false
}

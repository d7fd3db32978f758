package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/storage"
)

// DocumentStore exposes one storage collection as a relations.Store.
// Loads are scoped to a project and persists only write the relations field.
type DocumentStore struct {
	store      storage.Store
	collection string
}

// NewDocumentStore adapts collection of store
func NewDocumentStore(store storage.Store, collection string) *DocumentStore {
	return &DocumentStore{store: store, collection: collection}
}

// Load returns the entity or relations.ErrNotFound when it is missing or
// belongs to another project
func (d *DocumentStore) Load(ctx context.Context, projectID, id int) (*relations.Entity, error) {
	doc, err := d.store.Get(ctx, d.collection, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, relations.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	entity := toEntity(doc, id)
	if entity.ProjectID != projectID {
		return nil, relations.ErrNotFound
	}
	return entity, nil
}

// Persist writes entity.Relations back to its document
func (d *DocumentStore) Persist(ctx context.Context, entity *relations.Entity) error {
	err := d.store.Patch(ctx, d.collection, entity.ID, map[string]interface{}{
		"relations": relations.Encode(entity.Relations),
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %d: %w", d.collection, entity.ID, relations.ErrNotFound)
	}
	return err
}

// List returns all entities of the project
func (d *DocumentStore) List(ctx context.Context, projectID int) ([]*relations.Entity, error) {
	docs, err := d.store.ListBy(ctx, d.collection, "project_id", projectID)
	if err != nil {
		return nil, err
	}

	entities := make([]*relations.Entity, 0, len(docs))
	for _, doc := range docs {
		id, ok := storage.IntField(doc, "id")
		if !ok {
			continue
		}
		entities = append(entities, toEntity(doc, id))
	}
	return entities, nil
}

func toEntity(doc map[string]interface{}, id int) *relations.Entity {
	projectID, _ := storage.IntField(doc, "project_id")
	return &relations.Entity{
		ID:        id,
		ProjectID: projectID,
		Relations: relations.Parse(doc["relations"]),
	}
}

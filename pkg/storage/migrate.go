package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/ha1tch/quill/pkg/relations"
)

// MigrationReport counts what Migrate copied
type MigrationReport struct {
	Documents map[string]int `json:"documents"`
	Edges     int            `json:"edges"`
	Skipped   int            `json:"skipped"`
}

// Migrate copies every document of src into dst keeping ids. Collections
// are taken from src when it can enumerate them, else the built-in ones
// are copied. Documents without a valid id are skipped. A relation index
// in dst is verified afterwards.
func Migrate(ctx context.Context, src, dst Store) (MigrationReport, error) {
	report := MigrationReport{Documents: make(map[string]int)}

	collections := []string{Projects, Chapters, Scenes, Characters, WorldItems}
	if lister, ok := src.(CollectionLister); ok {
		listed, err := lister.Collections(ctx)
		if err != nil {
			return report, fmt.Errorf("list collections: %w", err)
		}
		collections = listed
	}
	sort.Strings(collections)

	for _, collection := range collections {
		docs, err := src.List(ctx, collection)
		if err != nil {
			return report, fmt.Errorf("list %s: %w", collection, err)
		}

		for _, doc := range docs {
			id, ok := IntField(doc, "id")
			if !ok || id <= 0 {
				report.Skipped++
				continue
			}
			if err := dst.Save(ctx, collection, id, doc); err != nil {
				return report, fmt.Errorf("migrate %s:%d: %w", collection, id, err)
			}
			report.Documents[collection]++
			report.Edges += len(relations.Normalize(doc["relations"], id))
		}
	}

	if index, ok := dst.(RelationIndex); ok {
		if err := index.VerifyRelationIndex(ctx); err != nil {
			return report, fmt.Errorf("relation index check failed: %w", err)
		}
	}

	return report, nil
}

package storage_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ha1tch/quill/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJSONFileTest(t *testing.T) storage.Store {
	t.Helper()

	store, err := storage.NewStore("jsonfile", map[string]interface{}{
		"base_dir": t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

// backends runs fn against every built-in store
func backends(t *testing.T, fn func(t *testing.T, store storage.Store)) {
	t.Run("jsonfile", func(t *testing.T) {
		fn(t, setupJSONFileTest(t))
	})
	t.Run("sqlite", func(t *testing.T) {
		store, cleanup := setupSQLiteTest(t)
		defer cleanup()
		fn(t, store)
	})
}

func character(projectID int, name string) map[string]interface{} {
	return map[string]interface{}{
		"project_id": projectID,
		"name":       name,
		"role":       "",
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		input := character(1, "Ada")
		id, err := store.Create(ctx, storage.Characters, input)
		require.NoError(t, err)
		assert.Equal(t, 1, id)
		assert.NotContains(t, input, "id", "input map must not be mutated")

		doc, err := store.Get(ctx, storage.Characters, id)
		require.NoError(t, err)
		assert.Equal(t, "Ada", doc["name"])
		assert.Equal(t, float64(1), doc["project_id"])
		assert.Equal(t, float64(id), doc["id"])

		second, err := store.Create(ctx, storage.Characters, character(1, "Bo"))
		require.NoError(t, err)
		assert.Equal(t, 2, second)

		// Sequences are per collection
		other, err := store.Create(ctx, storage.WorldItems, map[string]interface{}{"name": "Burg"})
		require.NoError(t, err)
		assert.Equal(t, 1, other)
	})
}

func TestStore_GetNotFound(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		_, err := store.Get(context.Background(), storage.Characters, 404)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_Update(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		id, err := store.Create(ctx, storage.Characters, character(1, "Ada"))
		require.NoError(t, err)

		err = store.Update(ctx, storage.Characters, id, map[string]interface{}{"name": "Ada L."})
		require.NoError(t, err)

		doc, err := store.Get(ctx, storage.Characters, id)
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", doc["name"])
		assert.NotContains(t, doc, "project_id")

		err = store.Update(ctx, storage.Characters, 999, map[string]interface{}{"name": "x"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_Patch(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		id, err := store.Create(ctx, storage.Characters, map[string]interface{}{
			"project_id": 1,
			"name":       "Ada",
			"age":        "36",
		})
		require.NoError(t, err)

		err = store.Patch(ctx, storage.Characters, id, map[string]interface{}{
			"name": "Ada L.",
			"age":  nil,
			"id":   77,
		})
		require.NoError(t, err)

		doc, err := store.Get(ctx, storage.Characters, id)
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", doc["name"])
		assert.Equal(t, float64(1), doc["project_id"])
		assert.NotContains(t, doc, "age")
		assert.Equal(t, float64(id), doc["id"])

		err = store.Patch(ctx, storage.Characters, 999, map[string]interface{}{"name": "x"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_Delete(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		id, err := store.Create(ctx, storage.Scenes, map[string]interface{}{"title": "Neue Szene"})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, storage.Scenes, id))
		assert.False(t, store.Exists(ctx, storage.Scenes, id))

		assert.ErrorIs(t, store.Delete(ctx, storage.Scenes, id), storage.ErrNotFound)
	})
}

func TestStore_Save(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, storage.Projects, 10, map[string]interface{}{"title": "Saga"}))

		err := store.Save(ctx, storage.Projects, 10, map[string]interface{}{"title": "Again"})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)

		assert.ErrorIs(t, store.Save(ctx, storage.Projects, 0, map[string]interface{}{}), storage.ErrInvalidID)

		// The sequence continues after the saved id
		id, err := store.Create(ctx, storage.Projects, map[string]interface{}{"title": "Next"})
		require.NoError(t, err)
		assert.Equal(t, 11, id)
	})
}

func TestStore_ListOrdersByID(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		empty, err := store.List(ctx, storage.Chapters)
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)

		for i := 0; i < 12; i++ {
			_, err := store.Create(ctx, storage.Chapters, map[string]interface{}{"title": fmt.Sprintf("Kapitel %d", i)})
			require.NoError(t, err)
		}

		docs, err := store.List(ctx, storage.Chapters)
		require.NoError(t, err)
		require.Len(t, docs, 12)
		for i, doc := range docs {
			id, ok := storage.IntField(doc, "id")
			require.True(t, ok)
			assert.Equal(t, i+1, id)
		}
	})
}

func TestStore_ListBy(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		for _, c := range []map[string]interface{}{
			character(1, "Ada"),
			character(2, "Bo"),
			character(1, "Cy"),
			{"name": "orphan"},
		} {
			_, err := store.Create(ctx, storage.Characters, c)
			require.NoError(t, err)
		}

		docs, err := store.ListBy(ctx, storage.Characters, "project_id", 1)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "Ada", docs[0]["name"])
		assert.Equal(t, "Cy", docs[1]["name"])

		// Values decoded from JSON arrive as float64
		docs, err = store.ListBy(ctx, storage.Characters, "project_id", float64(2))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Bo", docs[0]["name"])

		docs, err = store.ListBy(ctx, storage.Characters, "project_id", 3)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestStore_RelationsRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		id, err := store.Create(ctx, storage.Characters, map[string]interface{}{
			"project_id": 1,
			"name":       "Ada",
			"relations": []interface{}{
				map[string]interface{}{"toId": 2, "type": "Mentor", "strength": 4, "notes": ""},
			},
		})
		require.NoError(t, err)

		doc, err := store.Get(ctx, storage.Characters, id)
		require.NoError(t, err)

		list, ok := doc["relations"].([]interface{})
		require.True(t, ok)
		require.Len(t, list, 1)
		edge := list[0].(map[string]interface{})
		assert.Equal(t, float64(2), edge["toId"])
		assert.Equal(t, "Mentor", edge["type"])
	})
}

func TestStore_ConcurrentCreates(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		const count = 20
		var wg sync.WaitGroup
		ids := make(chan int, count)

		for i := 0; i < count; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id, err := store.Create(ctx, storage.Characters, character(1, fmt.Sprintf("Figur %d", n)))
				assert.NoError(t, err)
				ids <- id
			}(i)
		}
		wg.Wait()
		close(ids)

		seen := make(map[int]bool)
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}

		docs, err := store.List(ctx, storage.Characters)
		require.NoError(t, err)
		assert.Len(t, docs, count)
	})
}

func TestStore_Collections(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()

		_, err := store.Create(ctx, storage.Projects, map[string]interface{}{"title": "Saga"})
		require.NoError(t, err)
		_, err = store.Create(ctx, storage.Characters, character(1, "Ada"))
		require.NoError(t, err)

		lister, ok := store.(storage.CollectionLister)
		require.True(t, ok)

		collections, err := lister.Collections(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{storage.Projects, storage.Characters}, collections)
	})
}

func TestStore_InvalidCollection(t *testing.T) {
	backends(t, func(t *testing.T, store storage.Store) {
		_, err := store.Create(context.Background(), "../escape", map[string]interface{}{})
		assert.ErrorIs(t, err, storage.ErrInvalidCollection)
	})
}

func TestJSONFileStore_FileLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewJSONFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := store.Create(ctx, storage.WorldItems, map[string]interface{}{"name": "Burg"})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, storage.WorldItems, fmt.Sprintf("%d.json", id)))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, storage.WorldItems, "_next_id.json"))
	assert.NoError(t, err)

	// A reopened store continues the sequence
	reopened, err := storage.NewJSONFileStore(dir)
	require.NoError(t, err)
	next, err := reopened.Create(ctx, storage.WorldItems, map[string]interface{}{"name": "Turm"})
	require.NoError(t, err)
	assert.Equal(t, id+1, next)

	assert.Equal(t, "jsonfile", store.Info().Type)
	assert.False(t, store.Info().SupportsRelationIndex)
}

func TestIntField(t *testing.T) {
	doc := map[string]interface{}{
		"a": 3,
		"b": float64(4),
		"c": 4.5,
		"d": "7",
		"e": "x",
		"f": true,
	}

	tests := []struct {
		field string
		want  int
		ok    bool
	}{
		{"a", 3, true},
		{"b", 4, true},
		{"c", 0, false},
		{"d", 7, true},
		{"e", 0, false},
		{"f", 0, false},
		{"missing", 0, false},
	}

	for _, tt := range tests {
		got, ok := storage.IntField(doc, tt.field)
		assert.Equal(t, tt.ok, ok, tt.field)
		assert.Equal(t, tt.want, got, tt.field)
	}
}

func TestListStores(t *testing.T) {
	assert.Equal(t, []string{"jsonfile", "sqlite"}, storage.ListStores())

	_, err := storage.NewStore("postgres", nil)
	assert.Error(t, err)
}

func TestNewStore_UnknownType(t *testing.T) {
	assert.Equal(t, []string{"jsonfile", "sqlite"}, storage.ListStores())

	_, err := storage.NewStore("postgres", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jsonfile, sqlite")
}

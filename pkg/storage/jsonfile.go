package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONFileStore implements Store using one JSON file per document under
// baseDir/<collection>/<id>.json
type JSONFileStore struct {
	baseDir string
	locks   map[string]*sync.RWMutex
	locksMu sync.Mutex
}

// NewJSONFileStore creates a new JSON file-based storage
func NewJSONFileStore(baseDir string) (*JSONFileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &JSONFileStore{
		baseDir: baseDir,
		locks:   make(map[string]*sync.RWMutex),
	}, nil
}

// Info returns store information
func (s *JSONFileStore) Info() StoreInfo {
	return StoreInfo{
		Type:    "jsonfile",
		Version: "1.0.0",
	}
}

// collectionLock gets or creates the lock guarding one collection's files
func (s *JSONFileStore) collectionLock(collection string) *sync.RWMutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.locks[collection]; exists {
		return lock
	}

	lock := &sync.RWMutex{}
	s.locks[collection] = lock
	return lock
}

// CollectionDir returns the directory path for a collection
func (s *JSONFileStore) CollectionDir(collection string) string {
	return filepath.Join(s.baseDir, collection)
}

func (s *JSONFileStore) documentFile(collection string, id int) string {
	return filepath.Join(s.CollectionDir(collection), fmt.Sprintf("%d.json", id))
}

func (s *JSONFileStore) nextIDFile(collection string) string {
	return filepath.Join(s.CollectionDir(collection), "_next_id.json")
}

// NextID gets the next available ID for a collection
func (s *JSONFileStore) NextID(ctx context.Context, collection string) (int, error) {
	if err := validCollection(collection); err != nil {
		return 0, err
	}

	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	return s.nextID(collection)
}

// nextID requires the collection lock
func (s *JSONFileStore) nextID(collection string) (int, error) {
	if err := os.MkdirAll(s.CollectionDir(collection), 0755); err != nil {
		return 0, fmt.Errorf("failed to create collection directory: %w", err)
	}

	nextID := 1
	if data, err := os.ReadFile(s.nextIDFile(collection)); err == nil {
		var idData struct {
			NextID int `json:"next_id"`
		}
		if err := json.Unmarshal(data, &idData); err == nil && idData.NextID > 0 {
			nextID = idData.NextID
		}
	}

	if err := s.writeNextID(collection, nextID+1); err != nil {
		return 0, err
	}
	return nextID, nil
}

func (s *JSONFileStore) writeNextID(collection string, next int) error {
	data, err := json.Marshal(struct {
		NextID int `json:"next_id"`
	}{NextID: next})
	if err != nil {
		return err
	}
	return writeFileAtomic(s.nextIDFile(collection), data)
}

// Create creates a new document with auto-generated ID
func (s *JSONFileStore) Create(ctx context.Context, collection string, data map[string]interface{}) (int, error) {
	if err := validCollection(collection); err != nil {
		return 0, err
	}

	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	id, err := s.nextID(collection)
	if err != nil {
		return 0, err
	}

	if err := s.write(collection, id, copyDoc(data, id)); err != nil {
		return 0, err
	}
	return id, nil
}

// Get retrieves a document by ID
func (s *JSONFileStore) Get(ctx context.Context, collection string, id int) (map[string]interface{}, error) {
	lock := s.collectionLock(collection)
	lock.RLock()
	defer lock.RUnlock()

	return s.read(collection, id)
}

func (s *JSONFileStore) read(collection string, id int) (map[string]interface{}, error) {
	data, err := os.ReadFile(s.documentFile(collection, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s with id %d", ErrNotFound, collection, id)
		}
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s/%d: %w", collection, id, err)
	}
	return result, nil
}

func (s *JSONFileStore) write(collection string, id int, doc map[string]interface{}) error {
	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return writeFileAtomic(s.documentFile(collection, id), jsonData)
}

func (s *JSONFileStore) exists(collection string, id int) bool {
	_, err := os.Stat(s.documentFile(collection, id))
	return err == nil
}

// Update replaces a document completely
func (s *JSONFileStore) Update(ctx context.Context, collection string, id int, data map[string]interface{}) error {
	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	if !s.exists(collection, id) {
		return fmt.Errorf("%w: %s with id %d", ErrNotFound, collection, id)
	}
	return s.write(collection, id, copyDoc(data, id))
}

// Patch partially updates a document
func (s *JSONFileStore) Patch(ctx context.Context, collection string, id int, updates map[string]interface{}) error {
	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.read(collection, id)
	if err != nil {
		return err
	}

	mergePatch(existing, updates)
	existing["id"] = id

	return s.write(collection, id, existing)
}

// Delete removes a document
func (s *JSONFileStore) Delete(ctx context.Context, collection string, id int) error {
	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	if !s.exists(collection, id) {
		return fmt.Errorf("%w: %s with id %d", ErrNotFound, collection, id)
	}
	return os.Remove(s.documentFile(collection, id))
}

// Save stores a document under a specific ID, failing if it exists
func (s *JSONFileStore) Save(ctx context.Context, collection string, id int, data map[string]interface{}) error {
	if err := validCollection(collection); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidID
	}

	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	if s.exists(collection, id) {
		return fmt.Errorf("%w: %s with id %d", ErrAlreadyExists, collection, id)
	}

	if err := os.MkdirAll(s.CollectionDir(collection), 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	// Keep the sequence ahead of explicitly saved ids
	next := 1
	if data, err := os.ReadFile(s.nextIDFile(collection)); err == nil {
		var idData struct {
			NextID int `json:"next_id"`
		}
		if json.Unmarshal(data, &idData) == nil {
			next = idData.NextID
		}
	}
	if id >= next {
		if err := s.writeNextID(collection, id+1); err != nil {
			return err
		}
	}

	return s.write(collection, id, copyDoc(data, id))
}

// List returns all documents of a collection ordered by id
func (s *JSONFileStore) List(ctx context.Context, collection string) ([]map[string]interface{}, error) {
	lock := s.collectionLock(collection)
	lock.RLock()
	defer lock.RUnlock()

	dir := s.CollectionDir(collection)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []map[string]interface{}{}, nil
		}
		return nil, err
	}

	results := []map[string]interface{}{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" || file.Name() == "_next_id.json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}

		results = append(results, doc)
	}

	sortByID(results)
	return results, nil
}

// ListBy returns the documents whose field equals value, ordered by id
func (s *JSONFileStore) ListBy(ctx context.Context, collection, field string, value interface{}) ([]map[string]interface{}, error) {
	all, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	for _, doc := range all {
		if fieldMatches(doc, field, value) {
			results = append(results, doc)
		}
	}
	return results, nil
}

// Exists checks if a document exists
func (s *JSONFileStore) Exists(ctx context.Context, collection string, id int) bool {
	lock := s.collectionLock(collection)
	lock.RLock()
	defer lock.RUnlock()

	return s.exists(collection, id)
}

// Close closes the storage
func (s *JSONFileStore) Close() error {
	return nil
}

// Collections returns all collection directories under the base directory
func (s *JSONFileStore) Collections(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	collections := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			collections = append(collections, entry.Name())
		}
	}
	return collections, nil
}

// writeFileAtomic writes through a temp file so readers never observe a
// partially written document
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

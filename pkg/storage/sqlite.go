package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ha1tch/quill/pkg/relations"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements Store using a SQLite database. Documents live as
// JSON text in the entities table; the relation list of every document is
// mirrored into relation_edges within the same transaction.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	config SQLiteConfig
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	DBPath      string
	EnableWAL   bool // Write-Ahead Logging for better concurrency
	CacheSize   int  // Page cache size in KB
	BusyTimeout int  // Milliseconds to wait on locked database
}

// NewSQLiteStore creates a new SQLite-based storage
func NewSQLiteStore(dbPath string, config SQLiteConfig) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "quill.db"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		config: config,
	}

	if err := store.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSize),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeout),
	}
	if s.config.EnableWAL {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			entity_type TEXT NOT NULL,
			id INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (entity_type, id)
		);

		CREATE INDEX IF NOT EXISTS idx_entity_type ON entities(entity_type);
		CREATE INDEX IF NOT EXISTS idx_updated_at ON entities(updated_at);

		-- One row per stored edge, rewritten with the owning document
		CREATE TABLE IF NOT EXISTS relation_edges (
			entity_type TEXT NOT NULL,
			source_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			relation_type TEXT NOT NULL,
			strength INTEGER NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (entity_type, source_id, position)
		);

		CREATE INDEX IF NOT EXISTS idx_relation_target ON relation_edges(entity_type, target_id);

		CREATE TABLE IF NOT EXISTS entity_sequences (
			entity_type TEXT PRIMARY KEY,
			next_id INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// Info returns store information
func (s *SQLiteStore) Info() StoreInfo {
	return StoreInfo{
		Type:                  "sqlite",
		Version:               "1.0.0",
		SupportsRelationIndex: true,
	}
}

// Create inserts a new document with auto-generated ID
func (s *SQLiteStore) Create(ctx context.Context, collection string, data map[string]interface{}) (int, error) {
	if err := validCollection(collection); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var nextID int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO entity_sequences (entity_type, next_id)
		VALUES (?, 1)
		ON CONFLICT(entity_type) DO UPDATE SET next_id = next_id + 1
		RETURNING next_id
	`, collection).Scan(&nextID)
	if err != nil {
		return 0, fmt.Errorf("failed to get next ID: %w", err)
	}

	doc := copyDoc(data, nextID)
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, data)
		VALUES (?, ?, ?)
	`, collection, nextID, string(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	if err := syncRelationEdges(ctx, tx, collection, nextID, doc); err != nil {
		return 0, fmt.Errorf("failed to sync relation index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	return nextID, nil
}

// syncRelationEdges replaces the indexed edges of one document
func syncRelationEdges(ctx context.Context, tx *sql.Tx, collection string, sourceID int, doc map[string]interface{}) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM relation_edges
		WHERE entity_type = ? AND source_id = ?
	`, collection, sourceID)
	if err != nil {
		return err
	}

	raw, ok := doc["relations"]
	if !ok {
		return nil
	}

	for position, edge := range relations.Normalize(raw, sourceID) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relation_edges (entity_type, source_id, target_id, relation_type, strength, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, collection, sourceID, edge.ToID, edge.Type, edge.Strength, position)
		if err != nil {
			return err
		}
	}

	return nil
}

// Get retrieves a document by ID
func (s *SQLiteStore) Get(ctx context.Context, collection string, id int) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jsonData string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM entities
		WHERE entity_type = ? AND id = ?
	`, collection, id).Scan(&jsonData)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s with id %d", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(jsonData), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return result, nil
}

// Update replaces a document completely
func (s *SQLiteStore) Update(ctx context.Context, collection string, id int, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeDocument(ctx, tx, collection, id, copyDoc(data, id)); err != nil {
		return err
	}

	return tx.Commit()
}

// writeDocument overwrites an existing row and resyncs its relation edges
func writeDocument(ctx context.Context, tx *sql.Tx, collection string, id int, doc map[string]interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE entities
		SET data = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity_type = ? AND id = ?
	`, string(jsonData), collection, id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s with id %d", ErrNotFound, collection, id)
	}

	if err := syncRelationEdges(ctx, tx, collection, id, doc); err != nil {
		return fmt.Errorf("failed to sync relation index: %w", err)
	}
	return nil
}

// Patch partially updates a document
func (s *SQLiteStore) Patch(ctx context.Context, collection string, id int, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var jsonData string
	err = tx.QueryRowContext(ctx, `
		SELECT data FROM entities
		WHERE entity_type = ? AND id = ?
	`, collection, id).Scan(&jsonData)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s with id %d", ErrNotFound, collection, id)
	}
	if err != nil {
		return fmt.Errorf("failed to query document: %w", err)
	}

	var existing map[string]interface{}
	if err := json.Unmarshal([]byte(jsonData), &existing); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	mergePatch(existing, updates)
	existing["id"] = id

	if err := writeDocument(ctx, tx, collection, id, existing); err != nil {
		return err
	}

	return tx.Commit()
}

// Delete removes a document and its outgoing indexed edges. Edges stored
// on other documents that point at it are left for the relation engine.
func (s *SQLiteStore) Delete(ctx context.Context, collection string, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM entities
		WHERE entity_type = ? AND id = ?
	`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s with id %d", ErrNotFound, collection, id)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM relation_edges
		WHERE entity_type = ? AND source_id = ?
	`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete relation edges: %w", err)
	}

	return tx.Commit()
}

// Save creates a document with a specific ID (fails if exists)
func (s *SQLiteStore) Save(ctx context.Context, collection string, id int, data map[string]interface{}) error {
	if err := validCollection(collection); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM entities WHERE entity_type = ? AND id = ?)
	`, collection, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s with id %d", ErrAlreadyExists, collection, id)
	}

	doc := copyDoc(data, id)
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Keep the sequence ahead of explicitly saved ids. next_id holds the
	// last issued id.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_sequences (entity_type, next_id)
		VALUES (?, ?)
		ON CONFLICT(entity_type) DO UPDATE
		SET next_id = MAX(next_id, excluded.next_id)
	`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, data)
		VALUES (?, ?, ?)
	`, collection, id, string(jsonData))
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	if err := syncRelationEdges(ctx, tx, collection, id, doc); err != nil {
		return fmt.Errorf("failed to sync relation index: %w", err)
	}

	return tx.Commit()
}

// List returns all documents of a collection ordered by id
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM entities
		WHERE entity_type = ?
		ORDER BY id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListBy returns documents whose top-level field equals value
func (s *SQLiteStore) ListBy(ctx context.Context, collection, field string, value interface{}) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f, ok := value.(float64); ok && f == float64(int64(f)) {
		value = int64(f)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM entities
		WHERE entity_type = ?
		  AND json_extract(data, '$.' || ?) = ?
		ORDER BY id
	`, collection, field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]map[string]interface{}, error) {
	results := []map[string]interface{}{}
	for rows.Next() {
		var jsonData string
		if err := rows.Scan(&jsonData); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data: %w", err)
		}

		results = append(results, data)
	}

	return results, rows.Err()
}

// Exists checks if a document exists
func (s *SQLiteStore) Exists(ctx context.Context, collection string, id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM entities WHERE entity_type = ? AND id = ?)
	`, collection, id).Scan(&exists)

	return err == nil && exists
}

// Collections returns the distinct collections holding documents
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT entity_type FROM entities ORDER BY entity_type")
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	collections := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		collections = append(collections, name)
	}
	return collections, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetNeighbors returns the documents linked to id through the relation
// index. direction "out" follows the document's own edges, "in" finds the
// documents whose edges point at id.
func (s *SQLiteStore) GetNeighbors(ctx context.Context, collection string, id int, direction string) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	switch direction {
	case "out":
		query = `
			SELECT e.id, e.data, r.relation_type, r.strength
			FROM relation_edges r
			JOIN entities e ON e.entity_type = r.entity_type AND e.id = r.target_id
			WHERE r.entity_type = ? AND r.source_id = ?
			ORDER BY r.position
		`
	case "in":
		query = `
			SELECT e.id, e.data, r.relation_type, r.strength
			FROM relation_edges r
			JOIN entities e ON e.entity_type = r.entity_type AND e.id = r.source_id
			WHERE r.entity_type = ? AND r.target_id = ?
			ORDER BY e.id, r.position
		`
	default:
		return nil, fmt.Errorf("invalid direction: %s (must be 'in' or 'out')", direction)
	}

	rows, err := s.db.QueryContext(ctx, query, collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get neighbors: %w", err)
	}
	defer rows.Close()

	results := []Neighbor{}
	for rows.Next() {
		var n Neighbor
		var jsonData string
		if err := rows.Scan(&n.ID, &jsonData, &n.Type, &n.Strength); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(jsonData), &n.Data); err != nil {
			return nil, err
		}
		n.Direction = direction
		results = append(results, n)
	}

	return results, rows.Err()
}

type indexedEdge struct {
	collection string
	sourceID   int
	position   int
	targetID   int
	relType    string
	strength   int
}

func (e indexedEdge) String() string {
	return fmt.Sprintf("%s:%d[%d] -> %d (%s, %d)",
		e.collection, e.sourceID, e.position, e.targetID, e.relType, e.strength)
}

// VerifyRelationIndex checks that relation_edges matches the relation
// lists stored in the documents
func (s *SQLiteStore) VerifyRelationIndex(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT entity_type, id, data FROM entities")
	if err != nil {
		return err
	}
	defer rows.Close()

	expected := make(map[indexedEdge]bool)
	for rows.Next() {
		var collection, jsonData string
		var id int
		if err := rows.Scan(&collection, &id, &jsonData); err != nil {
			return err
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
			continue
		}
		raw, ok := data["relations"]
		if !ok {
			continue
		}
		for position, edge := range relations.Normalize(raw, id) {
			expected[indexedEdge{collection, id, position, edge.ToID, edge.Type, edge.Strength}] = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	actualRows, err := s.db.QueryContext(ctx,
		"SELECT entity_type, source_id, position, target_id, relation_type, strength FROM relation_edges")
	if err != nil {
		return err
	}
	defer actualRows.Close()

	actual := make(map[indexedEdge]bool)
	for actualRows.Next() {
		var e indexedEdge
		if err := actualRows.Scan(&e.collection, &e.sourceID, &e.position, &e.targetID, &e.relType, &e.strength); err != nil {
			return err
		}
		actual[e] = true
	}
	if err := actualRows.Err(); err != nil {
		return err
	}

	var missing, unexpected []string
	for edge := range expected {
		if !actual[edge] {
			missing = append(missing, edge.String())
		}
	}
	for edge := range actual {
		if !expected[edge] {
			unexpected = append(unexpected, edge.String())
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("relation index error: missing edge: %s", missing[0])
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return fmt.Errorf("relation index error: unexpected edge: %s", unexpected[0])
	}
	return nil
}

// RebuildRelationIndex rebuilds relation_edges from the stored documents
func (s *SQLiteStore) RebuildRelationIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM relation_edges"); err != nil {
		return err
	}

	type document struct {
		collection string
		id         int
		data       map[string]interface{}
	}

	rows, err := tx.QueryContext(ctx, "SELECT entity_type, id, data FROM entities")
	if err != nil {
		return err
	}

	var docs []document
	for rows.Next() {
		var d document
		var jsonData string
		if err := rows.Scan(&d.collection, &d.id, &jsonData); err != nil {
			rows.Close()
			return err
		}
		if err := json.Unmarshal([]byte(jsonData), &d.data); err != nil {
			continue
		}
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range docs {
		if err := syncRelationEdges(ctx, tx, d.collection, d.id, d.data); err != nil {
			return fmt.Errorf("failed to index %s/%d: %w", d.collection, d.id, err)
		}
	}

	return tx.Commit()
}

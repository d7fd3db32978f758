package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ha1tch/quill/pkg/cache"
	"github.com/ha1tch/quill/pkg/catalog"
	"github.com/ha1tch/quill/pkg/graph"
	"github.com/ha1tch/quill/pkg/models"
	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/storage"
)

const (
	defaultPathDepth = 6
	cacheTimeout     = 5 * time.Second
)

// catalogRoutes serves one catalog of related entities
type catalogRoutes struct {
	server  *Server
	catalog *catalog.Catalog
	path    string // URL segment, e.g. "world-items"
	view    string // graph view name, e.g. "world-graph"
	label   string // document field shown on graph nodes
	group   string // document field grouping graph nodes
	title   string // graph page title
}

func (c catalogRoutes) collection() string {
	return c.catalog.Collection()
}

// handleList lists the catalog entries of a project
func (c catalogRoutes) handleList(w http.ResponseWriter, r *http.Request) {
	s := c.server
	projectID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	key := cache.CollectionKey(c.collection(), projectID)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	if !s.storage.Exists(ctx, storage.Projects, projectID) {
		s.writeNotFound(w, storage.Projects)
		return
	}

	docs, err := c.catalog.List(ctx, projectID)
	if err != nil {
		s.storeFailure(w, err, c.collection())
		return
	}
	docs = nonNil(docs)

	_ = s.cache.Set(ctx, key, docs, 0)
	s.writeJSON(w, http.StatusOK, docs)
}

// handleCreate creates an entry. Relations in the body are mirrored onto
// their targets.
func (c catalogRoutes) handleCreate(w http.ResponseWriter, r *http.Request) {
	s := c.server
	projectID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if !s.storage.Exists(ctx, storage.Projects, projectID) {
		s.writeNotFound(w, storage.Projects)
		return
	}

	data, ok := s.decodeBody(w, r, c.collection(), false)
	if !ok {
		return
	}

	doc, report, err := c.catalog.Create(ctx, projectID, models.NewDocument(c.collection(), data))
	s.invalidateCatalog(c.collection(), projectID)
	if err != nil {
		c.failure(w, err)
		return
	}

	c.logReport("Created", doc, report)
	s.writeJSON(w, http.StatusCreated, doc)
}

// handleGet returns one entry
func (c catalogRoutes) handleGet(w http.ResponseWriter, r *http.Request) {
	s := c.server
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	key := cache.DocumentKey(c.collection(), id)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	doc, err := c.catalog.Get(ctx, id)
	if err != nil {
		c.failure(w, err)
		return
	}

	_ = s.cache.Set(ctx, key, doc, 0)
	s.writeJSON(w, http.StatusOK, doc)
}

// handleUpdate updates an entry. Only a relations field in the body
// touches other entries.
func (c catalogRoutes) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s := c.server
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	data, ok := s.decodeBody(w, r, c.collection(), true)
	if !ok {
		return
	}

	doc, report, err := c.catalog.Update(ctx, id, data)
	if doc != nil {
		projectID, _ := storage.IntField(doc, "project_id")
		s.invalidateCatalog(c.collection(), projectID)
	} else {
		s.invalidateCollection(c.collection())
	}
	if err != nil {
		c.failure(w, err)
		return
	}

	c.logReport("Updated", doc, report)
	s.writeJSON(w, http.StatusOK, doc)
}

// handleDelete deletes an entry and every relation pointing at it
func (c catalogRoutes) handleDelete(w http.ResponseWriter, r *http.Request) {
	s := c.server
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	existing, err := c.catalog.Get(ctx, id)
	if err != nil {
		c.failure(w, err)
		return
	}
	projectID, _ := storage.IntField(existing, "project_id")

	report, err := c.catalog.Delete(ctx, id)
	s.invalidateCatalog(c.collection(), projectID)
	if err != nil {
		c.failure(w, err)
		return
	}

	c.logReport("Deleted", existing, report)
	s.writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
}

// handleNeighbors lists the entries an entry points at (direction=out) or
// the entries pointing at it (direction=in)
func (c catalogRoutes) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	s := c.server
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	direction := r.URL.Query().Get("direction")
	if direction == "" {
		direction = "out"
	}
	if direction != "out" && direction != "in" {
		s.writeError(w, http.StatusBadRequest, "direction must be 'out' or 'in'")
		return
	}

	doc, err := c.catalog.Get(ctx, id)
	if err != nil {
		c.failure(w, err)
		return
	}

	var neighbors []storage.Neighbor
	if index, ok := s.storage.(storage.RelationIndex); ok {
		neighbors, err = index.GetNeighbors(ctx, c.collection(), id, direction)
	} else {
		projectID, _ := storage.IntField(doc, "project_id")
		neighbors, err = c.graphNeighbors(ctx, projectID, id, direction)
	}
	if err != nil {
		s.storeFailure(w, err, c.collection())
		return
	}
	if neighbors == nil {
		neighbors = []storage.Neighbor{}
	}

	s.writeJSON(w, http.StatusOK, models.NeighborsResponse{ID: id, Direction: direction, Neighbors: neighbors})
}

// graphNeighbors answers a neighbor lookup from the project graph for
// stores without a relation index
func (c catalogRoutes) graphNeighbors(ctx context.Context, projectID, id int, direction string) ([]storage.Neighbor, error) {
	docs, err := c.catalog.List(ctx, projectID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]map[string]interface{}, len(docs))
	for _, doc := range docs {
		docID, _ := storage.IntField(doc, "id")
		byID[docID] = doc
	}

	g := graph.FromDocuments(docs, c.label, c.group)
	var links []graph.Link
	if direction == "in" {
		links = g.Incoming(id)
	} else {
		links = g.Neighbors(id)
	}

	neighbors := make([]storage.Neighbor, 0, len(links))
	for _, link := range links {
		other := link.To
		if direction == "in" {
			other = link.From
		}
		neighbors = append(neighbors, storage.Neighbor{
			ID:        other,
			Type:      link.Type,
			Strength:  link.Strength,
			Direction: direction,
			Data:      byID[other],
		})
	}
	return neighbors, nil
}

// handleGraph serves the relation graph of a project as JSON, or as an
// HTML page for format=html or browsers asking for text/html
func (c catalogRoutes) handleGraph(w http.ResponseWriter, r *http.Request) {
	s := c.server
	projectID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if !s.storage.Exists(ctx, storage.Projects, projectID) {
		s.writeNotFound(w, storage.Projects)
		return
	}

	if wantsHTML(r) {
		g, err := c.projectGraph(ctx, projectID)
		if err != nil {
			s.storeFailure(w, err, c.collection())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := graph.RenderHTML(w, c.title, g.View()); err != nil {
			s.logger.Error().Err(err).Str("view", c.view).Msg("Failed to render graph")
		}
		return
	}

	key := cache.ViewKey(c.view, projectID)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	g, err := c.projectGraph(ctx, projectID)
	if err != nil {
		s.storeFailure(w, err, c.collection())
		return
	}
	view := g.View()

	_ = s.cache.Set(ctx, key, view, 0)
	s.writeJSON(w, http.StatusOK, view)
}

// handlePath finds the shortest relation path between two entries
func (c catalogRoutes) handlePath(w http.ResponseWriter, r *http.Request) {
	s := c.server
	projectID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	from, errFrom := strconv.Atoi(query.Get("from"))
	to, errTo := strconv.Atoi(query.Get("to"))
	if errFrom != nil || errTo != nil {
		s.writeError(w, http.StatusBadRequest, "from and to must be integer ids")
		return
	}
	maxDepth := defaultPathDepth
	if v := query.Get("max_depth"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil || depth < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid max_depth")
			return
		}
		maxDepth = depth
	}

	g, err := c.projectGraph(r.Context(), projectID)
	if err != nil {
		s.storeFailure(w, err, c.collection())
		return
	}

	path, err := g.FindPath(from, to, maxDepth)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, models.PathResponse{From: from, To: to, Length: len(path) - 1, Path: path})
}

func (c catalogRoutes) projectGraph(ctx context.Context, projectID int) (*graph.IndexedGraph, error) {
	docs, err := c.catalog.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return graph.FromDocuments(docs, c.label, c.group), nil
}

// failure maps catalog and engine errors to responses
func (c catalogRoutes) failure(w http.ResponseWriter, err error) {
	s := c.server
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, storage.ErrNotFound) {
		s.writeNotFound(w, c.collection())
		return
	}
	s.logger.Error().Err(err).Str("collection", c.collection()).Msg("Relation sync failed")
	s.writeError(w, http.StatusInternalServerError, "Failed to update relations")
}

func (c catalogRoutes) logReport(action string, doc map[string]interface{}, report relations.Report) {
	id, _ := storage.IntField(doc, "id")
	c.server.logger.Info().
		Str("collection", c.collection()).
		Int("id", id).
		Ints("upserted", report.Upserted).
		Ints("removed", report.Removed).
		Ints("skipped", report.Skipped).
		Msg(action + " entry")
}

// handleAudit reports relation inconsistencies of every catalog of a project
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if !s.storage.Exists(ctx, storage.Projects, projectID) {
		s.writeNotFound(w, storage.Projects)
		return
	}

	results := make([]models.AuditResponse, 0, len(s.catalogs.All()))
	for _, cat := range s.catalogs.All() {
		violations, err := cat.Audit(ctx, projectID)
		if err != nil {
			s.storeFailure(w, err, cat.Collection())
			return
		}
		if violations == nil {
			violations = []relations.Violation{}
		}
		results = append(results, models.AuditResponse{
			ProjectID:  projectID,
			Collection: cat.Collection(),
			Violations: violations,
		})
	}

	s.writeJSON(w, http.StatusOK, results)
}

// handleRepair re-mirrors every relation of every catalog of a project
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if !s.storage.Exists(ctx, storage.Projects, projectID) {
		s.writeNotFound(w, storage.Projects)
		return
	}

	results := make([]models.RepairResponse, 0, len(s.catalogs.All()))
	for _, cat := range s.catalogs.All() {
		report, err := cat.Repair(ctx, projectID)
		s.invalidateCatalog(cat.Collection(), projectID)
		if err != nil {
			s.storeFailure(w, err, cat.Collection())
			return
		}
		results = append(results, models.RepairResponse{
			ProjectID:  projectID,
			Collection: cat.Collection(),
			Report:     report,
		})
	}

	s.logger.Info().Int("project_id", projectID).Msg("Repaired relations")
	s.writeJSON(w, http.StatusOK, results)
}

// invalidateCatalog drops the cached listing, documents and graph view of
// a catalog in a project. Relation writes change other documents of the
// catalog, so every cached document of the collection goes.
func (s *Server) invalidateCatalog(collection string, projectID int) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	_ = s.cache.Delete(ctx, cache.CollectionKey(collection, projectID))
	_ = s.cache.DeletePattern(ctx, collection+":doc:*")
	for _, view := range viewsOf(collection) {
		_ = s.cache.Delete(ctx, cache.ViewKey(view, projectID))
	}
}

// invalidateCollection drops every cached entry of a collection
func (s *Server) invalidateCollection(collection string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	_ = s.cache.DeletePattern(ctx, collection+":*")
	for _, view := range viewsOf(collection) {
		_ = s.cache.DeletePattern(ctx, "view:"+view+":*")
	}
}

func viewsOf(collection string) []string {
	switch collection {
	case storage.Characters:
		return []string{"relations-graph"}
	case storage.WorldItems:
		return []string{"world-graph"}
	}
	return nil
}

func wantsHTML(r *http.Request) bool {
	if format := r.URL.Query().Get("format"); format != "" {
		return format == "html"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

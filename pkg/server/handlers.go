package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ha1tch/quill/pkg/models"
	"github.com/ha1tch/quill/pkg/storage"
)

// nouns names a collection in error messages
var nouns = map[string]string{
	storage.Projects:   "Project",
	storage.Chapters:   "Chapter",
	storage.Scenes:     "Scene",
	storage.Characters: "Character",
	storage.WorldItems: "World item",
}

// parentOf maps a child collection to its parent collection
var parentOf = map[string]string{
	storage.Chapters:   storage.Projects,
	storage.Scenes:     storage.Chapters,
	storage.Characters: storage.Projects,
	storage.WorldItems: storage.Projects,
}

// handleListProjects lists projects, most recently updated first
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.storage.List(r.Context(), storage.Projects)
	if err != nil {
		s.storeFailure(w, err, storage.Projects)
		return
	}
	models.SortByUpdated(projects)
	s.writeJSON(w, http.StatusOK, nonNil(projects))
}

// handleCreateProject creates a project
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	data, ok := s.decodeBody(w, r, storage.Projects, false)
	if !ok {
		return
	}

	doc := models.NewDocument(storage.Projects, data)
	models.Touch(doc, s.now(), true)

	s.createAndRespond(w, r, storage.Projects, doc)
}

// handleGetProject returns a project with its ordered chapter summaries
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	project, err := s.storage.Get(r.Context(), storage.Projects, id)
	if err != nil {
		s.storeFailure(w, err, storage.Projects)
		return
	}

	chapters, err := s.orderedChildren(r.Context(), storage.Chapters, id)
	if err != nil {
		s.storeFailure(w, err, storage.Chapters)
		return
	}
	project["chapters"] = models.Summarize(chapters)

	s.writeJSON(w, http.StatusOK, project)
}

// handleUpdateProject updates the given project fields
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	s.updateDocument(w, r, storage.Projects)
}

// handleDeleteProject deletes a project with all of its content
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if !s.storage.Exists(ctx, storage.Projects, id) {
		s.writeNotFound(w, storage.Projects)
		return
	}

	chapters, err := s.storage.ListBy(ctx, storage.Chapters, "project_id", id)
	if err != nil {
		s.storeFailure(w, err, storage.Chapters)
		return
	}
	for _, chapter := range chapters {
		chapterID, _ := storage.IntField(chapter, "id")
		if err := s.deleteChapter(ctx, chapterID); err != nil {
			s.storeFailure(w, err, storage.Chapters)
			return
		}
	}

	for _, cat := range s.catalogs.All() {
		removed, err := cat.DeleteProject(ctx, id)
		if err != nil {
			s.storeFailure(w, err, cat.Collection())
			return
		}
		s.invalidateCatalog(cat.Collection(), id)
		s.logger.Debug().Str("collection", cat.Collection()).Int("project_id", id).Int("removed", removed).Msg("Deleted catalog entries")
	}

	if err := s.storage.Delete(ctx, storage.Projects, id); err != nil {
		s.storeFailure(w, err, storage.Projects)
		return
	}

	s.logger.Info().Int("project_id", id).Int("chapters", len(chapters)).Msg("Deleted project")
	s.writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
}

// handleBook returns the project as chapters with their scenes in reading order
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	project, err := s.storage.Get(ctx, storage.Projects, id)
	if err != nil {
		s.storeFailure(w, err, storage.Projects)
		return
	}

	chapters, err := s.orderedChildren(ctx, storage.Chapters, id)
	if err != nil {
		s.storeFailure(w, err, storage.Chapters)
		return
	}

	book := models.Book{Project: project, Chapters: make([]models.BookChapter, 0, len(chapters))}
	for _, chapter := range chapters {
		chapterID, _ := storage.IntField(chapter, "id")
		scenes, err := s.orderedChildren(ctx, storage.Scenes, chapterID)
		if err != nil {
			s.storeFailure(w, err, storage.Scenes)
			return
		}
		book.Chapters = append(book.Chapters, models.NewBookChapter(chapter, scenes))
	}

	s.writeJSON(w, http.StatusOK, book)
}

// handleListChapters lists the chapters of a project by order_index
func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	s.listChildren(w, r, storage.Chapters)
}

// handleCreateChapter creates a chapter in a project
func (s *Server) handleCreateChapter(w http.ResponseWriter, r *http.Request) {
	s.createChild(w, r, storage.Chapters)
}

// handleGetChapter returns a chapter
func (s *Server) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	s.getDocument(w, r, storage.Chapters)
}

// handleUpdateChapter updates a chapter
func (s *Server) handleUpdateChapter(w http.ResponseWriter, r *http.Request) {
	s.updateDocument(w, r, storage.Chapters)
}

// handleDeleteChapter deletes a chapter and its scenes
func (s *Server) handleDeleteChapter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.deleteChapter(r.Context(), id); err != nil {
		s.storeFailure(w, err, storage.Chapters)
		return
	}

	s.logger.Info().Int("chapter_id", id).Msg("Deleted chapter")
	s.writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
}

// handleListScenes lists the scenes of a chapter by order_index
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	s.listChildren(w, r, storage.Scenes)
}

// handleCreateScene creates a scene in a chapter
func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	s.createChild(w, r, storage.Scenes)
}

// handleGetScene returns a scene
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	s.getDocument(w, r, storage.Scenes)
}

// handleUpdateScene updates a scene
func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	s.updateDocument(w, r, storage.Scenes)
}

// handleDeleteScene deletes a scene
func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.storage.Delete(r.Context(), storage.Scenes, id); err != nil {
		s.storeFailure(w, err, storage.Scenes)
		return
	}

	s.writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
}

// deleteChapter removes a chapter after its scenes
func (s *Server) deleteChapter(ctx context.Context, id int) error {
	if !s.storage.Exists(ctx, storage.Chapters, id) {
		return storage.ErrNotFound
	}

	scenes, err := s.storage.ListBy(ctx, storage.Scenes, "chapter_id", id)
	if err != nil {
		return err
	}
	for _, scene := range scenes {
		sceneID, _ := storage.IntField(scene, "id")
		if err := s.storage.Delete(ctx, storage.Scenes, sceneID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete scene %d: %w", sceneID, err)
		}
	}

	return s.storage.Delete(ctx, storage.Chapters, id)
}

// listChildren writes the ordered children of the parent named in the path
func (s *Server) listChildren(w http.ResponseWriter, r *http.Request, collection string) {
	parentID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if !s.storage.Exists(r.Context(), parentOf[collection], parentID) {
		s.writeNotFound(w, parentOf[collection])
		return
	}

	docs, err := s.orderedChildren(r.Context(), collection, parentID)
	if err != nil {
		s.storeFailure(w, err, collection)
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

// createChild creates a document below the parent named in the path
func (s *Server) createChild(w http.ResponseWriter, r *http.Request, collection string) {
	parentID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if !s.storage.Exists(r.Context(), parentOf[collection], parentID) {
		s.writeNotFound(w, parentOf[collection])
		return
	}

	data, ok := s.decodeBody(w, r, collection, false)
	if !ok {
		return
	}

	doc := models.NewDocument(collection, data)
	doc[models.ParentField(collection)] = parentID
	models.Touch(doc, s.now(), false)

	s.createAndRespond(w, r, collection, doc)
}

func (s *Server) createAndRespond(w http.ResponseWriter, r *http.Request, collection string, doc map[string]interface{}) {
	id, err := s.storage.Create(r.Context(), collection, doc)
	if err != nil {
		s.storeFailure(w, err, collection)
		return
	}

	created, err := s.storage.Get(r.Context(), collection, id)
	if err != nil {
		s.storeFailure(w, err, collection)
		return
	}

	s.logger.Info().Str("collection", collection).Int("id", id).Msg("Created document")
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request, collection string) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	doc, err := s.storage.Get(r.Context(), collection, id)
	if err != nil {
		s.storeFailure(w, err, collection)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// updateDocument patches the fields present in the body. The id, parent
// and created_at fields are kept.
func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request, collection string) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	data, ok := s.decodeBody(w, r, collection, true)
	if !ok {
		return
	}

	delete(data, "id")
	delete(data, "created_at")
	if parent := models.ParentField(collection); parent != "" {
		delete(data, parent)
	}
	models.Touch(data, s.now(), false)

	if err := s.storage.Patch(r.Context(), collection, id, data); err != nil {
		s.storeFailure(w, err, collection)
		return
	}

	updated, err := s.storage.Get(r.Context(), collection, id)
	if err != nil {
		s.storeFailure(w, err, collection)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// orderedChildren lists the documents whose parent field is parentID
// ordered by order_index, then id
func (s *Server) orderedChildren(ctx context.Context, collection string, parentID int) ([]map[string]interface{}, error) {
	docs, err := s.storage.ListBy(ctx, collection, models.ParentField(collection), parentID)
	if err != nil {
		return nil, err
	}
	models.SortByOrder(docs)
	return nonNil(docs), nil
}

// Helper functions

// decodeBody reads a JSON object body and validates it. An empty body
// decodes to an empty object. On failure the error response is written and
// false returned.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, collection string, partial bool) (map[string]interface{}, bool) {
	body := r.Body
	if s.config.MaxEntitySize > 0 {
		body = http.MaxBytesReader(w, r.Body, int64(s.config.MaxEntitySize))
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Entity too large (max: %d bytes)", s.config.MaxEntitySize))
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}

	data := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON")
			return nil, false
		}
		if data == nil {
			data = map[string]interface{}{}
		}
	}

	if valid, details := s.validator.Validate(collection, data, partial); !valid {
		s.writeValidationError(w, details)
		return nil, false
	}
	return data, true
}

// pathID parses the id URL parameter
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		s.writeError(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}

// storeFailure maps a storage error to a 404 or a logged 500
func (s *Server) storeFailure(w http.ResponseWriter, err error, collection string) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeNotFound(w, collection)
		return
	}
	s.logger.Error().Err(err).Str("collection", collection).Msg("Storage operation failed")
	s.writeError(w, http.StatusInternalServerError, "Storage operation failed")
}

func (s *Server) writeNotFound(w http.ResponseWriter, collection string) {
	s.writeError(w, http.StatusNotFound, nouns[collection]+" not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	var resp models.ErrorResponse
	resp.Error.Message = message
	resp.Error.Status = status
	s.writeJSON(w, status, resp)
}

func (s *Server) writeValidationError(w http.ResponseWriter, details []string) {
	var resp models.ErrorResponse
	resp.Error.Message = "Validation failed"
	resp.Error.Status = http.StatusBadRequest
	resp.Error.Details = details
	s.writeJSON(w, http.StatusBadRequest, resp)
}

func nonNil(docs []map[string]interface{}) []map[string]interface{} {
	if docs == nil {
		return []map[string]interface{}{}
	}
	return docs
}

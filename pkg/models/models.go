package models

import (
	"sort"
	"time"

	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/storage"
)

// TimeFormat is used for created_at and updated_at
const TimeFormat = "2006-01-02T15:04:05.000000"

// defaults holds the field values of a freshly created document
var defaults = map[string]map[string]interface{}{
	storage.Projects: {
		"title":       "Neues Projekt",
		"description": "",
	},
	storage.Chapters: {
		"title":       "Neues Kapitel",
		"order_index": 0,
		"content":     "",
	},
	storage.Scenes: {
		"title":       "Neue Szene",
		"order_index": 0,
		"content":     "",
	},
	storage.Characters: {
		"name":        "Neue Figur",
		"role":        "",
		"age":         "",
		"description": "",
	},
	storage.WorldItems: {
		"name":        "Neues Element",
		"kind":        "Allgemein",
		"description": "",
		"icon":        "",
	},
}

// parents maps a nested collection to the field holding its parent id
var parents = map[string]string{
	storage.Chapters:   "project_id",
	storage.Scenes:     "chapter_id",
	storage.Characters: "project_id",
	storage.WorldItems: "project_id",
}

// NewDocument returns data completed with the collection defaults. Keys
// present in data win; data itself is not modified.
func NewDocument(collection string, data map[string]interface{}) map[string]interface{} {
	doc := make(map[string]interface{}, len(data)+len(defaults[collection]))
	for k, v := range defaults[collection] {
		doc[k] = v
	}
	for k, v := range data {
		doc[k] = v
	}
	if collection == storage.WorldItems {
		if _, ok := doc["props"]; !ok {
			doc["props"] = map[string]interface{}{}
		}
	}
	delete(doc, "id")
	return doc
}

// ParentField returns the parent id field of a collection, or "" for
// top-level collections
func ParentField(collection string) string {
	return parents[collection]
}

// Touch stamps updated_at, and created_at when created is set
func Touch(doc map[string]interface{}, now time.Time, created bool) {
	stamp := now.UTC().Format(TimeFormat)
	if created {
		doc["created_at"] = stamp
	}
	doc["updated_at"] = stamp
}

// SortByOrder orders documents by order_index, then id
func SortByOrder(docs []map[string]interface{}) {
	sort.SliceStable(docs, func(i, j int) bool {
		oi, _ := storage.IntField(docs[i], "order_index")
		oj, _ := storage.IntField(docs[j], "order_index")
		if oi != oj {
			return oi < oj
		}
		ii, _ := storage.IntField(docs[i], "id")
		ij, _ := storage.IntField(docs[j], "id")
		return ii < ij
	})
}

// SortByUpdated orders documents by updated_at, newest first
func SortByUpdated(docs []map[string]interface{}) {
	sort.SliceStable(docs, func(i, j int) bool {
		ui, _ := docs[i]["updated_at"].(string)
		uj, _ := docs[j]["updated_at"].(string)
		return ui > uj
	})
}

// ChapterSummary is the lightweight chapter entry of a project
type ChapterSummary struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	OrderIndex int    `json:"order_index"`
}

// BookScene is a scene inside the book structure
type BookScene struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	OrderIndex int    `json:"order_index"`
	Content    string `json:"content"`
}

// BookChapter is a chapter with its ordered scenes
type BookChapter struct {
	ID         int         `json:"id"`
	Title      string      `json:"title"`
	OrderIndex int         `json:"order_index"`
	Scenes     []BookScene `json:"scenes"`
}

// Book is a project with its chapters and scenes in reading order
type Book struct {
	Project  map[string]interface{} `json:"project"`
	Chapters []BookChapter          `json:"chapters"`
}

// Summarize converts chapter documents to summaries
func Summarize(chapters []map[string]interface{}) []ChapterSummary {
	out := make([]ChapterSummary, 0, len(chapters))
	for _, c := range chapters {
		id, _ := storage.IntField(c, "id")
		order, _ := storage.IntField(c, "order_index")
		title, _ := c["title"].(string)
		out = append(out, ChapterSummary{ID: id, Title: title, OrderIndex: order})
	}
	return out
}

// NewBookChapter builds a book chapter from a chapter and its scene documents
func NewBookChapter(chapter map[string]interface{}, scenes []map[string]interface{}) BookChapter {
	summary := Summarize([]map[string]interface{}{chapter})[0]
	bc := BookChapter{
		ID:         summary.ID,
		Title:      summary.Title,
		OrderIndex: summary.OrderIndex,
		Scenes:     make([]BookScene, 0, len(scenes)),
	}
	for _, s := range scenes {
		id, _ := storage.IntField(s, "id")
		order, _ := storage.IntField(s, "order_index")
		title, _ := s["title"].(string)
		content, _ := s["content"].(string)
		bc.Scenes = append(bc.Scenes, BookScene{ID: id, Title: title, OrderIndex: order, Content: content})
	}
	return bc
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error struct {
		Message string   `json:"message"`
		Status  int      `json:"status"`
		Details []string `json:"details,omitempty"`
	} `json:"error"`
}

// OKResponse is returned by deletes
type OKResponse struct {
	OK bool `json:"ok"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// VersionResponse describes the running server
type VersionResponse struct {
	Version string            `json:"version"`
	Storage storage.StoreInfo `json:"storage"`
}

// AuditResponse lists relation inconsistencies of a project
type AuditResponse struct {
	ProjectID  int                   `json:"project_id"`
	Collection string                `json:"collection"`
	Violations []relations.Violation `json:"violations"`
}

// RepairResponse lists the edges rewritten by a repair
type RepairResponse struct {
	ProjectID  int              `json:"project_id"`
	Collection string           `json:"collection"`
	Report     relations.Report `json:"report"`
}

// NeighborsResponse lists the relations touching one entity
type NeighborsResponse struct {
	ID        int                `json:"id"`
	Direction string             `json:"direction"`
	Neighbors []storage.Neighbor `json:"neighbors"`
}

// PathResponse is a shortest relation path between two entities
type PathResponse struct {
	From   int   `json:"from"`
	To     int   `json:"to"`
	Length int   `json:"length"`
	Path   []int `json:"path"`
}

// Package relations keeps mirrored relation lists consistent.
//
// Every catalog entity stores its own outgoing edges. The Engine is the only
// code path that writes those lists: whenever a source entity's list changes
// it upserts or removes the reciprocal edge on each affected target, using a
// Table to pick the inverse relation type.
package relations

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes engine behaviour
type Options struct {
	// Locking serializes read-modify-write cycles per entity within this
	// process. Without it two reconciles touching the same target can lose
	// one of their updates.
	Locking bool
}

// Report lists the target ids touched by an operation
type Report struct {
	Upserted []int `json:"upserted"`
	Removed  []int `json:"removed"`
	Skipped  []int `json:"skipped"`
}

func (r *Report) merge(other Report) {
	r.Upserted = append(r.Upserted, other.Upserted...)
	r.Removed = append(r.Removed, other.Removed...)
	r.Skipped = append(r.Skipped, other.Skipped...)
}

// Engine reconciles relation lists of a single catalog
type Engine struct {
	store  Store
	table  Table
	logger zerolog.Logger
	locks  *keyedMutex
}

// NewEngine creates an engine over store using table for inverse types
func NewEngine(store Store, table Table, logger zerolog.Logger, opts Options) *Engine {
	e := &Engine{
		store:  store,
		table:  table,
		logger: logger.With().Str("catalog", table.Name()).Logger(),
	}
	if opts.Locking {
		e.locks = newKeyedMutex()
	}
	return e
}

// Table returns the reciprocal table the engine uses
func (e *Engine) Table() Table {
	return e.table
}

// Reconcile mirrors newRaw onto the targets of source. The previous list is
// read from the store; if source is not persisted yet, source.Relations is
// used instead. The source's own list is not written.
func (e *Engine) Reconcile(ctx context.Context, source *Entity, newRaw interface{}) (Report, error) {
	old, err := e.persistedRelations(ctx, source)
	if err != nil {
		return Report{}, err
	}
	return e.ReconcileFrom(ctx, source, newRaw, old)
}

// ReconcileFrom is Reconcile with an explicitly supplied previous list
func (e *Engine) ReconcileFrom(ctx context.Context, source *Entity, newRaw, oldRaw interface{}) (Report, error) {
	logger := e.logger.With().
		Str("op", uuid.NewString()).
		Int("project", source.ProjectID).
		Int("source", source.ID).
		Logger()

	newEdges := e.normalize(newRaw, source.ID)
	oldEdges := e.normalize(oldRaw, source.ID)

	report, err := e.reconcile(ctx, logger, source, newEdges, oldEdges)
	if err != nil {
		logger.Error().Err(err).Msg("Reconcile aborted")
		return report, err
	}

	logger.Debug().
		Ints("upserted", report.Upserted).
		Ints("removed", report.Removed).
		Ints("skipped", report.Skipped).
		Msg("Reconciled relations")
	return report, nil
}

// Apply reconciles newRaw against the persisted list and then stores the
// normalized list, with aliases resolved, on source. Handlers must route
// every relation change through Apply.
func (e *Engine) Apply(ctx context.Context, source *Entity, newRaw interface{}) (Report, error) {
	newEdges := e.normalize(newRaw, source.ID)

	report, err := e.Reconcile(ctx, source, newEdges)
	if err != nil {
		return report, err
	}

	unlock := e.lock(source.ProjectID, source.ID)
	defer unlock()

	updated := &Entity{ID: source.ID, ProjectID: source.ProjectID, Relations: newEdges}
	if err := e.store.Persist(ctx, updated); err != nil {
		return report, fmt.Errorf("persist source %d: %w", source.ID, err)
	}
	source.Relations = newEdges

	return report, nil
}

// Detach removes every edge pointing at id from the other entities of the
// project. It scans the whole project, so edges missing from the deleted
// entity's own list are removed too.
func (e *Engine) Detach(ctx context.Context, projectID, id int) (Report, error) {
	logger := e.logger.With().
		Str("op", uuid.NewString()).
		Int("project", projectID).
		Int("deleted", id).
		Logger()

	entities, err := e.store.List(ctx, projectID)
	if err != nil {
		return Report{}, fmt.Errorf("list project %d: %w", projectID, err)
	}

	var report Report
	for _, other := range entities {
		if other.ID == id {
			continue
		}

		changed := false
		found, err := e.mutate(ctx, projectID, other.ID, func(t *Entity) bool {
			t.Relations, changed = removeEdgesTo(t.Relations, id)
			return changed
		})
		if err != nil {
			logger.Error().Err(err).Msg("Detach aborted")
			return report, err
		}
		if found && changed {
			report.Removed = append(report.Removed, other.ID)
		}
	}

	logger.Debug().Ints("removed", report.Removed).Msg("Detached entity")
	return report, nil
}

// Repair re-runs reconciliation for every entity of the project, in id
// order, using each entity's stored list as both old and new state. Aliased
// types stored on an entity are rewritten to their canonical form first.
func (e *Engine) Repair(ctx context.Context, projectID int) (Report, error) {
	entities, err := e.store.List(ctx, projectID)
	if err != nil {
		return Report{}, fmt.Errorf("list project %d: %w", projectID, err)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	var report Report
	for _, listed := range entities {
		if _, err := e.mutate(ctx, projectID, listed.ID, e.resolveAliases); err != nil {
			return report, err
		}

		// Earlier iterations may have rewritten this entity
		current, err := e.store.Load(ctx, projectID, listed.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("load %d: %w", listed.ID, err)
		}

		r, err := e.ReconcileFrom(ctx, current, current.Relations, current.Relations)
		report.merge(r)
		if err != nil {
			return report, err
		}
	}

	return report, nil
}

func (e *Engine) reconcile(ctx context.Context, logger zerolog.Logger, source *Entity, newEdges, oldEdges []Edge) (Report, error) {
	var report Report

	for _, edge := range newEdges {
		inverse := e.table.Inverse(edge.Type)
		strength := edge.Strength

		found, err := e.mutate(ctx, source.ProjectID, edge.ToID, func(t *Entity) bool {
			t.Relations = upsertBackEdge(t.Relations, source.ID, inverse, strength)
			return true
		})
		if err != nil {
			return report, err
		}
		if !found {
			logger.Debug().Int("target", edge.ToID).Msg("Skipping dangling relation")
			report.Skipped = append(report.Skipped, edge.ToID)
			continue
		}
		report.Upserted = append(report.Upserted, edge.ToID)
	}

	newTargets := Targets(newEdges)
	for _, id := range removedTargets(oldEdges, newTargets) {
		found, err := e.mutate(ctx, source.ProjectID, id, func(t *Entity) bool {
			var changed bool
			t.Relations, changed = removeEdgesTo(t.Relations, source.ID)
			return changed
		})
		if err != nil {
			return report, err
		}
		if !found {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		report.Removed = append(report.Removed, id)
	}

	return report, nil
}

// mutate loads one target, applies fn and persists when fn reports a change.
// Missing and cross-project targets return found == false without error.
func (e *Engine) mutate(ctx context.Context, projectID, id int, fn func(*Entity) bool) (bool, error) {
	unlock := e.lock(projectID, id)
	defer unlock()

	target, err := e.store.Load(ctx, projectID, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load target %d: %w", id, err)
	}
	if target.ProjectID != projectID {
		return false, nil
	}

	target.Relations = Parse(target.Relations)
	if !fn(target) {
		return true, nil
	}

	if err := e.store.Persist(ctx, target); err != nil {
		return true, fmt.Errorf("persist target %d: %w", id, err)
	}
	return true, nil
}

// normalize parses raw, drops self references and resolves aliases
func (e *Engine) normalize(raw interface{}, ownID int) []Edge {
	edges := Normalize(raw, ownID)
	for i := range edges {
		edges[i].Type = e.table.Canonical(edges[i].Type)
	}
	return edges
}

func (e *Engine) resolveAliases(t *Entity) bool {
	changed := false
	for i, edge := range t.Relations {
		if canonical := e.table.Canonical(edge.Type); canonical != edge.Type {
			t.Relations[i].Type = canonical
			changed = true
		}
	}
	return changed
}

func (e *Engine) lock(projectID, id int) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.Lock(entityKey{project: projectID, id: id})
}

func (e *Engine) persistedRelations(ctx context.Context, source *Entity) ([]Edge, error) {
	stored, err := e.store.Load(ctx, source.ProjectID, source.ID)
	if errors.Is(err, ErrNotFound) {
		return Parse(source.Relations), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load source %d: %w", source.ID, err)
	}
	return stored.Relations, nil
}

// upsertBackEdge rewrites the first edge to sourceID and drops any further
// duplicates, or appends a fresh edge when none exists. Notes on an existing
// edge are kept.
func upsertBackEdge(edges []Edge, sourceID int, relType string, strength int) []Edge {
	out := make([]Edge, 0, len(edges)+1)
	found := false

	for _, edge := range edges {
		if edge.ToID != sourceID {
			out = append(out, edge)
			continue
		}
		if found {
			continue
		}
		edge.Type = relType
		edge.Strength = strength
		out = append(out, edge)
		found = true
	}

	if !found {
		out = append(out, Edge{ToID: sourceID, Type: relType, Strength: strength, Notes: ""})
	}
	return out
}

func removeEdgesTo(edges []Edge, id int) ([]Edge, bool) {
	out := make([]Edge, 0, len(edges))
	for _, edge := range edges {
		if edge.ToID != id {
			out = append(out, edge)
		}
	}
	return out, len(out) != len(edges)
}

// removedTargets returns ids present in old but not in newTargets, sorted
func removedTargets(old []Edge, newTargets map[int]struct{}) []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, edge := range old {
		if _, kept := newTargets[edge.ToID]; kept {
			continue
		}
		if _, dup := seen[edge.ToID]; dup {
			continue
		}
		seen[edge.ToID] = struct{}{}
		ids = append(ids, edge.ToID)
	}
	sort.Ints(ids)
	return ids
}

package relations

import (
	"context"
	"fmt"
	"sort"
)

// Violation kinds reported by Audit
const (
	ViolationDangling  = "dangling"
	ViolationMissing   = "missing_back_edge"
	ViolationType      = "type_mismatch"
	ViolationStrength  = "strength_mismatch"
	ViolationDuplicate = "duplicate_back_edge"
)

// Violation describes one edge whose mirror is not consistent
type Violation struct {
	Kind     string `json:"kind"`
	SourceID int    `json:"source_id"`
	TargetID int    `json:"target_id"`
	Type     string `json:"type"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (v Violation) String() string {
	switch v.Kind {
	case ViolationType, ViolationStrength:
		return fmt.Sprintf("%s: %d -> %d (%s) expected %s, got %s",
			v.Kind, v.SourceID, v.TargetID, v.Type, v.Expected, v.Actual)
	default:
		return fmt.Sprintf("%s: %d -> %d (%s)", v.Kind, v.SourceID, v.TargetID, v.Type)
	}
}

// Audit checks every edge of the project against its mirror without
// writing anything. The mirror's stored type must equal the inverse of the
// edge's type exactly, so an alias left on a mirror edge is reported.
func (e *Engine) Audit(ctx context.Context, projectID int) ([]Violation, error) {
	entities, err := e.store.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project %d: %w", projectID, err)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	byID := make(map[int]*Entity, len(entities))
	for _, ent := range entities {
		byID[ent.ID] = ent
	}

	violations := []Violation{}
	for _, source := range entities {
		for _, edge := range Normalize(source.Relations, source.ID) {
			target, ok := byID[edge.ToID]
			if !ok {
				violations = append(violations, Violation{
					Kind: ViolationDangling, SourceID: source.ID, TargetID: edge.ToID, Type: edge.Type,
				})
				continue
			}

			var back []Edge
			for _, candidate := range Parse(target.Relations) {
				if candidate.ToID == source.ID {
					back = append(back, candidate)
				}
			}

			base := Violation{SourceID: source.ID, TargetID: target.ID, Type: edge.Type}
			switch {
			case len(back) == 0:
				base.Kind = ViolationMissing
				violations = append(violations, base)
				continue
			case len(back) > 1:
				dup := base
				dup.Kind = ViolationDuplicate
				violations = append(violations, dup)
			}

			mirror := back[0]
			if mirror.Type != e.table.Inverse(edge.Type) {
				mismatch := base
				mismatch.Kind = ViolationType
				mismatch.Expected = e.table.Inverse(edge.Type)
				mismatch.Actual = mirror.Type
				violations = append(violations, mismatch)
			}
			if mirror.Strength != edge.Strength {
				mismatch := base
				mismatch.Kind = ViolationStrength
				mismatch.Expected = fmt.Sprint(edge.Strength)
				mismatch.Actual = fmt.Sprint(mirror.Strength)
				violations = append(violations, mismatch)
			}
		}
	}

	return violations, nil
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ha1tch/quill/pkg/catalog"
	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/storage"
	"github.com/spf13/cobra"
)

var relationFlags struct {
	project    int
	collection string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report relations whose mirror edge is missing or inconsistent",
	Long: `Check every relation of the selected projects against its mirror on the
target entity. Nothing is written. Exits non-zero when violations exist.

Examples:
  quill-admin audit
  quill-admin audit --project 3 --collection characters`,
	RunE: runAudit,
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-mirror every relation of the selected projects",
	Long: `Reconcile every entity of the selected projects against its own relation
list, writing the mirror edges on the targets.

Examples:
  quill-admin repair --project 3`,
	RunE: runRepair,
}

func init() {
	for _, cmd := range []*cobra.Command{auditCmd, repairCmd} {
		cmd.Flags().IntVarP(&relationFlags.project, "project", "p", 0, "project id (default: all projects)")
		cmd.Flags().StringVarP(&relationFlags.collection, "collection", "c", "", "characters or world_items (default: both)")
	}
}

// relationTargets opens the store and resolves the selected catalogs and projects
func relationTargets(ctx context.Context) (storage.Store, []*catalog.Catalog, []int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	catalogs := catalog.NewCatalogs(store, newLogger(), relations.Options{Locking: true})
	selected := catalogs.All()
	if relationFlags.collection != "" {
		cat, ok := catalogs.ByCollection(relationFlags.collection)
		if !ok {
			store.Close()
			return nil, nil, nil, fmt.Errorf("unknown collection: %s", relationFlags.collection)
		}
		selected = []*catalog.Catalog{cat}
	}

	if relationFlags.project > 0 {
		if !store.Exists(ctx, storage.Projects, relationFlags.project) {
			store.Close()
			return nil, nil, nil, fmt.Errorf("project %d not found", relationFlags.project)
		}
		return store, selected, []int{relationFlags.project}, nil
	}

	projects, err := store.List(ctx, storage.Projects)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("list projects: %w", err)
	}
	ids := make([]int, 0, len(projects))
	for _, p := range projects {
		if id, ok := storage.IntField(p, "id"); ok {
			ids = append(ids, id)
		}
	}
	return store, selected, ids, nil
}

func runAudit(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	store, catalogs, projects, err := relationTargets(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	total := 0
	for _, projectID := range projects {
		for _, cat := range catalogs {
			violations, err := cat.Audit(ctx, projectID)
			if err != nil {
				return fmt.Errorf("audit %s of project %d: %w", cat.Collection(), projectID, err)
			}
			printViolations(out, projectID, cat.Collection(), violations)
			total += len(violations)
		}
	}

	if total > 0 {
		return fmt.Errorf("%d relation violations found", total)
	}
	fmt.Fprintf(out, "No violations in %d project(s)\n", len(projects))
	return nil
}

func runRepair(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	store, catalogs, projects, err := relationTargets(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	for _, projectID := range projects {
		for _, cat := range catalogs {
			report, err := cat.Repair(ctx, projectID)
			if err != nil {
				return fmt.Errorf("repair %s of project %d: %w", cat.Collection(), projectID, err)
			}
			fmt.Fprintf(out, "project %d %s: %d upserted, %d removed, %d skipped\n",
				projectID, cat.Collection(), len(report.Upserted), len(report.Removed), len(report.Skipped))
		}
	}
	return nil
}

func printViolations(w io.Writer, projectID int, collection string, violations []relations.Violation) {
	if len(violations) == 0 {
		return
	}
	fmt.Fprintf(w, "project %d %s: %d violation(s)\n", projectID, collection, len(violations))
	for _, v := range violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the SQLite relation index from the stored documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		index, ok := store.(storage.RelationIndex)
		if !ok {
			return fmt.Errorf("%s store has no relation index", cfg.StorageType)
		}
		ctx := context.Background()
		if err := index.RebuildRelationIndex(ctx); err != nil {
			return err
		}
		if err := index.VerifyRelationIndex(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Relation index rebuilt")
		return nil
	},
}

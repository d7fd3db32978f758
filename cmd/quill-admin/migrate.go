package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/ha1tch/quill/pkg/storage"
	"github.com/spf13/cobra"
)

var migrateFlags struct {
	from string
	to   string
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy a JSON file store into a new SQLite database",
	Long: `Copy every document of a JSON file store into a new SQLite database,
keeping ids, and build the relation index of the target.

Examples:
  quill-admin migrate --from ./data --to ./quill.db`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFlags.from, "from", "", "source directory of the JSON file store (default: base_dir from config)")
	migrateCmd.Flags().StringVar(&migrateFlags.to, "to", "", "target SQLite database, must not exist (default: db_path from config)")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sourceDir := migrateFlags.from
	if sourceDir == "" {
		sourceDir = cfg.BaseDir
	}
	targetDB := migrateFlags.to
	if targetDB == "" {
		targetDB = cfg.DBPath
	}

	if _, err := os.Stat(sourceDir); os.IsNotExist(err) {
		return fmt.Errorf("source directory does not exist: %s", sourceDir)
	}
	if _, err := os.Stat(targetDB); err == nil {
		return fmt.Errorf("target database already exists: %s (delete it first)", targetDB)
	}

	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Opening source (JSON files)...")
	src, err := storage.NewStore("jsonfile", map[string]interface{}{"base_dir": sourceDir})
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	fmt.Fprintln(out, "Creating target (SQLite)...")
	dst, err := storage.NewStore("sqlite", map[string]interface{}{"db_path": targetDB})
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}
	defer dst.Close()

	report, err := storage.Migrate(context.Background(), src, dst)
	if err != nil {
		return err
	}

	collections := make([]string, 0, len(report.Documents))
	for collection := range report.Documents {
		collections = append(collections, collection)
	}
	sort.Strings(collections)

	fmt.Fprintln(out, "\nMigration summary:")
	for _, collection := range collections {
		fmt.Fprintf(out, "  %-12s %d\n", collection+":", report.Documents[collection])
	}
	fmt.Fprintf(out, "  Relations:   %d\n", report.Edges)
	if report.Skipped > 0 {
		fmt.Fprintf(out, "  Skipped:     %d (no valid id)\n", report.Skipped)
	}
	fmt.Fprintln(out, "\nRelation index verified")
	return nil
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ha1tch/quill/pkg/config"
	"github.com/ha1tch/quill/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootFlags.configPath, rootFlags.verbose = "", false
	migrateFlags.from, migrateFlags.to = "", ""
	relationFlags.project, relationFlags.collection = 0, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Port, cfg.Port)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err)
}

func TestMigrateAndAudit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	dbPath := filepath.Join(dir, "quill.db")

	src, err := storage.NewStore("jsonfile", map[string]interface{}{"base_dir": dataDir})
	require.NoError(t, err)
	pid, err := src.Create(ctx, storage.Projects, map[string]interface{}{"title": "Roman"})
	require.NoError(t, err)
	anna, err := src.Create(ctx, storage.Characters, map[string]interface{}{"name": "Anna", "project_id": pid})
	require.NoError(t, err)
	_, err = src.Create(ctx, storage.Characters, map[string]interface{}{
		"name":       "Ben",
		"project_id": pid,
		"relations":  []interface{}{map[string]interface{}{"toId": anna, "type": "Mentor"}},
	})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	out, err := execute(t, "migrate", "--from", dataDir, "--to", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Relations:   1")

	_, err = execute(t, "migrate", "--from", dataDir, "--to", dbPath)
	assert.ErrorContains(t, err, "already exists")

	cfgPath := filepath.Join(dir, "quill.yaml")
	cfg := config.Default()
	cfg.StorageType = "sqlite"
	cfg.DBPath = dbPath
	require.NoError(t, config.Save(cfg, cfgPath))

	// Ben's Mentor edge was never mirrored onto Anna
	_, err = execute(t, "--config", cfgPath, "audit")
	assert.ErrorContains(t, err, "violations found")

	out, err = execute(t, "--config", cfgPath, "repair", "--collection", "characters")
	require.NoError(t, err)
	assert.Contains(t, out, "1 upserted")

	out, err = execute(t, "--config", cfgPath, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "No violations")

	out, err = execute(t, "--config", cfgPath, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "rebuilt")
}

func TestMigrateMissingSource(t *testing.T) {
	_, err := execute(t, "migrate", "--from", filepath.Join(t.TempDir(), "absent"), "--to", "x.db")
	assert.ErrorContains(t, err, "does not exist")
	_, statErr := os.Stat("x.db")
	assert.True(t, os.IsNotExist(statErr))
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scantamper/pkg/annotations"
	"scantamper/pkg/config"
)

func TestInitConfigLoadsBack(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "scantamper.yaml")
	require.Equal(t, 0, run([]string{"-config", cfgPath, "-init-config"}))

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	cfg.Logging.File = filepath.Join(dir, "logs", "scantamper.log")
	require.NoError(t, config.SaveConfig(cfg, cfgPath))

	// the label record is missing, so the scan fails to resolve
	scan := filepath.Join(dir, "case_image.npy")
	assert.Equal(t, 1, run([]string{"-config", cfgPath, "-out", filepath.Join(dir, "out"), scan}))

	logged, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "batch finished")
}

func TestRunWithoutScans(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "absent.yaml")
	assert.Equal(t, 2, run([]string{"-config", cfgPath}))
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	assert.Equal(t, 2, run([]string{"-no-such-flag"}))
}

func TestImportAnnotations(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "annotations.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("seriesuid,coordX,coordY,coordZ,diameter_mm\n1,20,20,20,4\n3,10,12,14,6\n"), 0644))
	dbPath := filepath.Join(dir, "annotations.db")

	code := run([]string{"-config", filepath.Join(dir, "absent.yaml"), "-annotations", dbPath, "-import-annotations", csvPath})
	require.Equal(t, 0, code)

	db, err := annotations.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

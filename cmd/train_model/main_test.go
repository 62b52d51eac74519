package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig points the run log at a path whose parent is a regular file,
// so the database can never be opened.
func writeConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	cfg := "log:\n  file: \"\"\n" +
		"database:\n  path: " + filepath.Join(blocker, "training.db") + "\n" +
		"models:\n  dir: " + filepath.Join(dir, "models") + "\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	t.Setenv("REBAR_CONFIG", "")
	t.Setenv("REBAR_DB_PATH", "")
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func TestSetupWithoutRunLog(t *testing.T) {
	writeConfig(t)

	e, err := setup(true)
	require.NoError(t, err)
	defer e.close()
	assert.Nil(t, e.runs)
	assert.NotNil(t, e.trainer())
}

func TestShowRunsNeedsRunLog(t *testing.T) {
	writeConfig(t)

	cmd := &cobra.Command{}
	cmd.Flags().Uint64("limit", 20, "")
	cmd.Flags().String("status", "", "")
	err := showRuns(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training run log unavailable")
}

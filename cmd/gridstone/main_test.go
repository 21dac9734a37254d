package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstone/gridstone/internal/report"
)

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(&out, &errOut, []string{"-h"})
	require.NoError(t, err)
	assert.Contains(t, errOut.String(), "gridstone")
}

func TestRunBadFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(&out, &errOut, []string{"-log-level", "loud"})
	require.Error(t, err)
}

func TestRunOneShotResolveOnEmptyProject(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gridstone.hcl")
	dbPath := filepath.Join(dir, "schedule.db")
	require.NoError(t, os.WriteFile(configPath, []byte(`
database {
  path = "`+dbPath+`"
}
`), 0o644))

	var out, errOut bytes.Buffer
	err := run(&out, &errOut, []string{"-config", configPath, "-resolve", "1", "-dry-run"})
	require.NoError(t, err)

	var summary report.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.True(t, summary.DryRun)
	assert.Zero(t, summary.ItemsProcessed)
}

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	tmp := isolate(t)

	flagged := filepath.Join(tmp, "flagged.js")
	require.NoError(t, os.WriteFile(flagged, []byte("// Step 1: read input\nconst x = 1;\n"), 0o644))
	out, err := executeCommand(rootCmd, "analyze", flagged)
	require.NoError(t, err)
	assert.Contains(t, out, "Suspicious: yes")
	assert.Contains(t, out, "Step-by-step comments")

	clean := filepath.Join(tmp, "clean.js")
	require.NoError(t, os.WriteFile(clean, []byte("let total = 0\n"), 0o644))
	out, err = executeCommand(rootCmd, "analyze", clean)
	require.NoError(t, err)
	assert.Contains(t, out, "Suspicious: no")

	_, err = executeCommand(rootCmd, "analyze", filepath.Join(tmp, "missing.js"))
	assert.ErrorContains(t, err, "file not found")
}

package integrity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devac/devac/internal/graphbuild"
	"github.com/devac/devac/internal/integrity"
	"github.com/devac/devac/internal/parser"
)

func TestVerify_CleanPackageIsValid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dvl"), []byte("func Greet()\n"), 0644))

	_, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)

	report, err := integrity.Verify(dir, "base")
	require.NoError(t, err)
	assert.True(t, report.Valid, "errors: %v", report.Errors)
	assert.Equal(t, 1, report.Stats.NodeCount)
}

func TestVerify_MissingSeedFilesIsValidEmpty(t *testing.T) {
	dir := t.TempDir()
	report, err := integrity.Verify(dir, "base")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.Stats.NodeCount)
}

func TestVerify_StrayTmpFileIsReported(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dvl"), []byte("func Greet()\n"), 0644))

	_, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)

	seedDir := filepath.Join(dir, ".devac", "seed", "base")
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "nodes.parquet.tmp"), []byte("stale"), 0644))

	report, err := integrity.Verify(dir, "base")
	require.NoError(t, err)
	assert.False(t, report.Valid)
}

func TestVerify_UnchangedRebuildStaysValid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dvl"), []byte("func Greet()\n"), 0644))

	_, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)

	_, err = graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)

	report, err := integrity.Verify(dir, "base")
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

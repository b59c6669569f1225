package graphbuild_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devac/devac/internal/graphbuild"
	"github.com/devac/devac/internal/parser"
	"github.com/devac/devac/internal/schema"
	"github.com/devac/devac/internal/store"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// TestBuild_ParseAndPersist is scenario S1 from spec.md §8: a single-file
// package with one exported function produces a nodes.parquet row with
// the expected name, kind, exported flag, and line range.
func TestBuild_ParseAndPersist(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.dvl", "func Greet(name)\n")

	report, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesDiscovered)
	assert.Equal(t, 1, report.FilesDirty)
	assert.Empty(t, report.Errors)

	nodes, err := store.ReadParquet[schema.Node](schema.ParquetPath(dir, "base", schema.TableNodes))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Greet", nodes[0].Name)
	assert.Equal(t, schema.KindFunction, nodes[0].Kind)
	assert.True(t, nodes[0].IsExported)
	assert.EqualValues(t, 1, nodes[0].StartLine)
	assert.EqualValues(t, 1, nodes[0].EndLine)
}

// TestBuild_TombstoneOnDelete is scenario S4: after an initial sync,
// deleting the file and re-syncing leaves a tombstone row and the
// unified view (degenerate single-partition case) returns no live rows.
func TestBuild_TombstoneOnDelete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.dvl", "func f()\n")

	_, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.dvl")))

	report, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesDeleted)

	nodes, err := store.ReadParquet[schema.Node](schema.ParquetPath(dir, "base", schema.TableNodes))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].IsDeleted)

	live := 0
	for _, n := range nodes {
		if !n.IsDeleted {
			live++
		}
	}
	assert.Equal(t, 0, live)
}

func TestBuild_UnchangedFilePassesThrough(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.dvl", "func f()\n")

	_, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)

	report, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesUnchanged)
	assert.Equal(t, 0, report.FilesDirty)
}

// TestBuild_WritesContentHash asserts Build publishes a manifest hash
// that internal/syncx's updateHub reads back into the hub's repo
// registry entry: non-empty after the first build, stable across a
// no-op rebuild, and different once a file's content changes.
func TestBuild_WritesContentHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.dvl", "func f()\n")

	_, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)

	hashPath := schema.ContentHashPath(dir, "base")
	first, err := os.ReadFile(hashPath)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	_, err = graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)
	second, err := os.ReadFile(hashPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	writeFile(t, dir, "a.dvl", "func f()\nfunc g()\n")
	_, err = graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)
	third, err := os.ReadFile(hashPath)
	require.NoError(t, err)
	assert.NotEqual(t, second, third)
}

func TestBuild_ParseErrorIsPartialSuccess(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.dvl", "func Good()\n")
	writeFile(t, dir, "bad.dvl", "func (x)\n")

	report, err := graphbuild.Build(dir, "base", parser.ParseFile("r", "pkg"))
	require.NoError(t, err)
	assert.Len(t, report.Errors, 1)

	nodes, err := store.ReadParquet[schema.Node](schema.ParquetPath(dir, "base", schema.TableNodes))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Good", nodes[0].Name)
}

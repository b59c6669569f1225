// Package graphbuild implements the per-package Graph Builder
// (spec.md §4.4): discover → hash → parse dirty → tombstone deletions →
// assemble → atomic write → invariants. Grounded on the composite-ID and
// stats-tracking idiom of the teacher's internal/graph/builder.go,
// generalized from a GitHub-entity-specific batch to the spec's generic
// node/edge/ref/effect batch, and on internal/ingestion/walker.go's
// file-discovery exclusion lists. Dirty-file parsing runs through an
// errgroup, the same fan-out idiom internal/ingestion/orchestrator.go
// uses for its independent save steps.
package graphbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	devacerrors "github.com/devac/devac/internal/errors"
	"github.com/devac/devac/internal/logging"
	"github.com/devac/devac/internal/schema"
	"github.com/devac/devac/internal/store"
)

// ParseOutput is what a language parser returns for one file, per the
// external parser contract in spec.md §6.
type ParseOutput struct {
	Nodes        []schema.Node
	Edges        []schema.Edge
	ExternalRefs []schema.ExternalRef
	Effects      []schema.CodeEffect
}

// ParseFunc is the external collaborator contract: parseFile(path, hash,
// content) → output. Implementations must be deterministic.
type ParseFunc func(pathRelativeToPackage, contentHash string, content []byte) (ParseOutput, error)

// BuildReport is the outcome of one Build call.
type BuildReport struct {
	FilesDiscovered int
	FilesUnchanged  int
	FilesDirty      int
	FilesDeleted    int
	NodeCount       int
	EdgeCount       int
	RefCount        int
	EffectCount     int
	Errors          []error
	Warnings        []string
}

var defaultExcludeDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".devac": true,
	"dist": true, "build": true, "out": true, "target": true,
	"__pycache__": true, ".venv": true, ".cache": true,
}

var defaultExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".go": true, ".rb": true, ".java": true,
	".dvl": true,
}

// discoverFiles walks packageDir, returning paths relative to packageDir
// for files with a supported extension, skipping excluded directories.
func discoverFiles(packageDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(packageDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(packageDir, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && defaultExcludeDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if defaultExtensions[filepath.Ext(path)] {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func hashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// previousState is the set of file_path → source_file_hash from the
// partition that is about to be overwritten (branch if present, else base).
type previousState struct {
	fileHash map[string]string
	nodes    []schema.Node
	edges    []schema.Edge
	refs     []schema.ExternalRef
	effects  []schema.CodeEffect
}

func loadPreviousState(packageDir, branch string) (*previousState, error) {
	readPartition := branch
	if _, err := os.Stat(schema.ParquetPath(packageDir, branch, schema.TableNodes)); os.IsNotExist(err) {
		readPartition = "base"
	}

	nodes, err := store.ReadParquet[schema.Node](schema.ParquetPath(packageDir, readPartition, schema.TableNodes))
	if err != nil {
		return nil, err
	}
	edges, err := store.ReadParquet[schema.Edge](schema.ParquetPath(packageDir, readPartition, schema.TableEdges))
	if err != nil {
		return nil, err
	}
	refs, err := store.ReadParquet[schema.ExternalRef](schema.ParquetPath(packageDir, readPartition, schema.TableExternalRefs))
	if err != nil {
		return nil, err
	}
	effects, err := store.ReadParquet[schema.CodeEffect](schema.ParquetPath(packageDir, readPartition, schema.TableEffects))
	if err != nil {
		return nil, err
	}

	fileHash := make(map[string]string)
	for _, n := range nodes {
		if !n.IsDeleted {
			fileHash[n.FilePath] = n.SourceFileHash
		}
	}

	return &previousState{fileHash: fileHash, nodes: nodes, edges: edges, refs: refs, effects: effects}, nil
}

// Build runs the per-package Graph Builder contract for one branch.
func Build(packageDir, branch string, parse ParseFunc) (*BuildReport, error) {
	logger := logging.Default().With("component", "graphbuild", "package", packageDir, "branch", branch)
	report := &BuildReport{}

	// Step 1: discover files.
	discovered, err := discoverFiles(packageDir)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	report.FilesDiscovered = len(discovered)

	// Step 2: hash files, load previous state, partition.
	prev, err := loadPreviousState(packageDir, branch)
	if err != nil {
		return nil, err
	}

	currentSet := make(map[string]bool, len(discovered))
	type fileEntry struct {
		path string
		hash string
		body []byte
	}
	var dirty []fileEntry
	var unchanged []string

	for _, rel := range discovered {
		currentSet[rel] = true
		body, readErr := os.ReadFile(filepath.Join(packageDir, rel))
		if readErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("read %s: %w", rel, readErr))
			continue
		}
		h := hashContent(body)
		if prevHash, ok := prev.fileHash[rel]; ok && prevHash == h {
			unchanged = append(unchanged, rel)
		} else {
			dirty = append(dirty, fileEntry{path: rel, hash: h, body: body})
		}
	}

	var deleted []string
	for rel := range prev.fileHash {
		if !currentSet[rel] {
			deleted = append(deleted, rel)
		}
	}

	report.FilesUnchanged = len(unchanged)
	report.FilesDirty = len(dirty)
	report.FilesDeleted = len(deleted)

	// Step 3: parse dirty files concurrently, since ParseFunc is
	// required to be a pure function of its arguments. Per-file parse
	// errors are recorded and the file skipped; the rest of the batch
	// still gets written. Results land in per-index slots so the final
	// merge order stays deterministic regardless of goroutine finish order.
	now := time.Now().UnixMilli()
	parseResults := make([]ParseOutput, len(dirty))
	parseErrs := make([]error, len(dirty))

	g := new(errgroup.Group)
	g.SetLimit(8)
	for i, f := range dirty {
		i, f := i, f
		g.Go(func() error {
			out, err := parse(f.path, f.hash, f.body)
			parseResults[i] = out
			parseErrs[i] = err
			return nil
		})
	}
	g.Wait()

	var nodes []schema.Node
	var edges []schema.Edge
	var refs []schema.ExternalRef
	var effects []schema.CodeEffect

	for i, f := range dirty {
		if parseErrs[i] != nil {
			report.Errors = append(report.Errors, devacerrors.ParseError(f.path, parseErrs[i]))
			logger.Warn("parse failed, skipping file", "file", f.path, "error", parseErrs[i])
			continue
		}
		out := parseResults[i]
		for j := range out.Nodes {
			out.Nodes[j].SourceFileHash = f.hash
			out.Nodes[j].Branch = branch
			out.Nodes[j].UpdatedAt = now
		}
		for j := range out.Edges {
			out.Edges[j].Branch = branch
			out.Edges[j].UpdatedAt = now
		}
		for j := range out.ExternalRefs {
			out.ExternalRefs[j].Branch = branch
			out.ExternalRefs[j].UpdatedAt = now
		}
		for j := range out.Effects {
			out.Effects[j].Branch = branch
			out.Effects[j].UpdatedAt = now
		}
		nodes = append(nodes, out.Nodes...)
		edges = append(edges, out.Edges...)
		refs = append(refs, out.ExternalRefs...)
		effects = append(effects, out.Effects...)
	}

	// Step 5 (first half): passthrough unchanged files' previous rows,
	// preserving their previous source_file_hash and updated_at.
	unchangedSet := make(map[string]bool, len(unchanged))
	for _, rel := range unchanged {
		unchangedSet[rel] = true
	}
	for _, n := range prev.nodes {
		if unchangedSet[n.FilePath] {
			nodes = append(nodes, n)
		}
	}
	for _, e := range prev.edges {
		if unchangedSet[e.FilePath] {
			edges = append(edges, e)
		}
	}
	for _, r := range prev.refs {
		if unchangedSet[r.FilePath] {
			refs = append(refs, r)
		}
	}
	for _, fx := range prev.effects {
		if unchangedSet[fx.FilePath] {
			effects = append(effects, fx)
		}
	}

	// Step 4: tombstone deletions.
	deletedSet := make(map[string]bool, len(deleted))
	for _, rel := range deleted {
		deletedSet[rel] = true
	}
	for _, n := range prev.nodes {
		if deletedSet[n.FilePath] {
			n.IsDeleted = true
			n.UpdatedAt = now
			nodes = append(nodes, n)
		}
	}
	for _, e := range prev.edges {
		if deletedSet[e.FilePath] {
			e.IsDeleted = true
			e.UpdatedAt = now
			edges = append(edges, e)
		}
	}
	for _, r := range prev.refs {
		if deletedSet[r.FilePath] {
			r.IsDeleted = true
			r.UpdatedAt = now
			refs = append(refs, r)
		}
	}
	for _, fx := range prev.effects {
		if deletedSet[fx.FilePath] {
			fx.IsDeleted = true
			fx.UpdatedAt = now
			effects = append(effects, fx)
		}
	}

	// Step 7: invariants.
	if err := checkInvariants(nodes, edges); err != nil {
		return report, err
	}

	// Step 6: write atomically.
	if err := store.WriteParquet(schema.ParquetPath(packageDir, branch, schema.TableNodes), nodes); err != nil {
		return report, fmt.Errorf("write nodes: %w", err)
	}
	if err := store.WriteParquet(schema.ParquetPath(packageDir, branch, schema.TableEdges), edges); err != nil {
		return report, fmt.Errorf("write edges: %w", err)
	}
	if err := store.WriteParquet(schema.ParquetPath(packageDir, branch, schema.TableExternalRefs), refs); err != nil {
		return report, fmt.Errorf("write external_refs: %w", err)
	}
	if len(effects) > 0 {
		if err := store.WriteParquet(schema.ParquetPath(packageDir, branch, schema.TableEffects), effects); err != nil {
			return report, fmt.Errorf("write effects: %w", err)
		}
	}
	if err := writeContentHash(packageDir, branch, nodes); err != nil {
		return report, fmt.Errorf("write content hash: %w", err)
	}

	report.NodeCount = len(nodes)
	report.EdgeCount = len(edges)
	report.RefCount = len(refs)
	report.EffectCount = len(effects)

	return report, nil
}

// writeContentHash derives one manifest hash over every live node's
// source_file_hash and writes it to content-hash.txt using the same
// temp-file-then-rename idiom store.WriteParquet uses for the seed
// tables, so a reader never observes a half-written manifest. This is
// the hash internal/syncx's updateHub later reads back into the hub's
// repo registry entry.
func writeContentHash(packageDir, branch string, nodes []schema.Node) error {
	fileHash := make(map[string]string)
	for _, n := range nodes {
		if n.IsDeleted {
			continue
		}
		fileHash[n.FilePath] = n.SourceFileHash
	}

	paths := make([]string, 0, len(fileHash))
	for p := range fileHash {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(fileHash[p]))
		h.Write([]byte{0})
	}
	sum := hex.EncodeToString(h.Sum(nil))

	path := schema.ContentHashPath(packageDir, branch)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(sum), 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// checkInvariants enforces spec.md §4.4 step 7: every CONTAINS edge's
// endpoints exist in the batch; entity IDs are locally unique;
// start_line <= end_line; columns are non-negative.
func checkInvariants(nodes []schema.Node, edges []schema.Edge) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.EntityID] {
			return devacerrors.SchemaViolation("nodes", "entity_id")
		}
		seen[n.EntityID] = true
		if n.StartLine > n.EndLine {
			return devacerrors.SchemaViolation("nodes", "start_line")
		}
		if n.StartColumn < 0 || n.EndColumn < 0 {
			return devacerrors.SchemaViolation("nodes", "start_column")
		}
	}

	for _, e := range edges {
		if e.EdgeType != schema.EdgeContains {
			continue
		}
		if !seen[e.SourceEntityID] || !seen[e.TargetEntityID] {
			return devacerrors.SchemaViolation("edges", "source_entity_id")
		}
	}

	return nil
}

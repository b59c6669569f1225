// Package integrity implements the Integrity Verifier (spec.md §4.10):
// per-package, per-branch consistency checks over the parquet seed
// files. Grounded on the per-entity-type validation-result idiom of the
// teacher's internal/validation/consistency.go (one result struct per
// checked entity kind, aggregated into a slice), generalized from a
// Postgres/Neo4j count comparison to a parquet/schema consistency check.
package integrity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/devac/devac/internal/schema"
	"github.com/devac/devac/internal/store"
)

// Stats summarizes one verification run.
type Stats struct {
	NodeCount      int
	EdgeCount      int
	RefCount       int
	FileCount      int
	UnresolvedRefs int
	OrphanedEdges  int
}

// Report is the outcome of Verify.
type Report struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Stats    Stats
}

// Verify checks a package's branch partition for the invariants listed
// in spec.md §4.10.
func Verify(packageDir, branch string) (*Report, error) {
	report := &Report{Valid: true}

	nodesPath := schema.ParquetPath(packageDir, branch, schema.TableNodes)
	edgesPath := schema.ParquetPath(packageDir, branch, schema.TableEdges)
	refsPath := schema.ParquetPath(packageDir, branch, schema.TableExternalRefs)

	nodeRowCount, err := checkOpenable(nodesPath, &report.Errors)
	if err != nil {
		return nil, err
	}
	edgeRowCount, err := checkOpenable(edgesPath, &report.Errors)
	if err != nil {
		return nil, err
	}
	refRowCount, err := checkOpenable(refsPath, &report.Errors)
	if err != nil {
		return nil, err
	}

	nodes, err := store.ReadParquet[schema.Node](nodesPath)
	if err != nil {
		return nil, err
	}
	edges, err := store.ReadParquet[schema.Edge](edgesPath)
	if err != nil {
		return nil, err
	}
	refs, err := store.ReadParquet[schema.ExternalRef](refsPath)
	if err != nil {
		return nil, err
	}

	if len(nodes) != nodeRowCount {
		report.Errors = append(report.Errors, "nodes.parquet row count mismatch against footer")
	}
	if len(edges) != edgeRowCount {
		report.Errors = append(report.Errors, "edges.parquet row count mismatch against footer")
	}
	if len(refs) != refRowCount {
		report.Errors = append(report.Errors, "external_refs.parquet row count mismatch against footer")
	}

	liveEntities := make(map[string]bool, len(nodes))
	fileExists := make(map[string]bool)
	for _, n := range nodes {
		if !n.IsDeleted {
			liveEntities[n.EntityID] = true
		}

		path := filepath.Join(packageDir, n.FilePath)
		exists, checked := fileExists[n.FilePath]
		if !checked {
			_, statErr := os.Stat(path)
			exists = statErr == nil
			fileExists[n.FilePath] = exists
		}
		if n.IsDeleted {
			if exists {
				report.Errors = append(report.Errors, "tombstoned node's file still exists: "+n.FilePath)
			}
		} else if !exists {
			report.Errors = append(report.Errors, "live node's source file is missing: "+n.FilePath)
		}
	}

	orphaned := 0
	for _, e := range edges {
		if e.IsDeleted {
			continue
		}
		if e.EdgeType == schema.EdgeContains || e.EdgeType == schema.EdgeCalls ||
			e.EdgeType == schema.EdgeImports || e.EdgeType == schema.EdgeReferences {
			if !liveEntities[e.SourceEntityID] {
				orphaned++
				continue
			}
			// A target outside the live-entity set is tolerated as an
			// external reference only for edge types that cross package
			// boundaries; CONTAINS must resolve within the package.
			if e.EdgeType == schema.EdgeContains && !liveEntities[e.TargetEntityID] {
				orphaned++
			}
		}
	}
	report.Stats.OrphanedEdges = orphaned
	if orphaned > 0 {
		report.Errors = append(report.Errors, "found orphaned edges referencing non-existent live nodes")
	}

	unresolved := 0
	for _, r := range refs {
		if r.IsDeleted {
			continue
		}
		if !r.IsResolved {
			unresolved++
		}
	}
	report.Stats.UnresolvedRefs = unresolved

	strayTmp, err := findStrayTmpFiles(schema.SeedDir(packageDir, branch))
	if err != nil {
		return nil, err
	}
	for _, f := range strayTmp {
		report.Errors = append(report.Errors, "stray temp file from an aborted write: "+f)
	}

	report.Stats.NodeCount = len(nodes)
	report.Stats.EdgeCount = len(edges)
	report.Stats.RefCount = len(refs)
	report.Stats.FileCount = len(fileExists)

	report.Valid = len(report.Errors) == 0
	return report, nil
}

func checkOpenable(path string, errs *[]string) (int, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}
	count, err := store.RowCount(path)
	if err != nil {
		*errs = append(*errs, "unopenable parquet file: "+path)
		return 0, nil
	}
	return count, nil
}

func findStrayTmpFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stray []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".tmp") {
			stray = append(stray, filepath.Join(dir, e.Name()))
		}
	}
	return stray, nil
}

// Package query implements the Federated Query surface (spec.md §4.8):
// hubQuery(sql, opts) runs a SQL query across every package's current
// snapshot on a branch. Grounded on internal/hub for repo/package
// discovery and internal/store for the acquire/executeWithRecovery
// pooling idiom. No embedded OLAP engine with a native read_parquet
// exists anywhere in the retrieval pack (see DESIGN.md), so the
// `@package`/`@*` macro scoping and the CREATE OR REPLACE VIEW step
// described in spec.md §4.8 are realized by loading each scoped
// package's current parquet rows into ordinary SQLite tables (dropped
// and recreated for each query) on an acquired store handle, then
// running the caller's SQL against those tables directly.
package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	devacerrors "github.com/devac/devac/internal/errors"
	"github.com/devac/devac/internal/hub"
	"github.com/devac/devac/internal/schema"
	"github.com/devac/devac/internal/store"
)

// Options controls one hubQuery call.
type Options struct {
	Branch string // defaults to "base"
	JSON   bool   // formatting concern only; surfaced for callers, unused internally
}

// Result is the outcome of one query. QueryID identifies this specific
// invocation, so a caller can correlate a result with its log line or a
// cached entry without hashing the SQL text itself.
type Result struct {
	QueryID  string
	Rows     []map[string]any
	RowCount int
	TimeMs   int64
}

// Package is one discovered package: a directory under a repo's root
// that has seed parquet files for the requested branch (or base).
type Package struct {
	RepoID   string
	Name     string // bare package name, typically the directory's base name
	Dir      string // absolute path to the package directory
	AddedSeq int    // insertion order, for bare-name conflict resolution
}

var macroPattern = regexp.MustCompile(`@([A-Za-z0-9_:./\-]+|\*)`)

// DiscoverPackages lists every package under each registered repo that
// has seed files for the given branch (falling back to base), per
// spec.md §4.8 step 1.
func DiscoverPackages(h *hub.Hub, branch string) ([]Package, error) {
	repos, err := h.ListRepos()
	if err != nil {
		return nil, err
	}

	var packages []Package
	seq := 0
	for _, r := range repos {
		err := filepath.WalkDir(r.RootPath, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() {
				return nil
			}
			if hasSeeds(path, branch) {
				packages = append(packages, Package{
					RepoID: r.RepoID, Name: filepath.Base(path), Dir: path, AddedSeq: seq,
				})
				seq++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover packages for repo %s: %w", r.RepoID, err)
		}
	}
	return packages, nil
}

func hasSeeds(packageDir, branch string) bool {
	if _, err := os.Stat(schema.ParquetPath(packageDir, branch, schema.TableNodes)); err == nil {
		return true
	}
	if _, err := os.Stat(schema.ParquetPath(packageDir, "base", schema.TableNodes)); err == nil {
		return true
	}
	return false
}

// preprocess resolves @package/@* macros against the discovered package
// set, returning the scoped packages and the macro-stripped SQL. Bare
// names that match more than one package resolve to the one with the
// highest AddedSeq (added last).
func preprocess(sql string, packages []Package) ([]Package, string, error) {
	matches := macroPattern.FindAllStringIndex(sql, -1)
	if len(matches) == 0 {
		return packages, sql, nil
	}

	byQualified := make(map[string]Package)
	bareLatest := make(map[string]Package)
	for _, p := range packages {
		byQualified[p.RepoID+":"+p.Name] = p
		if existing, ok := bareLatest[p.Name]; !ok || p.AddedSeq > existing.AddedSeq {
			bareLatest[p.Name] = p
		}
	}

	scopedSet := make(map[string]Package)
	var cleaned strings.Builder
	last := 0
	for _, m := range matches {
		cleaned.WriteString(sql[last:m[0]])
		token := sql[m[0]+1 : m[1]]
		last = m[1]

		if token == "*" {
			for _, p := range packages {
				scopedSet[p.Dir] = p
			}
			continue
		}
		if p, ok := byQualified[token]; ok {
			scopedSet[p.Dir] = p
			continue
		}
		if p, ok := bareLatest[token]; ok {
			scopedSet[p.Dir] = p
			continue
		}
		return nil, "", devacerrors.PreprocessError(fmt.Sprintf("unknown package reference: @%s", token))
	}
	cleaned.WriteString(sql[last:])

	scoped := make([]Package, 0, len(scopedSet))
	for _, p := range scopedSet {
		scoped = append(scoped, p)
	}
	return scoped, cleaned.String(), nil
}

// HubQuery runs the federated query pipeline described in spec.md §4.8.
func HubQuery(ctx context.Context, h *hub.Hub, pool *store.Pool, sqlText string, opts Options) (*Result, error) {
	start := time.Now()
	branch := opts.Branch
	if branch == "" {
		branch = "base"
	}

	packages, err := DiscoverPackages(h, branch)
	if err != nil {
		return nil, err
	}

	scoped, cleanedSQL, err := preprocess(sqlText, packages)
	if err != nil {
		return nil, err
	}
	if len(scoped) == 0 {
		scoped = packages
	}

	result, err := store.ExecuteWithRecovery(ctx, pool, func(handle *store.Handle) (*Result, error) {
		db := handle.DB()

		if err := loadScopedTables(db, branch, scoped); err != nil {
			return nil, err
		}

		rows, err := db.Queryx(cleanedSQL)
		if err != nil {
			return nil, fmt.Errorf("execute query: %w", err)
		}
		defer rows.Close()

		var out []map[string]any
		for rows.Next() {
			row := make(map[string]any)
			if err := rows.MapScan(row); err != nil {
				return nil, fmt.Errorf("scan row: %w", err)
			}
			out = append(out, row)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		return &Result{Rows: out, RowCount: len(out)}, nil
	})
	if err != nil {
		return nil, err
	}

	result.QueryID = uuid.NewString()
	result.TimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// loadScopedTables (re)creates nodes/edges/external_refs/effects as
// plain tables in the acquired handle, populated from every scoped
// package's current-branch parquet files, each row tagged with a
// filename pseudo-column tracing it to its source file.
func loadScopedTables(db *sqlx.DB, branch string, scoped []Package) error {
	if _, err := db.Exec(`DROP TABLE IF EXISTS nodes`); err != nil {
		return err
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS edges`); err != nil {
		return err
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS external_refs`); err != nil {
		return err
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS effects`); err != nil {
		return err
	}

	var allNodes []schema.Node
	var allEdges []schema.Edge
	var allRefs []schema.ExternalRef
	var allEffects []schema.CodeEffect
	var nodeSources, edgeSources, refSources, effectSources []string

	for _, p := range scoped {
		readBranch := branch
		if _, err := os.Stat(schema.ParquetPath(p.Dir, branch, schema.TableNodes)); os.IsNotExist(err) {
			readBranch = "base"
		}

		nodes, err := store.ReadParquet[schema.Node](schema.ParquetPath(p.Dir, readBranch, schema.TableNodes))
		if err != nil {
			return err
		}
		edges, err := store.ReadParquet[schema.Edge](schema.ParquetPath(p.Dir, readBranch, schema.TableEdges))
		if err != nil {
			return err
		}
		refs, err := store.ReadParquet[schema.ExternalRef](schema.ParquetPath(p.Dir, readBranch, schema.TableExternalRefs))
		if err != nil {
			return err
		}
		effects, err := store.ReadParquet[schema.CodeEffect](schema.ParquetPath(p.Dir, readBranch, schema.TableEffects))
		if err != nil {
			return err
		}

		allNodes = append(allNodes, nodes...)
		allEdges = append(allEdges, edges...)
		allRefs = append(allRefs, refs...)
		allEffects = append(allEffects, effects...)

		nodeSources = append(nodeSources, repeatPath(schema.ParquetPath(p.Dir, readBranch, schema.TableNodes), len(nodes))...)
		edgeSources = append(edgeSources, repeatPath(schema.ParquetPath(p.Dir, readBranch, schema.TableEdges), len(edges))...)
		refSources = append(refSources, repeatPath(schema.ParquetPath(p.Dir, readBranch, schema.TableExternalRefs), len(refs))...)
		effectSources = append(effectSources, repeatPath(schema.ParquetPath(p.Dir, readBranch, schema.TableEffects), len(effects))...)
	}

	if err := createAndLoad(db, schema.TableNodes, allNodes, nodeSources); err != nil {
		return err
	}
	if err := createAndLoad(db, schema.TableEdges, allEdges, edgeSources); err != nil {
		return err
	}
	if err := createAndLoad(db, schema.TableExternalRefs, allRefs, refSources); err != nil {
		return err
	}
	if err := createAndLoad(db, schema.TableEffects, allEffects, effectSources); err != nil {
		return err
	}
	return nil
}

// repeatPath returns path repeated n times, one per row read from it, so
// createAndLoad can tag each row with the exact parquet file it came from.
func repeatPath(path string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = path
	}
	return out
}

// createAndLoad builds a table named tableName with one lowercased
// column per exported struct field of T (plus a filename column) and
// bulk-inserts rows, using reflection so every schema struct is
// supported without per-table boilerplate. filenames holds the source
// parquet path for each row in rows, in order, so multi-package query
// results stay traceable to the package they came from.
func createAndLoad[T any](db *sqlx.DB, tableName string, rows []T, filenames []string) error {
	t := reflect.TypeOf(*new(T))
	fields := make([]string, 0, t.NumField()+1)
	for i := 0; i < t.NumField(); i++ {
		fields = append(fields, strings.ToLower(t.Field(i).Name))
	}
	fields = append(fields, "filename")

	columnDefs := make([]string, len(fields))
	for i, f := range fields {
		columnDefs[i] = f + " TEXT"
	}
	ddl := fmt.Sprintf(`CREATE TABLE %s (%s)`, tableName, strings.Join(columnDefs, ", "))
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	if len(rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(fields))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, tableName, strings.Join(fields, ", "), strings.Join(placeholders, ", "))

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, row := range rows {
		v := reflect.ValueOf(row)
		values := make([]any, 0, len(fields))
		for f := 0; f < t.NumField(); f++ {
			values = append(values, fmt.Sprintf("%v", v.Field(f).Interface()))
		}
		values = append(values, filenames[i])
		if _, err := tx.Exec(insertSQL, values...); err != nil {
			return fmt.Errorf("insert into %s: %w", tableName, err)
		}
	}
	return tx.Commit()
}

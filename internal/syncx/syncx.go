// Package syncx implements the Sync Orchestrator (spec.md §4.9). Named
// to avoid colliding with the stdlib sync package. Grounded on the
// step-numbered, per-entity-type syncer idiom of the teacher's
// internal/sync/*.go files (each step logs what it moved and returns an
// error that aborts the run), generalized here to the five ordered
// steps build → resolve → rules → hub update → verify.
package syncx

import (
	"fmt"
	"os"
	"sync"
	"time"

	devacerrors "github.com/devac/devac/internal/errors"
	"github.com/devac/devac/internal/graphbuild"
	"github.com/devac/devac/internal/hub"
	"github.com/devac/devac/internal/identity"
	"github.com/devac/devac/internal/integrity"
	"github.com/devac/devac/internal/logging"
	"github.com/devac/devac/internal/resolver"
	"github.com/devac/devac/internal/rules"
	"github.com/devac/devac/internal/schema"
	"github.com/devac/devac/internal/store"
)

// Options configures one sync run.
type Options struct {
	RepoID   string
	Branch   string // defaults to "base"
	Resolver *resolver.Resolver
	Rules    *rules.Engine
	Hub      *hub.Hub
	Parse    graphbuild.ParseFunc
}

// Report is the outcome of one sync run.
type Report struct {
	Build            *graphbuild.BuildReport
	Resolve          *resolver.PackageResolveReport
	RuleProcess      *rules.ProcessReport
	Verify           *integrity.Report
	Failed           bool
	FailureStage     string
	Warnings         []string
}

var inFlight sync.Map // packageDir -> struct{}, guards against concurrent syncs of the same package

// Sync runs the build → resolve → rules → hub update → verify pipeline
// for one package on one branch.
func Sync(packageDir string, opts Options) (*Report, error) {
	logger := logging.Default().With("component", "syncx", "package", packageDir)
	branch := opts.Branch
	if branch == "" {
		branch = "base"
	}

	if _, already := inFlight.LoadOrStore(packageDir, struct{}{}); already {
		return nil, fmt.Errorf("AlreadySyncing: %s", packageDir)
	}
	defer inFlight.Delete(packageDir)

	report := &Report{}

	// Step 1: Graph Builder.
	buildReport, err := graphbuild.Build(packageDir, branch, opts.Parse)
	if err != nil {
		report.Failed = true
		report.FailureStage = "build"
		return report, err
	}
	report.Build = buildReport
	logger.Info("build complete", "nodes", buildReport.NodeCount, "edges", buildReport.EdgeCount)

	// Step 2: Semantic Resolver, writing back resolved refs and new edges.
	if opts.Resolver != nil && opts.Resolver.IsAvailable() {
		resolveReport, resolveErr := resolveAndPersist(packageDir, branch, opts)
		if resolveErr != nil {
			// A resolver timeout is non-fatal: refs remain unresolved.
			if devacerrors.GetKind(resolveErr) == devacerrors.KindResolveTimeout {
				report.Warnings = append(report.Warnings, resolveErr.Error())
			} else {
				report.Failed = true
				report.FailureStage = "resolve"
				return report, resolveErr
			}
		}
		report.Resolve = resolveReport
	}

	// Step 3: Rule Engine.
	if opts.Rules != nil {
		ruleReport, ruleErr := runRules(packageDir, branch, opts.Rules)
		if ruleErr != nil {
			report.Failed = true
			report.FailureStage = "rules"
			return report, ruleErr
		}
		report.RuleProcess = ruleReport
	}

	// Step 4: Hub update.
	if opts.Hub != nil {
		if err := updateHub(opts.Hub, opts.RepoID, packageDir, branch, buildReport); err != nil {
			// Hub write errors leave parquet current but the registry stale;
			// surfaced as a warning, not a sync failure.
			report.Warnings = append(report.Warnings, fmt.Sprintf("hub update failed: %v", err))
		}
	}

	// Step 5: Integrity Verifier. Non-destructive: failure doesn't undo the write.
	verifyReport, err := integrity.Verify(packageDir, branch)
	if err != nil {
		report.Failed = true
		report.FailureStage = "verify"
		return report, err
	}
	report.Verify = verifyReport
	if !verifyReport.Valid {
		report.Failed = true
		report.FailureStage = "verify"
	}

	return report, nil
}

// resolveAndPersist runs the resolver over the package's external refs
// and writes back resolved targets and new IMPORTS edges.
// The resolver's FileExports input is built from the package's
// just-written nodes.parquet and external_refs.parquet rather than
// supplied by the caller, so every devac-sync invocation resolves
// against the graph Build actually produced, not an empty slice.
func resolveAndPersist(packageDir, branch string, opts Options) (*resolver.PackageResolveReport, error) {
	nodesPath := schema.ParquetPath(packageDir, branch, schema.TableNodes)
	nodes, err := store.ReadParquet[schema.Node](nodesPath)
	if err != nil {
		return nil, err
	}

	refsPath := schema.ParquetPath(packageDir, branch, schema.TableExternalRefs)
	refs, err := store.ReadParquet[schema.ExternalRef](refsPath)
	if err != nil {
		return nil, err
	}

	fileExports := buildFileExports(nodes, refs)

	resolverRefs := make([]resolver.Ref, 0, len(refs))
	for _, r := range refs {
		resolverRefs = append(resolverRefs, resolver.Ref{
			SourceFilePath:  r.FilePath,
			ModuleSpecifier: r.ModuleSpecifier,
			ImportedSymbol:  r.ImportedSymbol,
		})
	}

	reportResult := opts.Resolver.ResolvePackage(packageDir, fileExports, resolverRefs)

	var newEdges []schema.Edge
	idx := opts.Resolver.BuildExportIndex(packageDir, fileExports)
	now := time.Now().UnixMilli()
	for i := range refs {
		resolved := opts.Resolver.ResolveRef(resolver.Ref{
			SourceFilePath:  refs[i].FilePath,
			ModuleSpecifier: refs[i].ModuleSpecifier,
			ImportedSymbol:  refs[i].ImportedSymbol,
		}, idx)
		if resolved == nil {
			refs[i].IsResolved = false
			continue
		}
		refs[i].IsResolved = true
		refs[i].TargetEntityID = resolved.TargetEntityID
		refs[i].UpdatedAt = now

		newEdges = append(newEdges, schema.Edge{
			SourceEntityID: refs[i].SourceEntityID,
			TargetEntityID: resolved.TargetEntityID,
			EdgeType:       schema.EdgeImports,
			FilePath:       refs[i].FilePath,
			Branch:         branch,
			UpdatedAt:      now,
		})
	}

	if err := store.WriteParquet(refsPath, refs); err != nil {
		return &reportResult, err
	}

	if len(newEdges) > 0 {
		edgesPath := schema.ParquetPath(packageDir, branch, schema.TableEdges)
		existing, err := store.ReadParquet[schema.Edge](edgesPath)
		if err != nil {
			return &reportResult, err
		}
		if err := store.WriteParquet(edgesPath, append(existing, newEdges...)); err != nil {
			return &reportResult, err
		}
	}

	return &reportResult, nil
}

// buildFileExports groups a package's live nodes and external refs by
// file path into the resolver's raw per-file input, so BuildExportIndex
// sees the same declarations and imports the graph builder just wrote.
func buildFileExports(nodes []schema.Node, refs []schema.ExternalRef) []resolver.FileExport {
	byFile := make(map[string]*resolver.FileExport)
	var order []string
	get := func(path string) *resolver.FileExport {
		fe, ok := byFile[path]
		if !ok {
			fe = &resolver.FileExport{FilePath: path}
			byFile[path] = fe
			order = append(order, path)
		}
		return fe
	}

	for _, n := range nodes {
		if n.IsDeleted {
			continue
		}
		fe := get(n.FilePath)
		fe.Symbols = append(fe.Symbols, resolver.DeclaredSymbol{
			Name:             n.Name,
			Kind:             n.Kind,
			IsDefault:        n.IsDefaultExport,
			HasExportKeyword: n.IsExported,
			TargetEntityID:   n.EntityID,
		})
	}

	for _, r := range refs {
		if r.IsDeleted {
			continue
		}
		fe := get(r.FilePath)
		if r.IsReexport {
			fe.ReExportFrom = append(fe.ReExportFrom, resolver.ReExport{
				ModuleSpecifier: r.ModuleSpecifier,
				Name:            r.ImportedSymbol,
				Alias:           r.LocalAlias,
			})
			continue
		}
		fe.Imports = append(fe.Imports, r.ModuleSpecifier)
	}

	out := make([]resolver.FileExport, 0, len(order))
	for _, path := range order {
		out = append(out, *byFile[path])
	}
	return out
}

// runRules runs the rule engine over the package's code effects. The
// domain effects are returned in the report only; no parquet is written.
func runRules(packageDir, branch string, engine *rules.Engine) (*rules.ProcessReport, error) {
	effects, err := store.ReadParquet[schema.CodeEffect](schema.ParquetPath(packageDir, branch, schema.TableEffects))
	if err != nil {
		return nil, err
	}
	report := engine.Process(effects)
	return &report, nil
}

// updateHub refreshes the repo's registry entry and diffs its
// cross-repo edges against the new set.
func updateHub(h *hub.Hub, repoID, packageDir, branch string, buildReport *graphbuild.BuildReport) error {
	contentHashPath := schema.ContentHashPath(packageDir, branch)
	manifestHash := ""
	if data, err := os.ReadFile(contentHashPath); err == nil {
		manifestHash = string(data)
	}

	if err := h.UpdateRepoSync(repoID, manifestHash); err != nil {
		return err
	}

	edges, err := store.ReadParquet[schema.Edge](schema.ParquetPath(packageDir, branch, schema.TableEdges))
	if err != nil {
		return err
	}

	var crossRepo []hub.CrossRepoEdge
	for _, e := range edges {
		if e.IsDeleted {
			continue
		}
		targetRepoID := identity.RepoFromEntityID(e.TargetEntityID)
		if targetRepoID == "" || targetRepoID == repoID {
			continue
		}
		crossRepo = append(crossRepo, hub.CrossRepoEdge{
			SourceEntityID: e.SourceEntityID,
			TargetEntityID: e.TargetEntityID,
			SourceRepoID:   repoID,
			TargetRepoID:   targetRepoID,
			EdgeType:       e.EdgeType,
		})
	}

	if err := h.RemoveCrossRepoEdges(repoID); err != nil {
		return err
	}
	if len(crossRepo) > 0 {
		if err := h.AddCrossRepoEdges(crossRepo); err != nil {
			return err
		}
	}
	return nil
}

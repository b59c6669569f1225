// Package resolver implements the Semantic Resolver (spec.md §4.5):
// per-package cross-file symbol binding with an export index, module
// resolution map, and confidence-scored reference resolution. Grounded
// on the confidence/method vocabulary of the teacher's
// internal/resolution/fuzzy.go ("unique"/"heuristic" methods, confidence
// bands) and the phased-cache shape of internal/linking/orchestrator.go,
// with the LLM-disambiguation phase dropped: this resolver only binds
// references that are structurally unambiguous within a package, so
// there is nothing left for an LLM to disambiguate.
package resolver

import (
	"path"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/devac/devac/internal/logging"
)

// Method is how a reference was resolved.
type Method string

const (
	MethodCompiler  Method = "compiler"
	MethodHeuristic Method = "heuristic"
	MethodStub      Method = "stub"
)

// ExportedSymbol is one symbol visible outside its declaring file.
type ExportedSymbol struct {
	Name           string
	Kind           string
	IsDefault      bool
	IsTypeOnly     bool
	TargetEntityID string
}

// ExportIndex is the per-package export table plus module resolution map.
type ExportIndex struct {
	// Exports maps a file path (relative to packageDir) to its exported symbols.
	Exports map[string][]ExportedSymbol
	// ModuleResolution maps (sourceFile, moduleSpecifier) to a resolved target file.
	ModuleResolution map[string]map[string]string
	// ExportAllowlist, if non-empty for a file, is authoritative over the
	// underscore-convention visibility rule for that file.
	ExportAllowlist map[string]map[string]bool
}

func newExportIndex() *ExportIndex {
	return &ExportIndex{
		Exports:          make(map[string][]ExportedSymbol),
		ModuleResolution: make(map[string]map[string]string),
		ExportAllowlist:  make(map[string]map[string]bool),
	}
}

// FileExport is the raw per-file input to BuildExportIndex: a file's
// declared symbols plus its import statements, supplied by a language
// frontend (the same collaborator that produces graphbuild.ParseOutput).
type FileExport struct {
	FilePath     string
	Symbols      []DeclaredSymbol
	Imports      []string // raw module specifiers this file imports
	HasAllowlist bool
	AllowlistSet []string // names explicitly marked exported, if HasAllowlist
	ReExportFrom []ReExport
}

// DeclaredSymbol is one symbol declared in a file, before visibility is applied.
type DeclaredSymbol struct {
	Name             string
	Kind             string
	IsDefault        bool
	IsTypeOnly       bool
	HasExportKeyword bool
	TargetEntityID   string
}

// ReExport models `export * from "./m"` (Alias == "") or
// `export { x as y } from "./m"` (Name == "x", Alias == "y").
type ReExport struct {
	ModuleSpecifier string
	Name            string // empty means export-star
	Alias           string
}

// ResolvedRef is the outcome of resolving one reference.
type ResolvedRef struct {
	SourceEntityID string
	TargetEntityID string
	TargetFilePath string
	Confidence     float64
	Method         Method
}

// PackageResolveReport summarizes resolving every ref in a package.
type PackageResolveReport struct {
	Total      int
	Resolved   int
	Unresolved int
	TimeMs     int64
	Errors     []error
}

// Ref is one unresolved reference: an import or call site naming a
// module specifier and, optionally, a specific imported symbol.
type Ref struct {
	SourceEntityID  string
	SourceFilePath  string
	ModuleSpecifier string
	ImportedSymbol  string // empty for a bare/side-effect import
}

// Config controls resolver availability. CacheDBPath, if set, backs the
// export-index cache with an on-disk bbolt database so a built index
// survives process restarts; an empty path keeps the cache in-memory only.
type Config struct {
	Enabled     bool
	CacheDBPath string
}

// Resolver resolves references within one package at a time, caching
// export indexes by packageDir in memory and, optionally, on disk.
type Resolver struct {
	cfg    Config
	logger *logging.Logger

	mu     sync.Mutex
	cache  map[string]*ExportIndex
	diskDB *bolt.DB
}

func New(cfg Config) *Resolver {
	r := &Resolver{
		cfg:    cfg,
		logger: logging.Default().With("component", "resolver"),
		cache:  make(map[string]*ExportIndex),
	}
	if cfg.CacheDBPath != "" {
		db, err := openDiskCache(cfg.CacheDBPath)
		if err != nil {
			r.logger.Warn("resolver disk cache unavailable, falling back to in-memory only", "path", cfg.CacheDBPath, "error", err)
		} else {
			r.diskDB = db
		}
	}
	return r
}

// Close releases the resolver's on-disk cache, if one was opened.
func (r *Resolver) Close() error {
	if r.diskDB == nil {
		return nil
	}
	return r.diskDB.Close()
}

// IsAvailable reports whether the resolver is enabled.
func (r *Resolver) IsAvailable() bool { return r.cfg.Enabled }

// ClearCache invalidates the cached export index for one package, both
// in-memory and on disk.
func (r *Resolver) ClearCache(packageDir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, packageDir)
	if r.diskDB != nil {
		deleteDiskCache(r.diskDB, packageDir)
	}
}

// ClearAllCaches resets every cached export index, in-memory and on disk.
func (r *Resolver) ClearAllCaches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*ExportIndex)
	if r.diskDB != nil {
		clearDiskCache(r.diskDB)
	}
}

// BuildExportIndex builds (or returns the cached) export index for a
// package given its files' raw declarations and re-exports.
func (r *Resolver) BuildExportIndex(packageDir string, files []FileExport) *ExportIndex {
	r.mu.Lock()
	if cached, ok := r.cache[packageDir]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	if r.diskDB != nil {
		if cached, ok := loadDiskCache(r.diskDB, packageDir); ok {
			r.mu.Lock()
			r.cache[packageDir] = cached
			r.mu.Unlock()
			return cached
		}
	}

	idx := newExportIndex()

	// Module specifiers leave out the file extension ("./utils" names
	// "utils.dvl"), so resolved paths are mapped back to the file they name.
	byStem := make(map[string]string, len(files))
	for _, f := range files {
		byStem[strings.TrimSuffix(f.FilePath, path.Ext(f.FilePath))] = f.FilePath
	}
	resolveTarget := func(sourceFile, spec string) (string, bool) {
		target, ok := resolveModulePath(packageDir, sourceFile, spec)
		if file, found := byStem[target]; ok && found {
			return file, true
		}
		return target, ok
	}

	for _, f := range files {
		if f.HasAllowlist {
			set := make(map[string]bool, len(f.AllowlistSet))
			for _, n := range f.AllowlistSet {
				set[n] = true
			}
			idx.ExportAllowlist[f.FilePath] = set
		}

		for _, sym := range f.Symbols {
			if !isVisible(sym, f) {
				continue
			}
			idx.Exports[f.FilePath] = append(idx.Exports[f.FilePath], ExportedSymbol{
				Name:           sym.Name,
				Kind:           sym.Kind,
				IsDefault:      sym.IsDefault,
				IsTypeOnly:     sym.IsTypeOnly,
				TargetEntityID: sym.TargetEntityID,
			})
		}

		if idx.ModuleResolution[f.FilePath] == nil {
			idx.ModuleResolution[f.FilePath] = make(map[string]string)
		}
		for _, spec := range f.Imports {
			if target, ok := resolveTarget(f.FilePath, spec); ok {
				idx.ModuleResolution[f.FilePath][spec] = target
			}
		}
	}

	// Re-exports appear in the exporting file's own export set, aliased
	// where applicable, per spec.md §4.5.
	for _, f := range files {
		for _, re := range f.ReExportFrom {
			target, ok := resolveTarget(f.FilePath, re.ModuleSpecifier)
			if !ok {
				continue
			}
			if re.Name == "" {
				idx.Exports[f.FilePath] = append(idx.Exports[f.FilePath], idx.Exports[target]...)
				continue
			}
			for _, exp := range idx.Exports[target] {
				if exp.Name != re.Name {
					continue
				}
				aliased := exp
				if re.Alias != "" {
					aliased.Name = re.Alias
				}
				idx.Exports[f.FilePath] = append(idx.Exports[f.FilePath], aliased)
			}
		}
	}

	r.mu.Lock()
	r.cache[packageDir] = idx
	r.mu.Unlock()
	if r.diskDB != nil {
		saveDiskCache(r.diskDB, packageDir, idx)
	}
	return idx
}

// isVisible applies spec.md §4.5's visibility rules: an explicit
// allowlist wins; otherwise an export keyword or non-underscore name
// makes a symbol visible, matching either an explicit-export language
// or a convention-based one.
func isVisible(sym DeclaredSymbol, f FileExport) bool {
	if f.HasAllowlist {
		set := make(map[string]bool, len(f.AllowlistSet))
		for _, n := range f.AllowlistSet {
			set[n] = true
		}
		return set[sym.Name]
	}
	if sym.HasExportKeyword {
		return true
	}
	return !strings.HasPrefix(sym.Name, "_")
}

// resolveModulePath resolves a module specifier relative to sourceFile
// within packageDir. Relative specifiers (./ or ../) are joined and
// cleaned against the source file's directory; leading ".." segments
// pop directories and "." segments are dropped by path.Clean's
// normalization. Package-root specifiers (bare names) are left for the
// caller to treat as external. Returns ok=false when the specifier
// clearly escapes packageDir (an external package).
func resolveModulePath(packageDir, sourceFile, specifier string) (string, bool) {
	if !strings.HasPrefix(specifier, ".") {
		// Package-root import: only resolvable if it names a file that
		// exists under packageDir; the caller supplies no filesystem here,
		// so bare specifiers are always treated as external.
		return "", false
	}
	dir := path.Dir(sourceFile)
	joined := path.Join(dir, specifier)
	cleaned := path.Clean(joined)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false // escapes packageDir: external
	}
	return cleaned, true
}

// ResolveRef resolves one reference against an export index. Returns
// nil when the reference targets a symbol this resolver cannot bind:
// an external package, an unexported symbol, or a name not found in
// the target file's export set.
func (r *Resolver) ResolveRef(ref Ref, idx *ExportIndex) *ResolvedRef {
	if !r.cfg.Enabled {
		return nil
	}

	targetFile, ok := idx.ModuleResolution[ref.SourceFilePath][ref.ModuleSpecifier]
	if !ok {
		return nil // external package or unresolved specifier
	}

	exports, ok := idx.Exports[targetFile]
	if !ok {
		return nil
	}

	if ref.ImportedSymbol == "" {
		// Side-effect import: bind to the file itself if it has any export,
		// otherwise there is nothing to bind to.
		if len(exports) == 0 {
			return nil
		}
		return &ResolvedRef{
			SourceEntityID: ref.SourceEntityID,
			TargetEntityID: exports[0].TargetEntityID,
			TargetFilePath: targetFile,
			Confidence:     0.8,
			Method:         MethodStub,
		}
	}

	for _, exp := range exports {
		if exp.Name != ref.ImportedSymbol {
			continue
		}
		return &ResolvedRef{
			SourceEntityID: ref.SourceEntityID,
			TargetEntityID: exp.TargetEntityID,
			TargetFilePath: targetFile,
			Confidence:     0.85,
			Method:         MethodHeuristic,
		}
	}

	return nil
}

// ResolvePackage resolves every ref in a package and reports outcomes.
func (r *Resolver) ResolvePackage(packageDir string, files []FileExport, refs []Ref) PackageResolveReport {
	start := time.Now()
	report := PackageResolveReport{Total: len(refs)}

	if !r.cfg.Enabled {
		report.Unresolved = len(refs)
		report.TimeMs = time.Since(start).Milliseconds()
		return report
	}

	idx := r.BuildExportIndex(packageDir, files)

	for _, ref := range refs {
		resolved := r.ResolveRef(ref, idx)
		if resolved == nil {
			report.Unresolved++
			continue
		}
		report.Resolved++
	}

	report.TimeMs = time.Since(start).Milliseconds()
	r.logger.Debug("resolved package",
		"package", packageDir, "total", report.Total,
		"resolved", report.Resolved, "unresolved", report.Unresolved)
	return report
}

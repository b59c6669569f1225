package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResolvePackage_ImportResolution is scenario S2 from spec.md §8:
// main.dvl imports a named export from utils.dvl; resolution should
// bind the reference to utils.dvl's exported symbol with heuristic
// confidence.
func TestResolvePackage_ImportResolution(t *testing.T) {
	r := New(Config{Enabled: true})

	files := []FileExport{
		{
			FilePath: "utils.dvl",
			Symbols: []DeclaredSymbol{
				{Name: "Helper", Kind: "function", HasExportKeyword: true, TargetEntityID: "e:utils:Helper"},
			},
		},
		{
			FilePath: "main.dvl",
			Imports:  []string{"./utils"},
		},
	}
	refs := []Ref{
		{SourceEntityID: "e:main:entry", SourceFilePath: "main.dvl", ModuleSpecifier: "./utils", ImportedSymbol: "Helper"},
	}

	report := r.ResolvePackage("/pkg", files, refs)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 0, report.Unresolved)

	idx := r.BuildExportIndex("/pkg", files)
	resolved := r.ResolveRef(refs[0], idx)
	require.NotNil(t, resolved)
	assert.Equal(t, "e:utils:Helper", resolved.TargetEntityID)
	assert.Equal(t, MethodHeuristic, resolved.Method)
	assert.InDelta(t, 0.85, resolved.Confidence, 0.001)
}

func TestResolveRef_UnexportedSymbolIsInvisible(t *testing.T) {
	r := New(Config{Enabled: true})
	files := []FileExport{
		{
			FilePath: "a.dvl",
			Symbols: []DeclaredSymbol{
				{Name: "_private", Kind: "function", TargetEntityID: "e:a:_private"},
			},
		},
		{FilePath: "b.dvl", Imports: []string{"./a"}},
	}
	idx := r.BuildExportIndex("/pkg", files)
	ref := Ref{SourceFilePath: "b.dvl", ModuleSpecifier: "./a", ImportedSymbol: "_private"}
	assert.Nil(t, r.ResolveRef(ref, idx))
}

func TestResolveRef_AllowlistOverridesUnderscoreConvention(t *testing.T) {
	r := New(Config{Enabled: true})
	files := []FileExport{
		{
			FilePath: "a.dvl",
			Symbols: []DeclaredSymbol{
				{Name: "_blessed", Kind: "function", TargetEntityID: "e:a:_blessed"},
			},
			HasAllowlist: true,
			AllowlistSet: []string{"_blessed"},
		},
		{FilePath: "b.dvl", Imports: []string{"./a"}},
	}
	idx := r.BuildExportIndex("/pkg", files)
	ref := Ref{SourceFilePath: "b.dvl", ModuleSpecifier: "./a", ImportedSymbol: "_blessed"}
	resolved := r.ResolveRef(ref, idx)
	require.NotNil(t, resolved)
	assert.Equal(t, "e:a:_blessed", resolved.TargetEntityID)
}

func TestResolveRef_ExternalPackageYieldsNil(t *testing.T) {
	r := New(Config{Enabled: true})
	files := []FileExport{{FilePath: "a.dvl", Imports: []string{"some-external-lib"}}}
	idx := r.BuildExportIndex("/pkg", files)
	ref := Ref{SourceFilePath: "a.dvl", ModuleSpecifier: "some-external-lib", ImportedSymbol: "whatever"}
	assert.Nil(t, r.ResolveRef(ref, idx))
}

func TestResolveRef_RelativeImportPopsDirectories(t *testing.T) {
	r := New(Config{Enabled: true})
	files := []FileExport{
		{
			FilePath: "util/helper.dvl",
			Symbols: []DeclaredSymbol{
				{Name: "Shared", Kind: "function", HasExportKeyword: true, TargetEntityID: "e:helper:Shared"},
			},
		},
		{FilePath: "sub/main.dvl", Imports: []string{"../util/helper"}},
	}
	idx := r.BuildExportIndex("/pkg", files)
	ref := Ref{SourceFilePath: "sub/main.dvl", ModuleSpecifier: "../util/helper", ImportedSymbol: "Shared"}
	resolved := r.ResolveRef(ref, idx)
	require.NotNil(t, resolved)
	assert.Equal(t, "e:helper:Shared", resolved.TargetEntityID)
}

func TestReExport_StarReExportAppearsInExporter(t *testing.T) {
	r := New(Config{Enabled: true})
	files := []FileExport{
		{
			FilePath: "impl.dvl",
			Symbols:  []DeclaredSymbol{{Name: "Thing", HasExportKeyword: true, TargetEntityID: "e:impl:Thing"}},
		},
		{
			FilePath:     "index.dvl",
			ReExportFrom: []ReExport{{ModuleSpecifier: "./impl"}},
		},
	}
	idx := r.BuildExportIndex("/pkg", files)
	names := make([]string, 0)
	for _, e := range idx.Exports["index.dvl"] {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "Thing")
}

func TestReExport_AliasedNamedReExport(t *testing.T) {
	r := New(Config{Enabled: true})
	files := []FileExport{
		{
			FilePath: "impl.dvl",
			Symbols:  []DeclaredSymbol{{Name: "Thing", HasExportKeyword: true, TargetEntityID: "e:impl:Thing"}},
		},
		{
			FilePath:     "index.dvl",
			ReExportFrom: []ReExport{{ModuleSpecifier: "./impl", Name: "Thing", Alias: "Renamed"}},
		},
	}
	idx := r.BuildExportIndex("/pkg", files)
	found := false
	for _, e := range idx.Exports["index.dvl"] {
		if e.Name == "Renamed" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDisabledResolver_AlwaysReturnsNil(t *testing.T) {
	r := New(Config{Enabled: false})
	assert.False(t, r.IsAvailable())
	idx := r.BuildExportIndex("/pkg", nil)
	assert.Nil(t, r.ResolveRef(Ref{SourceFilePath: "a.dvl", ModuleSpecifier: "./b"}, idx))
}

func TestClearCache_RebuildsIndex(t *testing.T) {
	r := New(Config{Enabled: true})
	files := []FileExport{{FilePath: "a.dvl", Symbols: []DeclaredSymbol{{Name: "X", HasExportKeyword: true, TargetEntityID: "e1"}}}}
	idx1 := r.BuildExportIndex("/pkg", files)
	assert.Len(t, idx1.Exports["a.dvl"], 1)

	r.ClearCache("/pkg")
	files2 := []FileExport{{FilePath: "a.dvl", Symbols: []DeclaredSymbol{
		{Name: "X", HasExportKeyword: true, TargetEntityID: "e1"},
		{Name: "Y", HasExportKeyword: true, TargetEntityID: "e2"},
	}}}
	idx2 := r.BuildExportIndex("/pkg", files2)
	assert.Len(t, idx2.Exports["a.dvl"], 2)
}

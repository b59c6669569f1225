package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEntityID_StableUnderWhitespace(t *testing.T) {
	id1 := ComputeEntityID("repoA", "pkg", "function", "greet", "func(name string)")
	id2 := ComputeEntityID("repoA", "pkg", "function", "greet", "func(name string)")
	assert.Equal(t, id1, id2)
	assert.Regexp(t, `^repoA:pkg:function:[0-9a-f]{8}$`, id1)
}

func TestComputeEntityID_ChangesWithRename(t *testing.T) {
	id1 := ComputeEntityID("repoA", "pkg", "function", "greet", "func(name string)")
	id2 := ComputeEntityID("repoA", "pkg", "function", "greeting", "func(name string)")
	assert.NotEqual(t, id1, id2)
}

func TestParseURI_FullForm(t *testing.T) {
	u, err := ParseURI("devac://myrepo/pkg/a/path/file.ts#Type.term(a,b)?version=v1&line=3&col=4")
	require.NoError(t, err)
	assert.Equal(t, "myrepo", u.Repo)
	assert.Equal(t, "pkg", u.Package)
	assert.Equal(t, "a/path/file.ts", u.File)
	require.Len(t, u.SymbolPath, 2)
	assert.True(t, u.SymbolPath[0].IsType)
	assert.Equal(t, "Type", u.SymbolPath[0].Name)
	assert.False(t, u.SymbolPath[1].IsType)
	assert.Equal(t, "term", u.SymbolPath[1].Name)
	assert.Equal(t, []string{"a", "b"}, u.SymbolPath[1].Params)
	assert.Equal(t, "v1", u.Query.Version)
	assert.Equal(t, 3, u.Query.Line)
	assert.Equal(t, 4, u.Query.Col)
}

func TestParseURI_MissingScheme(t *testing.T) {
	_, err := ParseURI("myrepo/pkg/file.ts")
	require.Error(t, err)
}

func TestURIIdempotence(t *testing.T) {
	inputs := []string{
		"devac://myrepo/pkg/file.ts#Sym",
		"devac://myrepo/./pkg/file.ts#Sym",
	}
	for _, s := range inputs {
		u, err := ParseURI(s)
		require.NoError(t, err)
		u2, err := ParseURI(FormatURI(u))
		require.NoError(t, err)
		assert.Equal(t, u, u2, "formatURI(parseURI(s)) should reparse to an equal URI for %q", s)
	}
}

func TestComputeEntityID_IdempotentRoundTrip(t *testing.T) {
	id := ComputeEntityID("r", "p", "function", "f", "sig")
	u := &URI{Repo: "r", Package: "p", File: "f.ts", SymbolPath: []SymbolSegment{{IsType: true, Name: "F"}}}
	reparsed, err := ParseURI(FormatURI(u))
	require.NoError(t, err)
	assert.Equal(t, u, reparsed)
	assert.NotEmpty(t, id)
}

func TestResolveRef_SameFileSymbolOnly(t *testing.T) {
	ctx := Context{Repo: "r", Package: "pkg", File: "a.ts"}
	u, err := ResolveRef("#Sym", ctx)
	require.NoError(t, err)
	assert.Equal(t, "r", u.Repo)
	assert.Equal(t, "pkg", u.Package)
	assert.Equal(t, "a.ts", u.File)
	require.Len(t, u.SymbolPath, 1)
	assert.Equal(t, "Sym", u.SymbolPath[0].Name)
}

func TestResolveRef_RelativeFile(t *testing.T) {
	ctx := Context{Repo: "r", Package: "pkg", File: "dir/a.ts"}
	u, err := ResolveRef("../other#Helper", ctx)
	require.NoError(t, err)
	assert.Equal(t, "other", u.File)
}

func TestToRelativeRef_SameFile(t *testing.T) {
	ctx := Context{Repo: "r", Package: "pkg", File: "a.ts"}
	u := &URI{Repo: "r", Package: "pkg", File: "a.ts", SymbolPath: []SymbolSegment{{IsType: true, Name: "Sym"}}}
	assert.Equal(t, "#Sym", ToRelativeRef(u, ctx))
}

func TestToRelativeRef_DifferentRepo(t *testing.T) {
	ctx := Context{Repo: "r", Package: "pkg", File: "a.ts"}
	u := &URI{Repo: "other", Package: "pkg", File: "a.ts", SymbolPath: []SymbolSegment{{IsType: true, Name: "Sym"}}}
	assert.Equal(t, "devac://other/pkg/a.ts#Sym", ToRelativeRef(u, ctx))
}

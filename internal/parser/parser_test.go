package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFile_FunctionDeclaration(t *testing.T) {
	content := []byte("func greet(name)\n")
	out, err := ParseFile("repo", "pkg")("greet.dvl", "hash1", content)
	require.NoError(t, err)

	require.Len(t, out.Nodes, 1)
	n := out.Nodes[0]
	assert.Equal(t, "greet", n.Name)
	assert.Equal(t, "function", n.Kind)
	assert.True(t, n.IsExported == false) // lowercase name => not exported
	assert.EqualValues(t, 1, n.StartLine)
	assert.EqualValues(t, 1, n.EndLine)
}

func TestParseFile_ExportedFunction(t *testing.T) {
	content := []byte("func Greet(name)\n")
	out, err := ParseFile("repo", "pkg")("greet.dvl", "hash1", content)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	assert.True(t, out.Nodes[0].IsExported)
}

func TestParseFile_Import(t *testing.T) {
	content := []byte("import \"./utils\"\n")
	out, err := ParseFile("repo", "pkg")("main.dvl", "hash1", content)
	require.NoError(t, err)
	require.Len(t, out.ExternalRefs, 1)
	assert.Equal(t, "./utils", out.ExternalRefs[0].ModuleSpecifier)
}

func TestParseFile_Call(t *testing.T) {
	content := []byte("call stripe.charges.create\n")
	out, err := ParseFile("repo", "pkg")("billing.dvl", "hash1", content)
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	assert.Equal(t, "stripe.charges.create", out.Effects[0].CalleeName)
	assert.True(t, out.Effects[0].IsExternal)
}

func TestParseFile_MalformedFunc(t *testing.T) {
	_, err := ParseFile("repo", "pkg")("bad.dvl", "h", []byte("func (x)\n"))
	assert.Error(t, err)
}

func TestParseFile_Deterministic(t *testing.T) {
	content := []byte("func greet(name)\nimport \"./utils\"\ncall stripe.charges.create\n")
	out1, err := ParseFile("repo", "pkg")("f.dvl", "h", content)
	require.NoError(t, err)
	out2, err := ParseFile("repo", "pkg")("f.dvl", "h", content)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devac/devac/internal/schema"
)

func writeRuleFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadRulesFromYAML_ParsesMatchAndEmit(t *testing.T) {
	path := writeRuleFile(t, `
rules:
  - id: custom.widget
    name: Widget call
    priority: 50
    enabled: true
    match:
      effectType: FunctionCall
      calleePattern: "^widget\\."
      isExternal: "true"
    emit:
      domain: Widget
      action: call
      metadata:
        vendor: acme
`)

	rules, err := LoadRulesFromYAML(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, "custom.widget", r.ID)
	assert.Equal(t, 50, r.Priority)
	assert.True(t, r.Enabled)
	assert.Equal(t, TriTrue, r.Match.IsExternal)
	require.NotNil(t, r.Match.CalleePattern)
	assert.True(t, r.Match.CalleePattern.MatchString("widget.create"))
	assert.Equal(t, "Widget", r.Emit.Domain)
	assert.Equal(t, "acme", r.Emit.Metadata["vendor"])
}

func TestEngine_LoadFile_AddsRulesAndMatches(t *testing.T) {
	path := writeRuleFile(t, `
rules:
  - id: custom.widget
    name: Widget call
    priority: 999
    enabled: true
    match:
      effectType: FunctionCall
      calleePattern: "^widget\\."
    emit:
      domain: Widget
      action: call
`)

	e := New(true)
	require.NoError(t, e.LoadFile(path))

	effects := []schema.CodeEffect{{EffectID: "e1", EffectType: "FunctionCall", CalleeName: "widget.create"}}
	report := e.Process(effects)

	require.Len(t, report.DomainEffects, 1)
	assert.Equal(t, "Widget", report.DomainEffects[0].Domain)
}

func TestLoadRulesFromYAML_InvalidPatternErrors(t *testing.T) {
	path := writeRuleFile(t, `
rules:
  - id: bad
    name: bad
    match:
      calleePattern: "("
    emit:
      domain: X
      action: Y
`)

	_, err := LoadRulesFromYAML(path)
	assert.Error(t, err)
}

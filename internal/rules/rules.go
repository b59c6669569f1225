// Package rules implements the Rule Engine (spec.md §4.6): a prioritized,
// first-match-wins predicate matcher that turns code effects into domain
// effects. Grounded on the priority/fallback selection idiom of the
// teacher's internal/analysis/config.SelectConfigWithReason (exact match,
// then fallback strategies, then default), generalized here from
// "pick one config" to "find the first matching rule in priority order."
package rules

import (
	"encoding/json"
	"regexp"
	"sort"
	"time"

	"github.com/devac/devac/internal/schema"
)

// Tri is a tri-valued predicate: omitted (ignore), or required true/false.
type Tri int

const (
	TriIgnore Tri = iota
	TriTrue
	TriFalse
)

// Match is the conjunction of predicates a code effect must satisfy.
type Match struct {
	EffectType    string
	CalleePattern *regexp.Regexp
	IsExternal    Tri
	IsAsync       Tri
	IsConstructor Tri
	// Properties requires each named property to equal the given value.
	Properties map[string]string
}

// Emit describes the domain effect a matching rule produces.
type Emit struct {
	Domain   string
	Action   string
	Metadata map[string]string
}

// Rule is one entry in the engine's rule vector.
type Rule struct {
	ID          string
	Name        string
	Description string
	Match       Match
	Emit        Emit
	Priority    int
	Enabled     bool

	// seq preserves definition order among equal priorities.
	seq int
}

// RuleStat counts how many effects one rule matched.
type RuleStat struct {
	RuleID  string
	Matched int
}

// ProcessReport is the outcome of running Process over a batch of effects.
type ProcessReport struct {
	DomainEffects  []schema.DomainEffect
	RuleStats      []RuleStat
	MatchedCount   int
	UnmatchedCount int
	ProcessTimeMs  int64
}

// Engine evaluates a prioritized rule vector against code effects.
type Engine struct {
	rules      []Rule
	nextSeq    int
	maxEffects int
}

// New creates an engine, optionally seeded with built-in rules.
func New(includeBuiltins bool) *Engine {
	e := &Engine{}
	if includeBuiltins {
		for _, r := range BuiltinRules() {
			e.AddRule(r)
		}
	}
	return e
}

// SetMaxEffects bounds how many input effects Process will consider; 0 means unbounded.
func (e *Engine) SetMaxEffects(n int) { e.maxEffects = n }

// AddRule inserts a rule and re-sorts by descending priority, definition
// order preserved within a priority level via the sequence counter.
func (e *Engine) AddRule(r Rule) {
	r.seq = e.nextSeq
	e.nextSeq++
	e.rules = append(e.rules, r)
	e.resort()
}

// RemoveRule removes a rule by ID and re-sorts.
func (e *Engine) RemoveRule(id string) {
	out := e.rules[:0]
	for _, r := range e.rules {
		if r.ID != id {
			out = append(out, r)
		}
	}
	e.rules = out
	e.resort()
}

func (e *Engine) resort() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].Priority != e.rules[j].Priority {
			return e.rules[i].Priority > e.rules[j].Priority
		}
		return e.rules[i].seq < e.rules[j].seq
	})
}

// Rules returns the current rule vector in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// RulesByDomain returns the built-in and custom rules whose Emit.Domain
// matches, whether enabled or not.
func (e *Engine) RulesByDomain(domain string) []Rule {
	var out []Rule
	for _, r := range e.rules {
		if r.Emit.Domain == domain {
			out = append(out, r)
		}
	}
	return out
}

// Process evaluates effects against the rule vector in priority order,
// the first matching enabled rule winning for each effect.
func (e *Engine) Process(effects []schema.CodeEffect) ProcessReport {
	start := time.Now()
	report := ProcessReport{}

	statIdx := make(map[string]int)
	statAt := func(id string) int {
		if i, ok := statIdx[id]; ok {
			return i
		}
		report.RuleStats = append(report.RuleStats, RuleStat{RuleID: id})
		i := len(report.RuleStats) - 1
		statIdx[id] = i
		return i
	}

	considered := effects
	if e.maxEffects > 0 && e.maxEffects < len(effects) {
		considered = effects[:e.maxEffects]
	}

	for _, effect := range considered {
		matchedRule, ok := e.firstMatch(effect)
		if !ok {
			report.UnmatchedCount++
			continue
		}
		report.MatchedCount++
		report.RuleStats[statAt(matchedRule.ID)].Matched++
		report.DomainEffects = append(report.DomainEffects, buildDomainEffect(matchedRule, effect))
	}

	report.ProcessTimeMs = time.Since(start).Milliseconds()
	return report
}

func (e *Engine) firstMatch(effect schema.CodeEffect) (*Rule, bool) {
	for i := range e.rules {
		r := &e.rules[i]
		if !r.Enabled {
			continue
		}
		if matches(r.Match, effect) {
			return r, true
		}
	}
	return nil, false
}

func matches(m Match, effect schema.CodeEffect) bool {
	if m.EffectType != "" && m.EffectType != effect.EffectType {
		return false
	}
	if m.CalleePattern != nil && !m.CalleePattern.MatchString(effect.CalleeName) {
		return false
	}
	if !triMatches(m.IsExternal, effect.IsExternal) {
		return false
	}
	if !triMatches(m.IsAsync, effect.IsAsync) {
		return false
	}
	if !triMatches(m.IsConstructor, effect.IsConstructor) {
		return false
	}
	if len(m.Properties) > 0 {
		props := decodeProperties(effect.PropertiesJSON)
		for k, v := range m.Properties {
			if props[k] != v {
				return false
			}
		}
	}
	return true
}

func decodeProperties(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var props map[string]string
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil
	}
	return props
}

func triMatches(t Tri, actual bool) bool {
	switch t {
	case TriTrue:
		return actual
	case TriFalse:
		return !actual
	default:
		return true
	}
}

func buildDomainEffect(r *Rule, effect schema.CodeEffect) schema.DomainEffect {
	metadata := make(map[string]any, len(r.Emit.Metadata)+3)
	for k, v := range r.Emit.Metadata {
		metadata[k] = v
	}
	metadata["callee"] = effect.CalleeName
	metadata["isExternal"] = effect.IsExternal
	metadata["isAsync"] = effect.IsAsync

	return schema.DomainEffect{
		SourceEffectID:     effect.EffectID,
		Domain:             r.Emit.Domain,
		Action:             r.Emit.Action,
		RuleID:             r.ID,
		RuleName:           r.Name,
		OriginalEffectType: effect.EffectType,
		SourceEntityID:     effect.SourceEntityID,
		FilePath:           effect.FilePath,
		StartLine:          effect.StartLine,
		Metadata:           metadata,
	}
}

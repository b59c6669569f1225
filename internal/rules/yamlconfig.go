package rules

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// yamlRule is the on-disk shape of one custom rule, letting an operator
// extend the built-in catalogue without a code change. Grounded on the
// teacher's internal/config/credentials.go, which loads a YAML config
// file into a tagged struct the same way.
type yamlRule struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Enabled     bool      `yaml:"enabled"`
	Match       yamlMatch `yaml:"match"`
	Emit        yamlEmit  `yaml:"emit"`
}

type yamlMatch struct {
	EffectType    string            `yaml:"effectType"`
	CalleePattern string            `yaml:"calleePattern"`
	IsExternal    string            `yaml:"isExternal"` // "", "true", "false"
	IsAsync       string            `yaml:"isAsync"`
	IsConstructor string            `yaml:"isConstructor"`
	Properties    map[string]string `yaml:"properties"`
}

type yamlEmit struct {
	Domain   string            `yaml:"domain"`
	Action   string            `yaml:"action"`
	Metadata map[string]string `yaml:"metadata"`
}

type yamlRuleFile struct {
	Rules []yamlRule `yaml:"rules"`
}

// LoadRulesFromYAML reads a rule definition file and returns the decoded
// rules, letting a deployment supplement the built-in catalogue without
// recompiling the engine.
func LoadRulesFromYAML(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}
	var file yamlRuleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	out := make([]Rule, 0, len(file.Rules))
	for _, yr := range file.Rules {
		r, err := yr.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", yr.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadFile loads rules from a YAML file and adds each to the engine.
func (e *Engine) LoadFile(path string) error {
	rules, err := LoadRulesFromYAML(path)
	if err != nil {
		return err
	}
	for _, r := range rules {
		e.AddRule(r)
	}
	return nil
}

func (yr yamlRule) toRule() (Rule, error) {
	var pattern *regexp.Regexp
	if yr.Match.CalleePattern != "" {
		p, err := regexp.Compile(yr.Match.CalleePattern)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid calleePattern: %w", err)
		}
		pattern = p
	}

	return Rule{
		ID:          yr.ID,
		Name:        yr.Name,
		Description: yr.Description,
		Priority:    yr.Priority,
		Enabled:     yr.Enabled,
		Match: Match{
			EffectType:    yr.Match.EffectType,
			CalleePattern: pattern,
			IsExternal:    parseTri(yr.Match.IsExternal),
			IsAsync:       parseTri(yr.Match.IsAsync),
			IsConstructor: parseTri(yr.Match.IsConstructor),
			Properties:    yr.Match.Properties,
		},
		Emit: Emit{
			Domain:   yr.Emit.Domain,
			Action:   yr.Emit.Action,
			Metadata: yr.Emit.Metadata,
		},
	}, nil
}

func parseTri(s string) Tri {
	switch s {
	case "true":
		return TriTrue
	case "false":
		return TriFalse
	default:
		return TriIgnore
	}
}

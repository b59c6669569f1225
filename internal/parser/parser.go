// Package parser implements a small reference parser satisfying the
// external parseFile contract from spec.md §6. It stands in for the
// out-of-scope tree-sitter language drivers: a toy language where every
// top-level "func Name(...)" line declares a function (exported when Name
// starts with an uppercase letter) and every "import \"target\"" line is
// an external reference, letting the
// sync orchestrator and its tests exercise the full pipeline without a
// real language frontend.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/devac/devac/internal/graphbuild"
	"github.com/devac/devac/internal/identity"
	"github.com/devac/devac/internal/schema"
)

// ParseFile implements graphbuild.ParseFunc for the fixture language.
// repo and pkg identify the owning package for entity-ID computation.
func ParseFile(repo, pkg string) graphbuild.ParseFunc {
	return func(path, contentHash string, content []byte) (graphbuild.ParseOutput, error) {
		var out graphbuild.ParseOutput

		scanner := bufio.NewScanner(bytes.NewReader(content))
		lineNo := int32(0)
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())

			switch {
			case strings.HasPrefix(line, "func "):
				name, params, ok := parseFuncDecl(line)
				if !ok {
					return out, fmt.Errorf("%s:%d: malformed func declaration", path, lineNo)
				}
				sig := fmt.Sprintf("func(%s)", strings.Join(params, ","))
				entityID := identity.ComputeEntityID(repo, pkg, schema.KindFunction, name, sig)
				out.Nodes = append(out.Nodes, schema.Node{
					EntityID:      entityID,
					Name:          name,
					QualifiedName: name,
					Kind:          schema.KindFunction,
					FilePath:      path,
					StartLine:     lineNo,
					EndLine:       lineNo,
					IsExported:    isExportedName(name),
					Visibility:    schema.VisibilityPublic,
				})

			case strings.HasPrefix(line, "import "):
				spec, ok := parseImportDecl(line)
				if !ok {
					return out, fmt.Errorf("%s:%d: malformed import declaration", path, lineNo)
				}
				out.ExternalRefs = append(out.ExternalRefs, schema.ExternalRef{
					ModuleSpecifier: spec,
					ImportStyle:     schema.ImportStyleSideEffect,
					FilePath:        path,
					StartLine:       lineNo,
				})

			case strings.HasPrefix(line, "call "):
				callee, ok := parseCallDecl(line)
				if !ok {
					return out, fmt.Errorf("%s:%d: malformed call statement", path, lineNo)
				}
				out.Effects = append(out.Effects, schema.CodeEffect{
					EffectID:   fmt.Sprintf("%s:%d:%s", path, lineNo, callee),
					EffectType: "FunctionCall",
					CalleeName: callee,
					IsExternal: strings.Contains(callee, "."),
					FilePath:   path,
					StartLine:  lineNo,
				})
			}
		}

		if err := scanner.Err(); err != nil {
			return out, err
		}

		return out, nil
	}
}

func isExportedName(name string) bool {
	return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z'
}

// parseFuncDecl parses "func Name(a, b)" into ("Name", ["a","b"], true).
func parseFuncDecl(line string) (string, []string, bool) {
	rest := strings.TrimPrefix(line, "func ")
	open := strings.IndexByte(rest, '(')
	close := strings.IndexByte(rest, ')')
	if open < 0 || close < open {
		return "", nil, false
	}
	name := strings.TrimSpace(rest[:open])
	if name == "" {
		return "", nil, false
	}
	paramsRaw := strings.TrimSpace(rest[open+1 : close])
	var params []string
	if paramsRaw != "" {
		for _, p := range strings.Split(paramsRaw, ",") {
			params = append(params, strings.TrimSpace(p))
		}
	}
	return name, params, true
}

// parseImportDecl parses `import "target"` into ("target", true).
func parseImportDecl(line string) (string, bool) {
	rest := strings.TrimPrefix(line, "import ")
	rest = strings.TrimSpace(rest)
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", false
	}
	return rest[1 : len(rest)-1], true
}

// parseCallDecl parses "call target.fn" into ("target.fn", true).
func parseCallDecl(line string) (string, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "call "))
	if rest == "" {
		return "", false
	}
	return rest, true
}

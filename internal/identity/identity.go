// Package identity computes stable entity IDs and implements the
// devac:// URI grammar. Both are pure functions over their inputs,
// grounded on the composite-ID idiom in the teacher's graph builder
// (repo:package:kind:hash) generalized to the spec's grammar.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	devacerrors "github.com/devac/devac/internal/errors"
)

// ComputeEntityID produces "{repo}:{pkg}:{kind}:{hash8}". The hash
// depends only on (qualifiedName, kind, structuralSig), so whitespace-only
// edits to the enclosing file never change it.
func ComputeEntityID(repo, pkg, kind, qualifiedName, structuralSig string) string {
	h := sha256.Sum256([]byte(qualifiedName + "|" + kind + "|" + structuralSig))
	hash8 := hex.EncodeToString(h[:])[:8]
	return fmt.Sprintf("%s:%s:%s:%s", repo, pkg, kind, hash8)
}

// RepoFromEntityID extracts the repo component from an entity ID of
// the form "{repo}:{pkg}:{kind}:{hash8}", returning "" if malformed.
func RepoFromEntityID(entityID string) string {
	repo, _, ok := strings.Cut(entityID, ":")
	if !ok {
		return ""
	}
	return repo
}

// Query holds the optional `?key=value&...` suffix of a URI.
type Query struct {
	Version string
	Line    int
	HasLine bool
	Col     int
	HasCol  bool
	EndLine int
	HasEndLine bool
	EndCol  int
	HasEndCol  bool
}

// URI is the parsed form of devac://<repo>[/<package>][/<file>][#<symbolPath>][?<query>].
type URI struct {
	Repo       string
	Package    string // "." for repo root
	File       string
	SymbolPath []SymbolSegment
	Query      Query
}

// SymbolSegment is one '#TypeName' or '.TermName(params)' hop in a symbolPath.
type SymbolSegment struct {
	IsType bool   // true for '#Name', false for '.Name(...)'
	Name   string
	Params []string // present only for '.term(...)' segments; nil otherwise
	HasParams bool
}

const scheme = "devac://"

// ParseURI parses a canonical devac:// URI into its components.
func ParseURI(s string) (*URI, error) {
	p := &uriParser{input: s, pos: 0}
	uri, err := p.parse()
	if err != nil {
		return nil, devacerrors.URIParseError(s, err.Error())
	}
	return uri, nil
}

type uriParser struct {
	input string
	pos   int
}

func (p *uriParser) parse() (*URI, error) {
	if len(p.input) < len(scheme) || p.input[:len(scheme)] != scheme {
		return nil, fmt.Errorf("missing %q scheme", scheme)
	}
	p.pos = len(scheme)

	u := &URI{Package: "."}

	u.Repo = p.takeUntil("/#?")
	if u.Repo == "" {
		return nil, fmt.Errorf("empty repo component")
	}

	if p.peek() == '/' {
		p.pos++
		first := p.takeUntil("/#?")
		if p.peek() == '/' {
			// two path segments after repo: package then file
			u.Package = first
			p.pos++
			u.File = p.takeUntil("#?")
		} else {
			// one path segment: ambiguous between package and file; a
			// trailing symbolPath or query disambiguates nothing further,
			// so a single segment is treated as the file with package
			// defaulting to repo root, matching the grammar's package="."
			// short form.
			u.File = first
		}
	}

	if p.peek() == '#' {
		segs, err := p.parseSymbolPath()
		if err != nil {
			return nil, err
		}
		u.SymbolPath = segs
	}

	if p.peek() == '?' {
		p.pos++
		q, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		u.Query = q
	}

	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trailing input at offset %d", p.pos)
	}

	return u, nil
}

func (p *uriParser) parseSymbolPath() ([]SymbolSegment, error) {
	var segs []SymbolSegment
	for p.peek() == '#' || p.peek() == '.' {
		isType := p.peek() == '#'
		p.pos++
		name := p.takeUntil("#.(?")
		if name == "" {
			return nil, fmt.Errorf("empty symbol segment at offset %d", p.pos)
		}
		seg := SymbolSegment{IsType: isType, Name: name}
		if p.peek() == '(' {
			p.pos++
			paramsRaw := p.takeUntil(")")
			if p.peek() != ')' {
				return nil, fmt.Errorf("unterminated params at offset %d", p.pos)
			}
			p.pos++
			seg.HasParams = true
			if paramsRaw != "" {
				seg.Params = splitTopLevel(paramsRaw, ',')
			} else {
				seg.Params = []string{}
			}
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func (p *uriParser) parseQuery() (Query, error) {
	var q Query
	raw := p.input[p.pos:]
	p.pos = len(p.input)
	for _, kv := range splitTopLevel(raw, '&') {
		if kv == "" {
			continue
		}
		parts := splitTopLevel(kv, '=')
		if len(parts) != 2 {
			return q, fmt.Errorf("malformed query pair %q", kv)
		}
		key, val := parts[0], parts[1]
		switch key {
		case "version":
			q.Version = val
		case "line":
			q.Line, q.HasLine = atoiOK(val)
		case "col":
			q.Col, q.HasCol = atoiOK(val)
		case "endLine":
			q.EndLine, q.HasEndLine = atoiOK(val)
		case "endCol":
			q.EndCol, q.HasEndCol = atoiOK(val)
		default:
			return q, fmt.Errorf("unknown query key %q", key)
		}
	}
	return q, nil
}

func (p *uriParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *uriParser) takeUntil(stopSet string) string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		for i := 0; i < len(stopSet); i++ {
			if c == stopSet[i] {
				return p.input[start:p.pos]
			}
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func atoiOK(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}

// FormatURI renders a URI back to its canonical string form: query
// parameters in the fixed order version, line, col, endLine, endCol.
// The root package "." is written as an explicit "./" marker only when
// the file path is nested, where leaving it out would make the file's
// first directory read back as the package.
func FormatURI(u *URI) string {
	s := scheme + u.Repo
	if u.Package != "." && u.Package != "" {
		s += "/" + u.Package
	} else if u.Package == "." && strings.Contains(u.File, "/") {
		s += "/."
	}
	if u.File != "" {
		s += "/" + u.File
	}
	for _, seg := range u.SymbolPath {
		if seg.IsType {
			s += "#" + seg.Name
		} else {
			s += "." + seg.Name
			if seg.HasParams {
				s += "(" + joinStrings(seg.Params, ",") + ")"
			}
		}
	}

	var q []string
	if u.Query.Version != "" {
		q = append(q, "version="+u.Query.Version)
	}
	if u.Query.HasLine {
		q = append(q, fmt.Sprintf("line=%d", u.Query.Line))
	}
	if u.Query.HasCol {
		q = append(q, fmt.Sprintf("col=%d", u.Query.Col))
	}
	if u.Query.HasEndLine {
		q = append(q, fmt.Sprintf("endLine=%d", u.Query.EndLine))
	}
	if u.Query.HasEndCol {
		q = append(q, fmt.Sprintf("endCol=%d", u.Query.EndCol))
	}
	if len(q) > 0 {
		s += "?" + joinStrings(q, "&")
	}
	return s
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Context is the (repo, version, package, file) a relative ref is
// resolved against.
type Context struct {
	Repo    string
	Version string
	Package string
	File    string
}

// ResolveRef resolves a relative reference string against ctx to a
// canonical URI. Supported relative forms: "#Sym", ".term()",
// "./file#Sym", "../dir/file#Sym", and "repo@version/pkg/file#Sym".
func ResolveRef(ref string, ctx Context) (*URI, error) {
	if len(ref) >= len(scheme) && ref[:len(scheme)] == scheme {
		return ParseURI(ref)
	}

	if len(ref) > 0 && (ref[0] == '#' || ref[0] == '.') && !isPathRef(ref) {
		p := &uriParser{input: ref}
		segs, err := p.parseSymbolPath()
		if err != nil {
			return nil, devacerrors.URIParseError(ref, err.Error())
		}
		if p.pos != len(ref) {
			return nil, devacerrors.URIParseError(ref, "trailing input after symbol path")
		}
		return &URI{Repo: ctx.Repo, Package: ctx.Package, File: ctx.File, SymbolPath: segs, Query: Query{Version: ctx.Version}}, nil
	}

	// repo@version/pkg/file#Sym form
	if at := indexByte(ref, '@'); at >= 0 {
		repo := ref[:at]
		rest := ref[at+1:]
		slash := indexByte(rest, '/')
		if slash < 0 {
			return nil, devacerrors.URIParseError(ref, "missing path after version")
		}
		version := rest[:slash]
		pathAndSym := rest[slash+1:]
		full := scheme + repo + "/" + pathAndSym
		u, err := ParseURI(full)
		if err != nil {
			return nil, err
		}
		u.Query.Version = version
		return u, nil
	}

	// file-relative form: ./file#Sym or ../dir/file#Sym
	hashIdx := indexByte(ref, '#')
	pathPart, symPart := ref, ""
	if hashIdx >= 0 {
		pathPart, symPart = ref[:hashIdx], ref[hashIdx:]
	}
	resolvedFile := joinRelative(ctx.File, pathPart)

	full := scheme + ctx.Repo + "/" + ctx.Package + "/" + resolvedFile + symPart
	return ParseURI(full)
}

func isPathRef(ref string) bool {
	return len(ref) >= 2 && (ref[:2] == "./" || ref[:2] == "..")
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// joinRelative resolves pathPart against the directory of baseFile,
// popping a directory per leading ".." segment and dropping "." segments.
func joinRelative(baseFile, pathPart string) string {
	dir := ""
	if idx := lastIndexByte(baseFile, '/'); idx >= 0 {
		dir = baseFile[:idx]
	}
	dirSegs := splitNonEmpty(dir, '/')

	for _, seg := range splitNonEmpty(pathPart, '/') {
		switch seg {
		case ".":
			// dropped
		case "..":
			if len(dirSegs) > 0 {
				dirSegs = dirSegs[:len(dirSegs)-1]
			}
		default:
			dirSegs = append(dirSegs, seg)
		}
	}
	return joinStrings(dirSegs, "/")
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	for _, p := range splitTopLevel(s, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ToRelativeRef returns the shortest equivalent reference for uri when
// read from ctx: same file → symbol only, same package → relative
// path, different repo → fully qualified.
func ToRelativeRef(u *URI, ctx Context) string {
	if u.Repo != ctx.Repo {
		return FormatURI(u)
	}
	if u.Package == ctx.Package && u.File == ctx.File {
		s := ""
		for _, seg := range u.SymbolPath {
			if seg.IsType {
				s += "#" + seg.Name
			} else {
				s += "." + seg.Name
				if seg.HasParams {
					s += "(" + joinStrings(seg.Params, ",") + ")"
				}
			}
		}
		return s
	}
	if u.Package == ctx.Package {
		fromDir := splitNonEmpty(ctx.File, '/')
		fromDir = fromDir[:max(len(fromDir)-1, 0)]
		toSegs := splitNonEmpty(u.File, '/')
		i := 0
		for i < len(fromDir) && i < len(toSegs)-1 && fromDir[i] == toSegs[i] {
			i++
		}
		s := "./"
		if up := len(fromDir) - i; up > 0 {
			s = strings.Repeat("../", up)
		}
		s += joinStrings(toSegs[i:], "/")
		for _, seg := range u.SymbolPath {
			if seg.IsType {
				s += "#" + seg.Name
			} else {
				s += "." + seg.Name
				if seg.HasParams {
					s += "(" + joinStrings(seg.Params, ",") + ")"
				}
			}
		}
		return s
	}
	return FormatURI(u)
}

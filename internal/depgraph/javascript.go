package depgraph

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// javascriptParser covers JS and TS by text patterns. It deliberately stays
// shallow: imports, top-level declarations, and callee identifiers.
type javascriptParser struct {
	importRe  *regexp.Regexp
	requireRe *regexp.Regexp
	funcRe    *regexp.Regexp
	arrowRe   *regexp.Regexp
	methodRe  *regexp.Regexp
	callRe    *regexp.Regexp
}

func newJavaScriptParser() *javascriptParser {
	return &javascriptParser{
		importRe:  regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*?\s+from\s+)?['"]([^'"]+)['"]`),
		requireRe: regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		funcRe:    regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`),
		arrowRe:   regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`),
		methodRe:  regexp.MustCompile(`(?m)^\s{2,}(?:async\s+)?([A-Za-z_$][\w$]*)\s*\([^)]*\)\s*\{`),
		callRe:    regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*\(`),
	}
}

func (p *javascriptParser) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx"}
}

func (p *javascriptParser) ExtractImports(src string) []string {
	var out []string
	for _, m := range p.importRe.FindAllStringSubmatch(src, -1) {
		out = append(out, m[1])
	}
	for _, m := range p.requireRe.FindAllStringSubmatch(src, -1) {
		out = append(out, m[1])
	}
	return dedupe(out)
}

func (p *javascriptParser) ExtractFunctions(src string) []FunctionInfo {
	var out []FunctionInfo
	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{p.funcRe, p.arrowRe, p.methodRe} {
		for _, m := range re.FindAllStringSubmatchIndex(src, -1) {
			name := src[m[2]:m[3]]
			if jsKeywords[name] || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, FunctionInfo{
				Name: name,
				Body: bodyFrom(src, m[0]),
				Line: lineAt(src, m[0]),
			})
		}
	}
	return out
}

func (p *javascriptParser) ExtractCalls(body string) []string {
	var out []string
	for _, m := range p.callRe.FindAllStringSubmatch(body, -1) {
		if !jsKeywords[m[1]] {
			out = append(out, m[1])
		}
	}
	return dedupe(out)
}

func (p *javascriptParser) ResolveImport(imp, currentFile, root string) string {
	if !strings.HasPrefix(imp, ".") {
		return "" // bare specifier, node_modules
	}
	base := filepath.Join(filepath.Dir(currentFile), filepath.FromSlash(imp))
	candidates := []string{base}
	for _, ext := range p.Extensions() {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range p.Extensions() {
		candidates = append(candidates, filepath.Join(base, "index"+ext))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

var jsKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "constructor": true, "super": true,
	"typeof": true, "new": true, "await": true, "import": true, "require": true,
}

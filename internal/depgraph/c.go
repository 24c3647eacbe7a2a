package depgraph

import (
	"os"
	"path/filepath"
	"regexp"
)

// cParser covers C and C++ sources and headers.
type cParser struct {
	includeRe *regexp.Regexp
	funcRe    *regexp.Regexp
	callRe    *regexp.Regexp
}

func newCParser() *cParser {
	return &cParser{
		includeRe: regexp.MustCompile(`(?m)^\s*#\s*include\s*"([^"]+)"`),
		funcRe:    regexp.MustCompile(`(?m)^[\w\*]+[\w\s\*&:<>,]*?\s[\*&]*(\w+)\s*\([^;{]*\)\s*\{`),
		callRe:    regexp.MustCompile(`(\w+)\s*\(`),
	}
}

func (p *cParser) Extensions() []string {
	return []string{".c", ".h", ".cc", ".cpp", ".cxx", ".hpp", ".hh"}
}

// ExtractImports only follows quoted includes; angle-bracket includes are
// system headers and never resolve inside the project.
func (p *cParser) ExtractImports(src string) []string {
	var out []string
	for _, m := range p.includeRe.FindAllStringSubmatch(src, -1) {
		out = append(out, m[1])
	}
	return dedupe(out)
}

func (p *cParser) ExtractFunctions(src string) []FunctionInfo {
	var out []FunctionInfo
	seen := map[string]bool{}
	for _, m := range p.funcRe.FindAllStringSubmatchIndex(src, -1) {
		name := src[m[2]:m[3]]
		if cKeywords[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, FunctionInfo{
			Name: name,
			Body: bodyFrom(src, m[0]),
			Line: lineAt(src, m[0]),
		})
	}
	return out
}

func (p *cParser) ExtractCalls(body string) []string {
	var out []string
	for _, m := range p.callRe.FindAllStringSubmatch(body, -1) {
		if !cKeywords[m[1]] {
			out = append(out, m[1])
		}
	}
	return dedupe(out)
}

func (p *cParser) ResolveImport(imp, currentFile, root string) string {
	for _, base := range []string{filepath.Dir(currentFile), root, filepath.Join(root, "include"), filepath.Join(root, "src")} {
		c := filepath.Join(base, filepath.FromSlash(imp))
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

var cKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"sizeof": true, "defined": true, "printf": true, "free": true, "malloc": true,
}

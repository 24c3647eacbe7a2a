package depgraph

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type javaParser struct {
	importRe *regexp.Regexp
	methodRe *regexp.Regexp
	callRe   *regexp.Regexp
}

func newJavaParser() *javaParser {
	return &javaParser{
		importRe: regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+)\s*;`),
		methodRe: regexp.MustCompile(`(?m)^\s*(?:public|protected|private|static|final|synchronized|abstract|native|\s)+[\w<>\[\],\s]+?\s+(\w+)\s*\([^)]*\)\s*(?:throws\s+[\w.,\s]+)?\{`),
		callRe:   regexp.MustCompile(`(\w+)\s*\(`),
	}
}

func (p *javaParser) Extensions() []string { return []string{".java"} }

func (p *javaParser) ExtractImports(src string) []string {
	var out []string
	for _, m := range p.importRe.FindAllStringSubmatch(src, -1) {
		out = append(out, m[1])
	}
	return dedupe(out)
}

func (p *javaParser) ExtractFunctions(src string) []FunctionInfo {
	var out []FunctionInfo
	seen := map[string]bool{}
	for _, m := range p.methodRe.FindAllStringSubmatchIndex(src, -1) {
		name := src[m[2]:m[3]]
		if javaKeywords[name] || seen[name] {
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

func (p *javaParser) ExtractCalls(body string) []string {
	var out []string
	for _, m := range p.callRe.FindAllStringSubmatch(body, -1) {
		if !javaKeywords[m[1]] {
			out = append(out, m[1])
		}
	}
	return dedupe(out)
}

// ResolveImport maps a fully qualified class to a file under common source
// roots. Wildcard imports stay unresolved.
func (p *javaParser) ResolveImport(imp, currentFile, root string) string {
	if strings.HasSuffix(imp, ".*") {
		return ""
	}
	rel := filepath.FromSlash(strings.ReplaceAll(imp, ".", "/")) + ".java"
	for _, prefix := range []string{"", "src", filepath.Join("src", "main", "java")} {
		c := filepath.Join(root, prefix, rel)
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

var javaKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "new": true, "super": true, "this": true, "assert": true,
	"synchronized": true,
}

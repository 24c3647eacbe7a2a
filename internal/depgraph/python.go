package depgraph

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type pythonParser struct {
	importRe *regexp.Regexp
	fromRe   *regexp.Regexp
	defRe    *regexp.Regexp
	callRe   *regexp.Regexp
}

func newPythonParser() *pythonParser {
	return &pythonParser{
		importRe: regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`),
		fromRe:   regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\b`),
		defRe:    regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`),
		callRe:   regexp.MustCompile(`([A-Za-z_]\w*)\s*\(`),
	}
}

func (p *pythonParser) Extensions() []string { return []string{".py"} }

func (p *pythonParser) ExtractImports(src string) []string {
	var out []string
	for _, m := range p.importRe.FindAllStringSubmatch(src, -1) {
		out = append(out, m[1])
	}
	for _, m := range p.fromRe.FindAllStringSubmatch(src, -1) {
		out = append(out, m[1])
	}
	return dedupe(out)
}

func (p *pythonParser) ExtractFunctions(src string) []FunctionInfo {
	var out []FunctionInfo
	for _, m := range p.defRe.FindAllStringSubmatchIndex(src, -1) {
		out = append(out, FunctionInfo{
			Name: src[m[2]:m[3]],
			Body: pythonBody(src, m[0]),
			Line: lineAt(src, m[0]),
		})
	}
	return out
}

func (p *pythonParser) ExtractCalls(body string) []string {
	var out []string
	for _, m := range p.callRe.FindAllStringSubmatch(body, -1) {
		if !pyKeywords[m[1]] {
			out = append(out, m[1])
		}
	}
	return dedupe(out)
}

// ResolveImport handles dotted module paths and relative imports against the
// project root: "pkg.mod" tries pkg/mod.py then pkg/mod/__init__.py.
func (p *pythonParser) ResolveImport(imp, currentFile, root string) string {
	base := root
	name := imp
	if strings.HasPrefix(imp, ".") {
		base = filepath.Dir(currentFile)
		for strings.HasPrefix(name, ".") {
			name = name[1:]
			if strings.HasPrefix(name, ".") {
				base = filepath.Dir(base)
			}
		}
	}
	slashed := filepath.Join(base, filepath.FromSlash(strings.ReplaceAll(name, ".", "/")))
	for _, c := range []string{slashed + ".py", filepath.Join(slashed, "__init__.py")} {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// pythonBody collects the indented block following a def at byte offset start.
func pythonBody(src string, start int) string {
	lines := strings.Split(src[start:], "\n")
	if len(lines) == 0 {
		return ""
	}
	head := lines[0]
	indent := len(head) - len(strings.TrimLeft(head, " \t"))
	body := []string{head}
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			body = append(body, line)
			continue
		}
		if len(line)-len(trimmed) <= indent {
			break
		}
		body = append(body, line)
	}
	return strings.Join(body, "\n")
}

var pyKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "print": true, "len": true,
	"range": true, "str": true, "int": true, "float": true, "list": true,
	"dict": true, "set": true, "tuple": true, "super": true, "isinstance": true,
	"def": true, "return": true, "type": true, "enumerate": true, "zip": true,
}

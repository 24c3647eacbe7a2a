package depgraph

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

// goAnalyzer builds a project model from real syntax trees instead of text
// patterns, so Go call edges and package-level dependencies are exact.
type goAnalyzer struct{}

func newGoAnalyzer() *goAnalyzer { return &goAnalyzer{} }

func (a *goAnalyzer) Extensions() []string { return []string{".go"} }

// AnalyzeProject parses every file, groups them by package directory, and
// connects files through same-package declarations and intra-module imports.
func (a *goAnalyzer) AnalyzeProject(ctx context.Context, root string, files []string) (*ProjectModel, error) {
	model := &ProjectModel{
		Files:        map[string]*FileModel{},
		Dependencies: map[string]map[string]bool{},
		Calls:        map[string][]string{},
	}
	modulePath := readModulePath(root)

	fset := token.NewFileSet()
	parsed := map[string]*ast.File{}
	// package dir -> files in it
	pkgFiles := map[string][]string{}
	// declared top-level func name -> declaring file, per package dir
	pkgDecls := map[string]map[string]string{}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		f, err := parser.ParseFile(fset, file, src, parser.ParseComments)
		if err != nil {
			continue
		}
		parsed[file] = f
		dir := filepath.Dir(file)
		pkgFiles[dir] = append(pkgFiles[dir], file)
		if pkgDecls[dir] == nil {
			pkgDecls[dir] = map[string]string{}
		}

		fm := &FileModel{}
		typeMethods := map[string][]FunctionInfo{}
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			info := FunctionInfo{
				Name: fn.Name.Name,
				Body: string(src[fset.Position(fn.Pos()).Offset:fset.Position(fn.End()).Offset]),
				Line: fset.Position(fn.Pos()).Line,
			}
			if fn.Recv != nil && len(fn.Recv.List) > 0 {
				recv := receiverName(fn.Recv.List[0].Type)
				typeMethods[recv] = append(typeMethods[recv], info)
				pkgDecls[dir][recv+"."+fn.Name.Name] = file
			} else {
				fm.Functions = append(fm.Functions, info)
				pkgDecls[dir][fn.Name.Name] = file
			}
			model.Calls[file+":"+fn.Name.Name] = calleeNames(fn)
		}
		for name, methods := range typeMethods {
			fm.Types = append(fm.Types, TypeModel{Name: name, Methods: methods})
			fm.Functions = append(fm.Functions, methods...)
		}
		model.Files[file] = fm
	}

	// Import edges: an intra-module import depends on every file of the
	// imported package.
	for file, f := range parsed {
		deps := map[string]bool{}
		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if modulePath == "" || !strings.HasPrefix(path, modulePath) {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(path, modulePath), "/")
			dir := filepath.Join(root, filepath.FromSlash(rel))
			for _, target := range pkgFiles[dir] {
				if target != file {
					deps[target] = true
				}
			}
		}
		// Same-package files referencing each other's declarations.
		dir := filepath.Dir(file)
		for _, callee := range fileCallees(model, file) {
			if target, ok := pkgDecls[dir][callee]; ok && target != file {
				deps[target] = true
			}
		}
		if len(deps) > 0 {
			model.Dependencies[file] = deps
		}
	}
	return model, nil
}

func fileCallees(model *ProjectModel, file string) []string {
	var out []string
	prefix := file + ":"
	for key, callees := range model.Calls {
		if strings.HasPrefix(key, prefix) {
			out = append(out, callees...)
		}
	}
	return out
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	default:
		return fmt.Sprintf("%T", expr)
	}
}

// calleeNames walks a function body collecting called identifiers, both bare
// and the selector leaf of qualified calls.
func calleeNames(fn *ast.FuncDecl) []string {
	if fn.Body == nil {
		return nil
	}
	var out []string
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch f := call.Fun.(type) {
		case *ast.Ident:
			out = append(out, f.Name)
		case *ast.SelectorExpr:
			out = append(out, f.Sel.Name)
		}
		return true
	})
	return dedupe(out)
}

// readModulePath returns the module directive of go.mod at root, or "".
func readModulePath(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "module "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

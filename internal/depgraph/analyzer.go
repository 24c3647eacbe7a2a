// Package depgraph builds file and function dependency trees for a working
// tree, combining semantic analysis where available with text extraction for
// the remaining languages.
package depgraph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/scanner"
)

// maxTreeDepth bounds dependency tree expansion. A node one past the limit is
// still emitted, but truncated.
const maxTreeDepth = 10

// Analyzer holds the indexed view of one working tree. Build it once with
// Initialize, then query trees cheaply.
type Analyzer struct {
	root      string
	parsers   map[string]LanguageParser
	semantic  map[string]SemanticAnalyzer
	logger    *slog.Logger
	textLimit int

	mu            sync.Mutex
	initialized   bool
	fileFunctions map[string][]FunctionInfo
	fileDeps      map[string]map[string]bool
	funcCalls     map[string][]string // "file:func" -> callee names
	funcIndex     map[string][]string // function name -> declaring files
}

// NewAnalyzer builds an analyzer for the tree rooted at root.
func NewAnalyzer(root string, logger *slog.Logger) *Analyzer {
	a := &Analyzer{
		root:          root,
		parsers:       map[string]LanguageParser{},
		semantic:      map[string]SemanticAnalyzer{},
		logger:        logger,
		textLimit:     runtime.NumCPU(),
		fileFunctions: map[string][]FunctionInfo{},
		fileDeps:      map[string]map[string]bool{},
		funcCalls:     map[string][]string{},
		funcIndex:     map[string][]string{},
	}
	for _, sa := range defaultSemanticAnalyzers() {
		for _, ext := range sa.Extensions() {
			a.semantic[ext] = sa
		}
	}
	for _, p := range defaultParsers() {
		for _, ext := range p.Extensions() {
			if _, taken := a.semantic[ext]; !taken {
				a.parsers[ext] = p
			}
		}
	}
	return a
}

// Initialize scans the tree and indexes every supported file. Semantic
// analyzers run once over their whole file set; text parsers fan out per file.
func (a *Analyzer) Initialize(ctx context.Context) error {
	paths, err := scanner.Scan(a.root)
	if err != nil {
		return fmt.Errorf("scan %s: %w", a.root, err)
	}

	semFiles := map[SemanticAnalyzer][]string{}
	var textFiles []string
	for _, p := range paths {
		if p.IsDir {
			continue
		}
		ext := strings.ToLower(filepath.Ext(p.RelPath))
		abs := filepath.Join(a.root, filepath.FromSlash(p.RelPath))
		if sa, ok := a.semantic[ext]; ok {
			semFiles[sa] = append(semFiles[sa], abs)
		} else if _, ok := a.parsers[ext]; ok {
			textFiles = append(textFiles, abs)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(semFiles))
	for sa, files := range semFiles {
		wg.Add(1)
		go func(sa SemanticAnalyzer, files []string) {
			defer wg.Done()
			model, err := sa.AnalyzeProject(ctx, a.root, files)
			if err != nil {
				errCh <- err
				return
			}
			a.mergeModel(model)
		}(sa, files)
	}

	sem := make(chan struct{}, a.textLimit)
	for _, file := range textFiles {
		wg.Add(1)
		sem <- struct{}{}
		go func(file string) {
			defer wg.Done()
			defer func() { <-sem }()
			a.indexTextFile(file)
		}(file)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()
	a.logger.Debug("dependency index built",
		logfields.Path(a.root),
		slog.Int("files", len(a.fileFunctions)))
	return nil
}

func (a *Analyzer) mergeModel(model *ProjectModel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for file, fm := range model.Files {
		a.fileFunctions[file] = fm.Functions
		for _, fn := range fm.Functions {
			a.funcIndex[fn.Name] = append(a.funcIndex[fn.Name], file)
		}
	}
	for file, deps := range model.Dependencies {
		a.fileDeps[file] = deps
	}
	for key, callees := range model.Calls {
		a.funcCalls[key] = callees
	}
}

func (a *Analyzer) indexTextFile(file string) {
	parser := a.parsers[strings.ToLower(filepath.Ext(file))]
	data, err := os.ReadFile(file)
	if err != nil {
		a.logger.Debug("skipping unreadable file", logfields.Path(file), logfields.Error(err))
		return
	}
	src := string(data)

	deps := map[string]bool{}
	for _, imp := range parser.ExtractImports(src) {
		if target := parser.ResolveImport(imp, file, a.root); target != "" {
			deps[target] = true
		}
	}
	funcs := parser.ExtractFunctions(src)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fileFunctions[file] = funcs
	if len(deps) > 0 {
		a.fileDeps[file] = deps
	}
	for _, fn := range funcs {
		a.funcIndex[fn.Name] = append(a.funcIndex[fn.Name], file)
		// The declaration line itself matches the call pattern; drop the
		// self reference.
		calls := parser.ExtractCalls(fn.Body)
		filtered := calls[:0]
		for _, c := range calls {
			if c != fn.Name {
				filtered = append(filtered, c)
			}
		}
		a.funcCalls[file+":"+fn.Name] = filtered
	}
}

func (a *Analyzer) requireInit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return fmt.Errorf("analyzer not initialized")
	}
	return nil
}

// AnalyzeFileDependencyTree expands the import graph from the given file,
// relative to the analyzer root. Cycles are flagged and not expanded; each
// branch carries its own visited set so siblings expand independently.
func (a *Analyzer) AnalyzeFileDependencyTree(relPath string) (*FileNode, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	abs := filepath.Join(a.root, filepath.FromSlash(relPath))
	if _, ok := a.fileFunctions[abs]; !ok {
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("file not found: %s", relPath)
		}
	}
	return a.fileTree(abs, 1, map[string]bool{abs: true}), nil
}

func (a *Analyzer) fileTree(abs string, depth int, visited map[string]bool) *FileNode {
	node := &FileNode{Name: a.relName(abs)}
	if depth > maxTreeDepth {
		return node
	}
	node.Functions = a.fileFunctions[abs]

	deps := make([]string, 0, len(a.fileDeps[abs]))
	for dep := range a.fileDeps[abs] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	for _, dep := range deps {
		if visited[dep] {
			node.Children = append(node.Children, &FileNode{Name: a.relName(dep), IsCyclic: true})
			continue
		}
		branch := make(map[string]bool, len(visited)+1)
		for k := range visited {
			branch[k] = true
		}
		branch[dep] = true
		node.Children = append(node.Children, a.fileTree(dep, depth+1, branch))
	}
	return node
}

// AnalyzeFunctionDependencyTree expands the call graph from one function.
// Callees resolve in order: same file, imported files, then any file in the
// project declaring that name.
func (a *Analyzer) AnalyzeFunctionDependencyTree(relPath, funcName string) (*FuncNode, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	abs := filepath.Join(a.root, filepath.FromSlash(relPath))
	fn, ok := a.lookupFunction(abs, funcName)
	if !ok {
		return nil, fmt.Errorf("function not found: %s in %s", funcName, relPath)
	}
	key := abs + ":" + funcName
	return a.funcTree(abs, fn, 1, map[string]bool{key: true}), nil
}

func (a *Analyzer) funcTree(abs string, fn FunctionInfo, depth int, visited map[string]bool) *FuncNode {
	node := &FuncNode{Name: fn.Name, File: a.relName(abs), Line: fn.Line}
	if depth > maxTreeDepth {
		return node
	}
	for _, callee := range a.funcCalls[abs+":"+fn.Name] {
		targetFile, target, ok := a.resolveCallee(abs, callee)
		if !ok {
			continue
		}
		key := targetFile + ":" + target.Name
		if visited[key] {
			node.Children = append(node.Children, &FuncNode{
				Name: target.Name, File: a.relName(targetFile), Line: target.Line, IsCyclic: true,
			})
			continue
		}
		branch := make(map[string]bool, len(visited)+1)
		for k := range visited {
			branch[k] = true
		}
		branch[key] = true
		node.Children = append(node.Children, a.funcTree(targetFile, target, depth+1, branch))
	}
	return node
}

func (a *Analyzer) lookupFunction(abs, name string) (FunctionInfo, bool) {
	for _, fn := range a.fileFunctions[abs] {
		if fn.Name == name {
			return fn, true
		}
	}
	return FunctionInfo{}, false
}

func (a *Analyzer) resolveCallee(abs, callee string) (string, FunctionInfo, bool) {
	if fn, ok := a.lookupFunction(abs, callee); ok {
		return abs, fn, true
	}
	imported := make([]string, 0, len(a.fileDeps[abs]))
	for dep := range a.fileDeps[abs] {
		imported = append(imported, dep)
	}
	sort.Strings(imported)
	for _, dep := range imported {
		if fn, ok := a.lookupFunction(dep, callee); ok {
			return dep, fn, true
		}
	}
	declaring := a.funcIndex[callee]
	if len(declaring) == 0 {
		return "", FunctionInfo{}, false
	}
	sorted := append([]string(nil), declaring...)
	sort.Strings(sorted)
	fn, _ := a.lookupFunction(sorted[0], callee)
	return sorted[0], fn, true
}

func (a *Analyzer) relName(abs string) string {
	rel, err := filepath.Rel(a.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

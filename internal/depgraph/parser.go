package depgraph

import "context"

// LanguageParser extracts structure from a single source file by text. One
// parser claims a set of file extensions.
type LanguageParser interface {
	// Extensions lists the claimed extensions including the dot, e.g. ".py".
	Extensions() []string
	// ExtractImports returns the raw import tokens of a source text.
	ExtractImports(src string) []string
	// ExtractFunctions returns the functions declared in a source text.
	ExtractFunctions(src string) []FunctionInfo
	// ExtractCalls returns callee identifiers referenced in a function body.
	ExtractCalls(body string) []string
	// ResolveImport maps an import token to an absolute file path given the
	// importing file and the project root; empty means unresolved.
	ResolveImport(imp, currentFile, root string) string
}

// SemanticAnalyzer builds a whole-project model for the files whose
// extensions it claims. Semantic analyzers take precedence over text parsers.
type SemanticAnalyzer interface {
	Extensions() []string
	AnalyzeProject(ctx context.Context, root string, files []string) (*ProjectModel, error)
}

// defaultParsers registers the text parsers for the supported language mix.
// C# support stays unregistered, mirroring the source.
func defaultParsers() []LanguageParser {
	return []LanguageParser{
		newJavaScriptParser(),
		newPythonParser(),
		newJavaParser(),
		newCParser(),
	}
}

// defaultSemanticAnalyzers registers the languages with whole-project models.
func defaultSemanticAnalyzers() []SemanticAnalyzer {
	return []SemanticAnalyzer{newGoAnalyzer()}
}

package depgraph

// FunctionInfo is one function extracted from a source file.
type FunctionInfo struct {
	Name string `json:"name"`
	Body string `json:"-"`
	Line int    `json:"line"`
}

// FileNode is one node of a file dependency tree.
type FileNode struct {
	Name      string         `json:"name"`
	IsCyclic  bool           `json:"is_cyclic,omitempty"`
	Functions []FunctionInfo `json:"functions,omitempty"`
	Children  []*FileNode    `json:"children,omitempty"`
}

// FuncNode is one node of a function call tree. Keys are "file:function".
type FuncNode struct {
	Name     string      `json:"name"`
	File     string      `json:"file"`
	Line     int         `json:"line"`
	IsCyclic bool        `json:"is_cyclic,omitempty"`
	Children []*FuncNode `json:"children,omitempty"`
}

// TypeModel describes a named type and its methods in a semantic model.
type TypeModel struct {
	Name    string         `json:"name"`
	Methods []FunctionInfo `json:"methods,omitempty"`
}

// FileModel is the per-file slice of a semantic project model.
type FileModel struct {
	Functions []FunctionInfo `json:"functions,omitempty"`
	Types     []TypeModel    `json:"types,omitempty"`
}

// ProjectModel is a whole-project semantic analysis result.
type ProjectModel struct {
	Files        map[string]*FileModel      `json:"files"`
	Dependencies map[string]map[string]bool `json:"dependencies"` // file -> set of files
	// Calls maps "file:function" to the callee tokens seen in its body.
	Calls map[string][]string `json:"calls,omitempty"`
}

package scanner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Node is one entry of the nested directory tree.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	IsDir    bool    `json:"is_dir"`
	Children []*Node `json:"children,omitempty"`
}

// BuildTree nests scanned paths by segment. Nesting is deterministic: the
// input order from Scan is preserved, which is lexical per directory.
func BuildTree(paths []PathInfo, rootName string) *Node {
	root := &Node{Name: rootName, Path: "", IsDir: true}
	index := map[string]*Node{"": root}

	for _, p := range paths {
		segments := strings.Split(p.RelPath, "/")
		parentPath := strings.Join(segments[:len(segments)-1], "/")
		parent, ok := index[parentPath]
		if !ok {
			// Scan emits parents before children; a missing parent means the
			// caller handed us a bare path list, so synthesize the chain.
			parent = materialize(root, index, parentPath)
		}
		node := &Node{Name: segments[len(segments)-1], Path: p.RelPath, IsDir: p.IsDir}
		parent.Children = append(parent.Children, node)
		if p.IsDir {
			index[p.RelPath] = node
		}
	}
	return root
}

func materialize(root *Node, index map[string]*Node, dirPath string) *Node {
	if dirPath == "" {
		return root
	}
	if n, ok := index[dirPath]; ok {
		return n
	}
	parentPath := ""
	name := dirPath
	if i := strings.LastIndexByte(dirPath, '/'); i >= 0 {
		parentPath, name = dirPath[:i], dirPath[i+1:]
	}
	parent := materialize(root, index, parentPath)
	node := &Node{Name: name, Path: dirPath, IsDir: true}
	parent.Children = append(parent.Children, node)
	index[dirPath] = node
	return node
}

// Compact renders one line per entry with depth indentation and short kind
// hints: /D for directories, /F for files.
func Compact(tree *Node) string {
	var b strings.Builder
	var write func(n *Node, depth int)
	write = func(n *Node, depth int) {
		for _, child := range n.Children {
			hint := "/F"
			if child.IsDir {
				hint = "/D"
			}
			fmt.Fprintf(&b, "%s%s%s\n", strings.Repeat(" ", depth*2), child.Name, hint)
			write(child, depth+1)
		}
	}
	write(tree, 0)
	return strings.TrimRight(b.String(), "\n")
}

// PathList renders newline-separated relative paths of every entry.
func PathList(tree *Node) string {
	var paths []string
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, child := range n.Children {
			paths = append(paths, child.Path)
			walk(child)
		}
	}
	walk(tree)
	return strings.Join(paths, "\n")
}

// JSON renders the structured form.
func JSON(tree *Node) (string, error) {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tree: %w", err)
	}
	return string(data), nil
}

// SortTree orders children lexically in place; used when trees are built from
// unordered path lists.
func SortTree(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Name < n.Children[j].Name })
	for _, child := range n.Children {
		SortTree(child)
	}
}

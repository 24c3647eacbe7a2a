package depgraph

import (
	"fmt"
	"strings"
)

// RenderFileTree draws a file dependency tree as indented ASCII, the shape
// the documentation prompts consume.
func RenderFileTree(n *FileNode) string {
	var b strings.Builder
	writeFileNode(&b, n, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeFileNode(b *strings.Builder, n *FileNode, depth int) {
	indent := strings.Repeat("  ", depth)
	suffix := ""
	if n.IsCyclic {
		suffix = " (cyclic)"
	}
	fmt.Fprintf(b, "%s%s%s\n", indent, n.Name, suffix)
	for _, fn := range n.Functions {
		fmt.Fprintf(b, "%s  - %s (line %d)\n", indent, fn.Name, fn.Line)
	}
	for _, child := range n.Children {
		writeFileNode(b, child, depth+1)
	}
}

// RenderFileDot renders a file dependency tree as a Graphviz digraph.
func RenderFileDot(n *FileNode) string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")
	writeDotEdges(&b, n)
	b.WriteString("}")
	return b.String()
}

func writeDotEdges(b *strings.Builder, n *FileNode) {
	if n.IsCyclic {
		fmt.Fprintf(b, "  %q [style=dashed];\n", n.Name)
	}
	for _, child := range n.Children {
		fmt.Fprintf(b, "  %q -> %q;\n", n.Name, child.Name)
		writeDotEdges(b, child)
	}
}

// RenderFuncTree draws a function call tree as indented ASCII.
func RenderFuncTree(n *FuncNode) string {
	var b strings.Builder
	writeFuncNode(&b, n, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeFuncNode(b *strings.Builder, n *FuncNode, depth int) {
	suffix := ""
	if n.IsCyclic {
		suffix = " (cyclic)"
	}
	fmt.Fprintf(b, "%s%s [%s:%d]%s\n", strings.Repeat("  ", depth), n.Name, n.File, n.Line, suffix)
	for _, child := range n.Children {
		writeFuncNode(b, child, depth+1)
	}
}

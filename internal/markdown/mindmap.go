package markdown

import (
	"net/url"
	"strings"
)

// MindMapNode is one node of the navigation skeleton. URL is a
// repository-relative path when the source line carried a `Title:path`
// suffix.
type MindMapNode struct {
	Title    string         `json:"title"`
	URL      string         `json:"url,omitempty"`
	Children []*MindMapNode `json:"children,omitempty"`
}

// ParseMindMap parses the `#`-nested skeleton the mind map prompt emits.
// Lines look like `##Title:path/to/file` or `# Plain Title`; nesting depth is
// the number of leading `#` characters. Non-heading lines are ignored.
func ParseMindMap(text string) *MindMapNode {
	root := &MindMapNode{}
	// stack[d] is the most recent node at depth d.
	stack := map[int]*MindMapNode{0: root}
	maxDepth := 0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		depth := 0
		for depth < len(line) && line[depth] == '#' {
			depth++
		}
		rest := strings.TrimSpace(line[depth:])
		if rest == "" {
			continue
		}

		node := &MindMapNode{Title: rest}
		if i := strings.Index(rest, ":"); i > 0 {
			node.Title = strings.TrimSpace(rest[:i])
			node.URL = strings.TrimSpace(rest[i+1:])
		}

		parent := root
		for d := depth - 1; d >= 0; d-- {
			if p, ok := stack[d]; ok {
				parent = p
				break
			}
		}
		parent.Children = append(parent.Children, node)
		stack[depth] = node
		for d := depth + 1; d <= maxDepth; d++ {
			delete(stack, d)
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return root
}

// webHosts lists the remote hosts whose web UIs use /tree/<branch>/ paths.
var webHosts = map[string]bool{
	"github.com": true,
	"gitee.com":  true,
}

// ResolveURLs rewrites every relative node URL to a browsable web address by
// prepending `<remote>/tree/<branch>/`. Only known hosts are rewritten;
// absolute URLs and unknown hosts pass through.
func ResolveURLs(node *MindMapNode, remote, branch string) {
	if node == nil {
		return
	}
	prefix := webPrefix(remote, branch)
	var walk func(n *MindMapNode)
	walk = func(n *MindMapNode) {
		if n.URL != "" && prefix != "" && !strings.Contains(n.URL, "://") {
			n.URL = prefix + strings.TrimPrefix(n.URL, "/")
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(node)
}

func webPrefix(remote, branch string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(remote), ".git")
	u, err := url.Parse(trimmed)
	if err != nil || !webHosts[u.Host] {
		return ""
	}
	return strings.TrimRight(trimmed, "/") + "/tree/" + branch + "/"
}

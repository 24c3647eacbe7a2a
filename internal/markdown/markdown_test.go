package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	body := []byte(`Intro [guide](docs/guide.md) and ![logo](img/logo.png).

See <https://example.test/page>.

[ref]: internal/worker/worker.go
`)
	links := ExtractLinks(body)

	dests := map[LinkKind][]string{}
	for _, l := range links {
		dests[l.Kind] = append(dests[l.Kind], l.Destination)
	}
	assert.Contains(t, dests[LinkKindInline], "docs/guide.md")
	assert.Contains(t, dests[LinkKindImage], "img/logo.png")
	assert.Contains(t, dests[LinkKindAuto], "https://example.test/page")
	assert.Contains(t, dests[LinkKindReferenceDefinition], "internal/worker/worker.go")
}

func TestCodeSpans(t *testing.T) {
	body := []byte("The entry point is `cmd/opendeepwiki/main.go` and the loop lives in `internal/worker/worker.go`.")
	spans := CodeSpans(body)
	assert.Equal(t, []string{"cmd/opendeepwiki/main.go", "internal/worker/worker.go"}, spans)
}

func TestParseMindMap(t *testing.T) {
	text := `<thinking stripped upstream>
# Project
##Core Engine:internal/engine
###Scheduler:internal/engine/scheduler.go
##Docs
not a heading
##CLI:cmd/tool/main.go`

	root := ParseMindMap(text)
	require.Len(t, root.Children, 1)
	project := root.Children[0]
	assert.Equal(t, "Project", project.Title)
	require.Len(t, project.Children, 3)

	core := project.Children[0]
	assert.Equal(t, "Core Engine", core.Title)
	assert.Equal(t, "internal/engine", core.URL)
	require.Len(t, core.Children, 1)
	assert.Equal(t, "internal/engine/scheduler.go", core.Children[0].URL)

	assert.Equal(t, "Docs", project.Children[1].Title)
	assert.Empty(t, project.Children[1].URL)
	assert.Equal(t, "CLI", project.Children[2].Title)
}

func TestResolveURLs(t *testing.T) {
	node := &MindMapNode{
		Children: []*MindMapNode{
			{Title: "A", URL: "internal/a.go"},
			{Title: "B", URL: "https://already.resolved/x"},
		},
	}
	ResolveURLs(node, "https://github.com/org/repo.git", "main")
	assert.Equal(t, "https://github.com/org/repo/tree/main/internal/a.go", node.Children[0].URL)
	assert.Equal(t, "https://already.resolved/x", node.Children[1].URL)

	// Unknown hosts are left alone.
	node2 := &MindMapNode{Children: []*MindMapNode{{URL: "a.go"}}}
	ResolveURLs(node2, "https://git.corp.internal/org/repo.git", "main")
	assert.Equal(t, "a.go", node2.Children[0].URL)
}

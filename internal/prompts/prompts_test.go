package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

func TestLibraryLoadsRequiredTemplates(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	required := []string{
		"Overview", "RepositoryClassification", "GenerateMindMap",
		"AnalyzeCatalogue", "GenerateDocs", "AnalyzeNewCatalogue",
		"CodeDirSimplifier", "GenerateReadme",
	}
	for _, name := range required {
		assert.True(t, lib.Has(name), "missing template %s", name)
	}
	for _, c := range store.Classifications {
		assert.True(t, lib.Has("AnalyzeCatalogue"+string(c)), "missing variant for %s", c)
	}
}

func TestRenderSubstitutesAndBlanksMissing(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	out, err := lib.Render("RepositoryClassification", map[string]string{
		"category": "src/D",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "src/D")
	assert.NotContains(t, out, "{{$category}}")
	// readme was not supplied; its placeholder renders empty.
	assert.NotContains(t, out, "{{$readme}}")
}

func TestRenderUnknownTemplate(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)
	_, err = lib.Render("NoSuchTemplate", nil)
	assert.Error(t, err)
}

func TestClassifiedNameSelection(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	c := store.ClassifyLibraries
	assert.Equal(t, "AnalyzeCatalogueLibraries", lib.ClassifiedName("AnalyzeCatalogue", &c))
	assert.Equal(t, "AnalyzeCatalogue", lib.ClassifiedName("AnalyzeCatalogue", nil))
	// A base without variants falls back to itself.
	assert.Equal(t, "GenerateDocs", lib.ClassifiedName("GenerateDocs", &c))
}

func TestExtractOrder(t *testing.T) {
	assert.Equal(t, "X", Extract("prefix <blog>X</blog> suffix", "blog"))
	assert.Equal(t, `{"a":1}`, Extract("text ```json\n{\"a\":1}\n``` more", "blog"))
	assert.Equal(t, "just text", Extract("  just text  ", "blog"))
	// Named wrapper wins over a fence.
	assert.Equal(t, "W", Extract("<blog>W</blog> ```json\n{}\n```", "blog"))
}

func TestExtractMultiline(t *testing.T) {
	out := "<documentation_structure>\n{\n  \"items\": []\n}\n</documentation_structure>"
	assert.Equal(t, "{\n  \"items\": []\n}", ExtractDocumentationStructure(out))
}

func TestExtractClassify(t *testing.T) {
	assert.Equal(t, "Libraries", ExtractClassify("<classify>classifyName:Libraries</classify>"))
	assert.Equal(t, "CLITools", ExtractClassify("noise <classify> classifyName : CLITools </classify> tail"))
	assert.Equal(t, "", ExtractClassify("no wrapper here"))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "# Map", StripThinking("<thinking>hmm\nmore</thinking>\n# Map"))
	assert.Equal(t, "<blog>Y</blog>", StripProjectAnalysis("<project_analysis>notes</project_analysis>\n<blog>Y</blog>"))
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/gitrepo"
	"github.com/YickelFuboo/OpenDeepWiki/internal/kernel"
	"github.com/YickelFuboo/OpenDeepWiki/internal/markdown"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// fakeKernel scripts one response per template and records every invocation.
type fakeKernel struct {
	mu        sync.Mutex
	lib       *prompts.Library
	responses map[string]string
	errs      map[string]error
	calls     []fakeCall
	onInvoke  func(template string, dc *kernel.DocumentContext)
}

type fakeCall struct {
	Template string
	Vars     map[string]string
}

func newFakeKernel(t *testing.T) *fakeKernel {
	t.Helper()
	lib, err := prompts.NewLibrary()
	require.NoError(t, err)
	return &fakeKernel{
		lib:       lib,
		responses: map[string]string{},
		errs:      map[string]error{},
	}
}

func (f *fakeKernel) Library() *prompts.Library { return f.lib }

func (f *fakeKernel) InvokePrompt(ctx context.Context, template string, vars map[string]string, dc *kernel.DocumentContext) (string, error) {
	return f.invoke(template, vars, dc)
}

func (f *fakeKernel) InvokeStreaming(ctx context.Context, template string, vars map[string]string, dc *kernel.DocumentContext, onDelta func(string)) (string, error) {
	return f.invoke(template, vars, dc)
}

func (f *fakeKernel) invoke(template string, vars map[string]string, dc *kernel.DocumentContext) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Template: template, Vars: vars})
	hook := f.onInvoke
	resp, ok := f.responses[template]
	err := f.errs[template]
	f.mu.Unlock()

	if hook != nil {
		hook(template, dc)
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("unscripted template %s", template)
	}
	return resp, nil
}

func (f *fakeKernel) countCalls(template string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Template == template {
			n++
		}
	}
	return n
}

type testEnv struct {
	st   *store.Store
	fk   *fakeKernel
	env  *Env
	repo *store.Repository
	doc  *store.Document
}

func newTestEnv(t *testing.T, repoType store.RepositoryType) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	workdir := t.TempDir()
	repo := &store.Repository{
		Address:   "https://github.com/acme/demo.git",
		Branch:    "main",
		Type:      repoType,
		Name:      "demo",
		LocalPath: workdir,
	}
	require.NoError(t, st.CreateRepository(ctx, repo))
	claimed, err := st.Claim(ctx, "worker-test", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	doc, err := st.UpsertDocument(ctx, claimed.ID, workdir, store.StatusProcessing)
	require.NoError(t, err)

	cfg := config.Default()
	fk := newFakeKernel(t)
	return &testEnv{
		st:   st,
		fk:   fk,
		repo: claimed,
		doc:  doc,
		env: &Env{
			Store:   st,
			Config:  &cfg,
			Git:     gitrepo.NewClient(t.TempDir()),
			Kernel:  fk,
			Logger:  slog.New(slog.DiscardHandler),
			Repo:    claimed,
			Doc:     doc,
			Workdir: workdir,
		},
	}
}

func writeWorkdirFile(t *testing.T, workdir, name, content string) {
	t.Helper()
	path := filepath.Join(workdir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReadmeStageDiscoversOnDisk(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	writeWorkdirFile(t, te.env.Workdir, "README.md", "# Demo\nhello")

	require.NoError(t, runReadmeStage(context.Background(), te.env))
	assert.Equal(t, "# Demo\nhello", te.repo.Readme)
	assert.Zero(t, te.fk.countCalls("GenerateReadme"))
}

func TestReadmeStageProbeOrder(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	writeWorkdirFile(t, te.env.Workdir, "README.txt", "from txt")
	writeWorkdirFile(t, te.env.Workdir, "readme.md", "from lowercase md")

	require.NoError(t, runReadmeStage(context.Background(), te.env))
	assert.Equal(t, "from txt", te.repo.Readme)
}

func TestReadmeStageResyncsFromDisk(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	require.NoError(t, te.st.SetReadme(context.Background(), te.repo, "stale"))
	writeWorkdirFile(t, te.env.Workdir, "README.md", "fresh")

	require.NoError(t, runReadmeStage(context.Background(), te.env))
	assert.Equal(t, "fresh", te.repo.Readme)
}

func TestReadmeStageGeneratesWhenMissing(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	writeWorkdirFile(t, te.env.Workdir, "main.go", "package main")
	te.fk.responses["GenerateReadme"] = "<readme>Synthesized overview</readme>"

	require.NoError(t, runReadmeStage(context.Background(), te.env))
	assert.Equal(t, "Synthesized overview", te.repo.Readme)

	got, err := te.st.GetRepository(context.Background(), te.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "Synthesized overview", got.Readme)
}

func TestCatalogueStageSmallTreePassesThrough(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	writeWorkdirFile(t, te.env.Workdir, "main.go", "package main")
	writeWorkdirFile(t, te.env.Workdir, "internal/a.go", "package a")

	require.NoError(t, runCatalogueStage(context.Background(), te.env))
	assert.Contains(t, te.repo.OptimizedDirectoryStructure, "main.go")
	assert.Contains(t, te.repo.OptimizedDirectoryStructure, "a.go")
	assert.Zero(t, te.fk.countCalls("CodeDirSimplifier"))
}

func TestCatalogueStageSkipsWhenCached(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	require.NoError(t, te.st.SetOptimizedStructure(context.Background(), te.repo, "cached manifest"))

	require.NoError(t, runCatalogueStage(context.Background(), te.env))
	assert.Equal(t, "cached manifest", te.repo.OptimizedDirectoryStructure)
	assert.Empty(t, te.fk.calls)
}

func TestCatalogueStageThresholdBoundary(t *testing.T) {
	seed := func(t *testing.T, te *testEnv, n int) {
		for i := 0; i < n; i++ {
			writeWorkdirFile(t, te.env.Workdir, fmt.Sprintf("src/f%04d.go", i), "package src")
		}
	}

	t.Run("below threshold stays raw", func(t *testing.T) {
		te := newTestEnv(t, store.TypeGit)
		seed(t, te, smartFilterThreshold-1)
		require.NoError(t, runCatalogueStage(context.Background(), te.env))
		assert.Zero(t, te.fk.countCalls("CodeDirSimplifier"))
		assert.Contains(t, te.repo.OptimizedDirectoryStructure, "f0000.go")
	})

	t.Run("at threshold invokes smart filter", func(t *testing.T) {
		te := newTestEnv(t, store.TypeGit)
		seed(t, te, smartFilterThreshold)
		te.fk.responses["CodeDirSimplifier"] = "<response_file>pruned tree</response_file>"
		require.NoError(t, runCatalogueStage(context.Background(), te.env))
		assert.Equal(t, 1, te.fk.countCalls("CodeDirSimplifier"))
		assert.Equal(t, "pruned tree", te.repo.OptimizedDirectoryStructure)
	})

	t.Run("disabled filter stays raw", func(t *testing.T) {
		te := newTestEnv(t, store.TypeGit)
		te.env.Config.Document.EnableSmartFilter = false
		seed(t, te, smartFilterThreshold)
		require.NoError(t, runCatalogueStage(context.Background(), te.env))
		assert.Zero(t, te.fk.countCalls("CodeDirSimplifier"))
	})
}

func TestClassifyStage(t *testing.T) {
	t.Run("parses known category", func(t *testing.T) {
		te := newTestEnv(t, store.TypeGit)
		te.fk.responses["RepositoryClassification"] = "<classify>classifyName: Libraries</classify>"
		require.NoError(t, runClassifyStage(context.Background(), te.env))
		require.NotNil(t, te.repo.Classify)
		assert.Equal(t, store.ClassifyLibraries, *te.repo.Classify)
	})

	t.Run("unparseable answer stores null", func(t *testing.T) {
		te := newTestEnv(t, store.TypeGit)
		te.fk.responses["RepositoryClassification"] = "it is probably a compiler"
		require.NoError(t, runClassifyStage(context.Background(), te.env))
		assert.Nil(t, te.repo.Classify)
	})

	t.Run("skips when cached", func(t *testing.T) {
		te := newTestEnv(t, store.TypeGit)
		c := store.ClassifyApplications
		require.NoError(t, te.st.SetClassify(context.Background(), te.repo, &c))
		require.NoError(t, runClassifyStage(context.Background(), te.env))
		assert.Empty(t, te.fk.calls)
	})
}

func TestMindMapStage(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	te.fk.responses["GenerateMindMap"] = "<thinking>scratch</thinking>\n# Demo\n##Engine:internal/engine.go"

	require.NoError(t, runMindMapStage(context.Background(), te.env))

	m, err := te.st.GetMiniMap(context.Background(), te.repo.ID)
	require.NoError(t, err)
	var root markdown.MindMapNode
	require.NoError(t, json.Unmarshal([]byte(m.Value), &root))
	require.Len(t, root.Children, 1)
	assert.Equal(t, "Demo", root.Children[0].Title)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "internal/engine.go", root.Children[0].Children[0].URL)
}

func TestResolveMiniMapRewritesURLs(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	te.fk.responses["GenerateMindMap"] = "# Demo\n##Engine:internal/engine.go"
	require.NoError(t, runMindMapStage(context.Background(), te.env))

	m, err := te.st.GetMiniMap(context.Background(), te.repo.ID)
	require.NoError(t, err)
	root, err := ResolveMiniMap(m, te.repo.Address, te.repo.Branch)
	require.NoError(t, err)
	assert.Equal(t,
		"https://github.com/acme/demo/tree/main/internal/engine.go",
		root.Children[0].Children[0].URL)
}

func TestOverviewStage(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	te.fk.responses["Overview"] = "<project_analysis>notes</project_analysis><blog># Demo\n\nLanding page.</blog>"

	require.NoError(t, runOverviewStage(context.Background(), te.env))

	ov, err := te.st.GetOverview(context.Background(), te.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Demo\n\nLanding page.", ov.Content)
	assert.NotContains(t, ov.Content, "notes")
}

func TestStructureStageBuildsForest(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	te.fk.responses["AnalyzeCatalogue"] = `<documentation_structure>
{"items":[
  {"title":"getting-started","name":"Getting Started","prompt":"Explain setup","children":[
    {"title":"install","name":"Install","prompt":"Explain install"},
    {"title":"install-2","name":"Install","prompt":"Second install page"}
  ]},
  {"title":"api","name":"API","prompt":"Document the API"}
]}
</documentation_structure>`

	require.NoError(t, runStructureStage(context.Background(), te.env))

	all, err := te.st.ListCatalogues(context.Background(), te.repo.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)

	byName := map[string][]store.Catalogue{}
	for _, n := range all {
		byName[n.Name] = append(byName[n.Name], n)
	}
	parent := byName["Getting Started"][0]
	assert.Nil(t, parent.ParentID)
	assert.Equal(t, 0, parent.OrderIndex)
	assert.Equal(t, "getting-started", parent.URL)
	assert.False(t, parent.IsCompleted)

	installs := byName["Install"]
	require.Len(t, installs, 2)
	for _, c := range installs {
		require.NotNil(t, c.ParentID)
		assert.Equal(t, parent.ID, *c.ParentID)
	}
	slugs := map[string]bool{installs[0].URL: true, installs[1].URL: true}
	assert.Len(t, slugs, 2)
	assert.True(t, slugs["install"])
	assert.True(t, slugs["install-2"])

	api := byName["API"][0]
	assert.Equal(t, 1, api.OrderIndex)
}

func TestStructureStageRejectsBadJSON(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	te.fk.responses["AnalyzeCatalogue"] = "<documentation_structure>not json</documentation_structure>"

	err := runStructureStage(context.Background(), te.env)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLLMOutput)
}

func TestStructureStageUsesClassifiedVariant(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	c := store.ClassifyLibraries
	require.NoError(t, te.st.SetClassify(context.Background(), te.repo, &c))
	te.fk.responses["AnalyzeCatalogueLibraries"] = `<documentation_structure>{"items":[{"title":"api","name":"API","prompt":"p"}]}</documentation_structure>`

	require.NoError(t, runStructureStage(context.Background(), te.env))
	assert.Equal(t, 1, te.fk.countCalls("AnalyzeCatalogueLibraries"))
	assert.Zero(t, te.fk.countCalls("AnalyzeCatalogue"))
}

func TestDocsStageGeneratesIncompleteLeaves(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	ctx := context.Background()
	writeWorkdirFile(t, te.env.Workdir, "main.go", "package main")

	parentID := "p1"
	forest := []store.Catalogue{
		{ID: parentID, RepositoryID: te.repo.ID, Title: "guide", Name: "Guide", URL: "guide"},
		{ID: "l1", RepositoryID: te.repo.ID, ParentID: &parentID, Title: "setup", Name: "Setup", URL: "setup", Prompt: "Explain setup"},
		{ID: "l2", RepositoryID: te.repo.ID, ParentID: &parentID, Title: "usage", Name: "Usage", URL: "usage", Prompt: "Explain usage", IsCompleted: true},
	}
	require.NoError(t, te.st.ReplaceCatalogueForest(ctx, te.repo.ID, forest))

	te.fk.responses["GenerateDocs"] = "<blog>Setup starts in `main.go` and `missing.go`.</blog>"
	te.fk.onInvoke = func(template string, dc *kernel.DocumentContext) {
		if template == "GenerateDocs" {
			dc.RecordFile("internal/read-by-tool.go")
		}
	}

	require.NoError(t, runDocsStage(ctx, te.env))

	// Only the incomplete leaf was generated; the parent and the completed
	// leaf were left alone.
	assert.Equal(t, 1, te.fk.countCalls("GenerateDocs"))

	item, err := te.st.GetFileItem(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Setup", item.Title)
	assert.Contains(t, item.Content, "Setup starts")
	assert.Contains(t, item.Sources, "internal/read-by-tool.go")
	assert.Contains(t, item.Sources, "main.go")
	assert.NotContains(t, item.Sources, "missing.go")

	leaf, err := te.st.GetCatalogue(ctx, "l1")
	require.NoError(t, err)
	assert.True(t, leaf.IsCompleted)
}

func TestChangelogStageSkipsPlainDirectories(t *testing.T) {
	te := newTestEnv(t, store.TypeFile)
	require.NoError(t, runChangelogStage(context.Background(), te.env))

	records, err := te.st.ListCommitRecords(context.Background(), te.repo.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestChangelogStageSnapshotsHistory(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	ctx := context.Background()

	repo, err := git.PlainInit(te.env.Workdir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commit := func(file, msg string, when time.Time) {
		writeWorkdirFile(t, te.env.Workdir, file, msg)
		_, err := wt.Add(file)
		require.NoError(t, err)
		_, err = wt.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{Name: "dev", Email: "dev@example.test", When: when},
		})
		require.NoError(t, err)
	}
	base := time.Now().Add(-time.Hour)
	commit("a.txt", "add scanner\n\ninitial tree walker", base)
	commit("b.txt", "add retries", base.Add(time.Minute))

	require.NoError(t, runChangelogStage(ctx, te.env))

	records, err := te.st.ListCommitRecords(ctx, te.repo.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "add scanner", records[0].Title)
	assert.Equal(t, "initial tree walker", records[0].Description)
	assert.Equal(t, "add retries", records[1].Title)
}

func TestPipelineRunIsResumable(t *testing.T) {
	te := newTestEnv(t, store.TypeFile)
	ctx := context.Background()
	writeWorkdirFile(t, te.env.Workdir, "main.go", "package main")

	te.fk.responses["GenerateReadme"] = "<readme>Demo readme</readme>"
	te.fk.responses["RepositoryClassification"] = "<classify>classifyName: Applications</classify>"
	te.fk.responses["GenerateMindMap"] = "# Demo\n##Main:main.go"
	te.fk.responses["OverviewApplications"] = "<blog>Overview body</blog>"
	te.fk.responses["Overview"] = "<blog>Overview body</blog>"
	te.fk.responses["AnalyzeCatalogueApplications"] = `<documentation_structure>{"items":[{"title":"core","name":"Core","prompt":"Document the core"}]}</documentation_structure>`
	te.fk.responses["GenerateDocs"] = "<blog>Core doc</blog>"

	cfg := config.Default()
	p := New(te.st, &cfg, te.env.Git, slog.New(slog.DiscardHandler))

	require.NoError(t, p.Run(ctx, te.repo, te.doc, te.fk))

	assert.Equal(t, 1, te.fk.countCalls("GenerateReadme"))
	assert.Equal(t, 1, te.fk.countCalls("RepositoryClassification"))
	assert.Equal(t, 1, te.fk.countCalls("GenerateDocs"))

	// A second run skips the cached stages, keeps the existing plan and its
	// finished documents, and regenerates only the volatile artifacts.
	require.NoError(t, p.Run(ctx, te.repo, te.doc, te.fk))

	assert.Equal(t, 1, te.fk.countCalls("GenerateReadme"))
	assert.Equal(t, 1, te.fk.countCalls("RepositoryClassification"))
	assert.Equal(t, 1, te.fk.countCalls("AnalyzeCatalogueApplications"))
	assert.Equal(t, 1, te.fk.countCalls("GenerateDocs"))
	assert.Equal(t, 2, te.fk.countCalls("GenerateMindMap"))

	ov, err := te.st.GetOverview(ctx, te.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Overview body", ov.Content)
}

func TestRunResumesPartialDocumentProgress(t *testing.T) {
	te := newTestEnv(t, store.TypeFile)
	ctx := context.Background()
	writeWorkdirFile(t, te.env.Workdir, "main.go", "package main")

	require.NoError(t, te.st.SetReadme(ctx, te.repo, "cached readme"))
	require.NoError(t, te.st.SetOptimizedStructure(ctx, te.repo, "demo/\n  main.go"))
	c := store.ClassifyApplications
	require.NoError(t, te.st.SetClassify(ctx, te.repo, &c))

	// An interrupted run left a five-leaf plan with three pages finished.
	var forest []store.Catalogue
	for i := 0; i < 5; i++ {
		forest = append(forest, store.Catalogue{
			ID:           fmt.Sprintf("leaf-%d", i),
			RepositoryID: te.repo.ID,
			Title:        fmt.Sprintf("part-%d", i),
			Name:         fmt.Sprintf("Part %d", i),
			URL:          fmt.Sprintf("part-%d", i),
			Prompt:       "Document this part",
			OrderIndex:   i,
			IsCompleted:  i < 3,
		})
	}
	require.NoError(t, te.st.ReplaceCatalogueForest(ctx, te.repo.ID, forest))
	for i := 0; i < 3; i++ {
		require.NoError(t, te.st.UpsertFileItem(ctx, &store.FileItem{
			ID:          fmt.Sprintf("item-%d", i),
			CatalogueID: fmt.Sprintf("leaf-%d", i),
			Title:       fmt.Sprintf("Part %d", i),
			Content:     fmt.Sprintf("finished body %d", i),
		}))
	}

	te.fk.responses["GenerateMindMap"] = "# Demo\n##Main:main.go"
	te.fk.responses["Overview"] = "<blog>Overview body</blog>"
	te.fk.responses["GenerateDocs"] = "<blog>Resumed body</blog>"

	cfg := config.Default()
	p := New(te.st, &cfg, te.env.Git, slog.New(slog.DiscardHandler))
	require.NoError(t, p.Run(ctx, te.repo, te.doc, te.fk))

	// Only the two unfinished leaves cost a model call; the plan itself was
	// not regenerated.
	assert.Equal(t, 2, te.fk.countCalls("GenerateDocs"))
	assert.Zero(t, te.fk.countCalls("AnalyzeCatalogue"))
	assert.Zero(t, te.fk.countCalls("AnalyzeCatalogueApplications"))

	// Finished pages survived the rerun untouched.
	for i := 0; i < 3; i++ {
		item, err := te.st.GetFileItem(ctx, fmt.Sprintf("leaf-%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("finished body %d", i), item.Content)
	}

	all, err := te.st.ListCatalogues(ctx, te.repo.ID)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for _, n := range all {
		assert.True(t, n.IsCompleted, n.Name)
	}
}

func TestStructureStageSkipsWhenForestExists(t *testing.T) {
	te := newTestEnv(t, store.TypeGit)
	ctx := context.Background()
	require.NoError(t, te.st.ReplaceCatalogueForest(ctx, te.repo.ID, []store.Catalogue{{
		ID: "kept", RepositoryID: te.repo.ID, Title: "kept", Name: "Kept", URL: "kept",
	}}))

	require.NoError(t, runStructureStage(ctx, te.env))
	assert.Empty(t, te.fk.calls)

	all, err := te.st.ListCatalogues(ctx, te.repo.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].ID)
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Getting Started", "getting-started"},
		{"API / Reference", "api-reference"},
		{"  Café Über  ", "cafe-uber"},
		{"___", "section"},
		{"v2.0 Release", "v2-0-release"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), tc.in)
	}

	taken := map[string]bool{}
	assert.Equal(t, "core", UniqueSlug("core", taken))
	assert.Equal(t, "core-2", UniqueSlug("core", taken))
	assert.Equal(t, "core-3", UniqueSlug("core", taken))
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/gitrepo"
	"github.com/YickelFuboo/OpenDeepWiki/internal/kernel"
	"github.com/YickelFuboo/OpenDeepWiki/internal/pipeline"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// fakeInvoker scripts one response per template.
type fakeInvoker struct {
	mu        sync.Mutex
	lib       *prompts.Library
	responses map[string]string
	calls     []string
}

func newFakeInvoker(t *testing.T) *fakeInvoker {
	t.Helper()
	lib, err := prompts.NewLibrary()
	require.NoError(t, err)
	return &fakeInvoker{lib: lib, responses: map[string]string{}}
}

func (f *fakeInvoker) Library() *prompts.Library { return f.lib }

func (f *fakeInvoker) InvokePrompt(ctx context.Context, template string, vars map[string]string, dc *kernel.DocumentContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, template)
	resp, ok := f.responses[template]
	if !ok {
		return "", fmt.Errorf("unscripted template %s", template)
	}
	return resp, nil
}

func (f *fakeInvoker) InvokeStreaming(ctx context.Context, template string, vars map[string]string, dc *kernel.DocumentContext, onDelta func(string)) (string, error) {
	return f.InvokePrompt(ctx, template, vars, dc)
}

func (f *fakeInvoker) countCalls(template string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == template {
			n++
		}
	}
	return n
}

// scriptFullRun fills in every template a complete pipeline run needs.
func scriptFullRun(f *fakeInvoker) {
	f.responses["GenerateReadme"] = "<readme>Generated readme</readme>"
	f.responses["RepositoryClassification"] = "<classify>classifyName: Applications</classify>"
	f.responses["GenerateMindMap"] = "# Demo\n##Main:main.go"
	f.responses["Overview"] = "<blog>Overview body</blog>"
	f.responses["AnalyzeCatalogueApplications"] = `<documentation_structure>{"items":[{"title":"core","name":"Core","prompt":"Document the core"}]}</documentation_structure>`
	f.responses["AnalyzeCatalogue"] = f.responses["AnalyzeCatalogueApplications"]
	f.responses["GenerateDocs"] = "<blog>Core documentation</blog>"
}

func newTestWorker(t *testing.T) (*Worker, *store.Store, *fakeInvoker) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Document.EnableWarehouseCommit = false
	logger := slog.New(slog.DiscardHandler)
	w := New(st, &cfg, gitrepo.NewClient(t.TempDir()), logger)
	w.errorSleep = time.Millisecond
	w.poll = time.Millisecond

	fk := newFakeInvoker(t)
	w.newKernel = func(workdir string) (pipeline.Invoker, error) { return fk, nil }
	return w, st, fk
}

func seedDirectory(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	return dir
}

func TestProcessOneDirectoryRepository(t *testing.T) {
	w, st, fk := newTestWorker(t)
	ctx := context.Background()
	scriptFullRun(fk)

	dir := seedDirectory(t)
	repo := &store.Repository{Address: dir, Type: store.TypeFile}
	require.NoError(t, st.CreateRepository(ctx, repo))

	claimed, err := st.Claim(ctx, w.ID(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w.ProcessOne(ctx, claimed)

	got, err := st.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, dir, got.LocalPath)
	assert.NotEmpty(t, got.Readme)
	assert.NotEmpty(t, got.OptimizedDirectoryStructure)

	doc, err := st.GetDocument(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, doc.Status)

	// The generated page landed under the catalogue node.
	all, err := st.ListCatalogues(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsCompleted)
	item, err := st.GetFileItem(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Core documentation", item.Content)
}

func TestProcessOneUnsupportedType(t *testing.T) {
	w, st, _ := newTestWorker(t)
	ctx := context.Background()

	repo := &store.Repository{Address: "svn://example.test/repo", Type: store.RepositoryType("svn")}
	require.NoError(t, st.CreateRepository(ctx, repo))

	claimed, err := st.Claim(ctx, w.ID(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w.ProcessOne(ctx, claimed)

	got, err := st.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "unsupported repository type")
}

func TestProcessOneMissingDirectoryFails(t *testing.T) {
	w, st, _ := newTestWorker(t)
	ctx := context.Background()

	repo := &store.Repository{Address: "/nonexistent/path", Type: store.TypeFile}
	require.NoError(t, st.CreateRepository(ctx, repo))

	claimed, err := st.Claim(ctx, w.ID(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w.ProcessOne(ctx, claimed)

	got, err := st.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "not accessible")
}

func TestClaimIsExclusive(t *testing.T) {
	_, st, _ := newTestWorker(t)
	ctx := context.Background()

	repo := &store.Repository{Address: "https://github.com/acme/demo.git", Type: store.TypeGit}
	require.NoError(t, st.CreateRepository(ctx, repo))

	first, err := st.Claim(ctx, "worker-a", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := st.Claim(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	// The same owner may re-claim its own row.
	again, err := st.Claim(ctx, "worker-a", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	_, st, _ := newTestWorker(t)
	ctx := context.Background()

	repo := &store.Repository{Address: "https://github.com/acme/demo.git", Type: store.TypeGit}
	require.NoError(t, st.CreateRepository(ctx, repo))

	first, err := st.Claim(ctx, "worker-a", -time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := st.Claim(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
}

func TestLeaseLostAbandonsWithoutWrites(t *testing.T) {
	w, st, fk := newTestWorker(t)
	ctx := context.Background()
	scriptFullRun(fk)

	dir := seedDirectory(t)
	repo := &store.Repository{Address: dir, Type: store.TypeFile}
	require.NoError(t, st.CreateRepository(ctx, repo))

	claimed, err := st.Claim(ctx, w.ID(), -time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// A rival takes the expired lease before processing starts.
	stolen, err := st.LeaseRepository(ctx, repo.ID, "rival", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, stolen)

	w.ProcessOne(ctx, claimed)

	got, err := st.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Equal(t, "rival", got.LeaseOwner)
}

func TestRunStopsOnCancel(t *testing.T) {
	w, _, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

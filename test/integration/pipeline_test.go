// Package integration exercises the full pipeline: vault, index manager,
// keyword index, snapshot persistence, and the query service together.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kurosawa/tansaku/internal/config"
	"github.com/kurosawa/tansaku/internal/embedding"
	"github.com/kurosawa/tansaku/internal/index"
	"github.com/kurosawa/tansaku/internal/keyword"
	"github.com/kurosawa/tansaku/internal/models"
	"github.com/kurosawa/tansaku/internal/search"
	"github.com/kurosawa/tansaku/internal/vault"
	"github.com/kurosawa/tansaku/internal/vectorstore"
)

type stack struct {
	dir       string
	vault     *vault.FS
	embedder  embedding.Embedder
	keywords  *keyword.BleveIndex
	persister vectorstore.Persister
	manager   *index.Manager
	engine    *search.Engine
}

func newStack(t *testing.T, vaultDir, stateDir string) *stack {
	t.Helper()
	source, err := vault.NewFS(&config.VaultConfig{
		Directories: []string{vaultDir},
		Extensions:  []string{".txt", ".md"},
	})
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(8)
	keywords, err := keyword.NewBleveIndex(filepath.Join(stateDir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { keywords.Close() })
	persister, err := vectorstore.NewPersister("sqlite", filepath.Join(stateDir, "snapshot.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { persister.Close() })
	manager, err := index.NewManager(source, embedder, &config.IndexConfig{
		ChunkSize:    6,
		ChunkOverlap: 1,
	},
		index.WithKeywordIndex(keywords),
		index.WithPersister(persister),
	)
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(manager, keywords, manager.Store(), &config.SearchConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		HybridEnabled:  true,
		KeywordWeight:  0.4,
		SemanticWeight: 0.6,
		TopKCandidates: 50,
	})
	return &stack{
		dir:       vaultDir,
		vault:     source,
		embedder:  embedder,
		keywords:  keywords,
		persister: persister,
		manager:   manager,
		engine:    engine,
	}
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipeline_BuildSearchUpdateRemove(t *testing.T) {
	vaultDir := t.TempDir()
	stateDir := t.TempDir()
	mlPath := writeDoc(t, vaultDir, "ml.md", "gradient descent converges faster with momentum on convex losses")
	writeDoc(t, vaultDir, "bread.txt", "sourdough needs a mature starter and a long cold proof")

	s := newStack(t, vaultDir, stateDir)
	ctx := context.Background()

	result, err := s.manager.Build(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.DocumentCount != 2 {
		t.Fatalf("document count = %d", result.DocumentCount)
	}
	if s.manager.State() != index.StateReady {
		t.Fatalf("state = %s", s.manager.State())
	}

	resp, err := s.engine.Search(ctx, &models.SearchQuery{Query: "gradient descent momentum", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("semantic search returned nothing")
	}

	hybrid, err := s.engine.Search(ctx, &models.SearchQuery{Query: "momentum", Limit: 5, Hybrid: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(hybrid.Results) == 0 {
		t.Fatal("hybrid search returned nothing")
	}
	var mlHit *models.SearchResult
	for _, r := range hybrid.Results {
		if r.DocumentID == vault.DocumentID(mlPath) {
			mlHit = r
		}
	}
	if mlHit == nil {
		t.Fatal("document containing the query term missing from hybrid results")
	}
	if mlHit.KeywordScore == 0 {
		t.Error("keyword component missing from hybrid score")
	}

	// Edit the document and refresh just that one.
	writeDoc(t, vaultDir, "ml.md", "bayesian optimization tunes hyperparameters sample efficiently")
	docID := vault.DocumentID(mlPath)
	if err := s.manager.UpdateDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}
	fp, ok := s.manager.Store().DocumentFingerprint(docID)
	if !ok {
		t.Fatal("document missing after update")
	}
	if fp != vault.Fingerprint("bayesian optimization tunes hyperparameters sample efficiently") {
		t.Error("fingerprint not updated")
	}

	// The keyword side should now find the new content, not the old.
	kwHits, err := s.keywords.Search(ctx, "bayesian", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(kwHits) == 0 {
		t.Error("updated content not in keyword index")
	}
	kwOld, err := s.keywords.Search(ctx, "momentum", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, hit := range kwOld {
		if hit.DocumentID == docID {
			t.Error("stale chunks survived the update")
		}
	}

	if err := s.manager.RemoveDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.manager.Store().DocumentFingerprint(docID); ok {
		t.Error("document still present after remove")
	}
}

func TestPipeline_SnapshotSurvivesRestart(t *testing.T) {
	vaultDir := t.TempDir()
	stateDir := t.TempDir()
	writeDoc(t, vaultDir, "notes.txt", "the index should come back after a process restart")

	first := newStack(t, vaultDir, stateDir)
	ctx := context.Background()
	if _, err := first.manager.Build(ctx, false); err != nil {
		t.Fatal(err)
	}
	wantChunks := first.manager.Store().Len()
	first.keywords.Close()
	first.persister.Close()

	second := newStack(t, vaultDir, filepath.Join(stateDir, "second"))
	// Reuse the first run's snapshot but a fresh bleve dir; the keyword
	// side is rebuilt from restored records.
	persister, err := vectorstore.NewPersister("sqlite", filepath.Join(stateDir, "snapshot.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer persister.Close()
	manager, err := index.NewManager(second.vault, second.embedder, &config.IndexConfig{
		ChunkSize:    6,
		ChunkOverlap: 1,
	},
		index.WithKeywordIndex(second.keywords),
		index.WithPersister(persister),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.LoadSnapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if manager.State() != index.StateReady {
		t.Fatalf("state after restore = %s", manager.State())
	}
	if manager.Store().Len() != wantChunks {
		t.Errorf("restored %d chunks, want %d", manager.Store().Len(), wantChunks)
	}

	hits, err := manager.Search(ctx, "process restart", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("restored index answers no queries")
	}
}

func TestPipeline_SnapshotDropsDeletedFiles(t *testing.T) {
	vaultDir := t.TempDir()
	stateDir := t.TempDir()
	keepPath := writeDoc(t, vaultDir, "keep.txt", "this file stays in the vault")
	dropPath := writeDoc(t, vaultDir, "drop.txt", "this file is deleted while the server is down")

	first := newStack(t, vaultDir, stateDir)
	ctx := context.Background()
	if _, err := first.manager.Build(ctx, false); err != nil {
		t.Fatal(err)
	}
	first.keywords.Close()
	first.persister.Close()

	if err := os.Remove(dropPath); err != nil {
		t.Fatal(err)
	}

	second := newStack(t, vaultDir, filepath.Join(stateDir, "second"))
	persister, err := vectorstore.NewPersister("sqlite", filepath.Join(stateDir, "snapshot.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer persister.Close()
	manager, err := index.NewManager(second.vault, second.embedder, &config.IndexConfig{
		ChunkSize:    6,
		ChunkOverlap: 1,
	},
		index.WithKeywordIndex(second.keywords),
		index.WithPersister(persister),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.LoadSnapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := manager.Store().DocumentFingerprint(vault.DocumentID(dropPath)); ok {
		t.Error("deleted file survived snapshot reconciliation")
	}
	if _, ok := manager.Store().DocumentFingerprint(vault.DocumentID(keepPath)); !ok {
		t.Error("kept file missing after snapshot reconciliation")
	}
}

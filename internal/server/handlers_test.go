package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kurosawa/tansaku/internal/config"
	"github.com/kurosawa/tansaku/internal/embedding"
	"github.com/kurosawa/tansaku/internal/index"
	"github.com/kurosawa/tansaku/internal/models"
	"github.com/kurosawa/tansaku/internal/search"
	"github.com/kurosawa/tansaku/internal/vault"
)

func newTestServer(t *testing.T, docs map[string]string) (*Server, *index.Manager) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	source, err := vault.NewFS(&config.VaultConfig{
		Directories: []string{dir},
		Extensions:  []string{".txt", ".md"},
	})
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(8)
	manager, err := index.NewManager(source, embedder, &config.IndexConfig{
		ChunkSize:    8,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(manager, nil, manager.Store(), &config.SearchConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		SemanticWeight: 1,
	})
	srv := NewServer(engine, manager, &config.ServerConfig{Port: 8080}, zap.NewNop())
	return srv, manager
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
		r.ContentLength = int64(buf.Len())
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleBuildAndSearch(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{
		"a.txt": "the quick brown fox jumps over the lazy dog",
		"b.txt": "a recipe for sourdough bread with rye flour",
	})
	router := srv.Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/index/build", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("build status = %d: %s", w.Code, w.Body.String())
	}
	var build models.BuildResult
	if err := json.NewDecoder(w.Body).Decode(&build); err != nil {
		t.Fatal(err)
	}
	if build.DocumentCount != 2 || build.BuildID == "" {
		t.Errorf("build result = %+v", build)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "quick fox"})
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 {
		t.Error("expected search results after build")
	}
	if resp.Query != "quick fox" {
		t.Errorf("query echo = %q", resp.Query)
	}
}

func TestHandleSearch_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/search", models.SearchQuery{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", w.Code)
	}
}

func TestHandleRefreshAndDelete(t *testing.T) {
	srv, manager := newTestServer(t, map[string]string{
		"note.txt": "contents worth indexing today",
	})
	router := srv.Router()

	if _, err := manager.Build(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	ids := manager.Store().DocumentIDs()
	if len(ids) != 1 {
		t.Fatalf("doc ids = %v", ids)
	}
	id := ids[0]

	w := doJSON(t, router, http.MethodPost, "/api/v1/documents/refresh", documentRequest{ID: id})
	if w.Code != http.StatusOK {
		t.Errorf("refresh status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/documents", documentRequest{ID: id})
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if manager.Store().Len() != 0 {
		t.Error("document still indexed after delete")
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/documents", documentRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	srv, manager := newTestServer(t, map[string]string{
		"note.txt": "a few words to index",
	})
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats models.IndexStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.State != index.StateEmpty {
		t.Errorf("state = %s, want empty before build", stats.State)
	}

	if _, err := manager.Build(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.State != index.StateReady || stats.DocumentCount != 1 {
		t.Errorf("stats after build = %+v", stats)
	}
}

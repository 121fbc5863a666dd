package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/config"
)

// fakeEmbeddings answers /embeddings with one 3-dim vector per input.
func fakeEmbeddings(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{1, float32(len(text) % 7), 0.5},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 5 * len(req.Input), "total_tokens": 5 * len(req.Input)},
		})
	}))
}

func memoryConfig(baseURL string) config.Config {
	cfg := config.Config{
		HTTP:     config.HTTPConfig{Port: 8080},
		Database: config.DatabaseConfig{Driver: "memory"},
		LLM: config.LLMConfig{
			APIKey:              "test-key",
			BaseURL:             baseURL,
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: 3,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func writeBooks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.json")
	body := `[
		{"title": "1984", "summary": "A man rebels against a surveillance state.", "themes": ["Dystopia", "surveillance"]},
		{"title": "The Hobbit", "summary": "A hobbit joins a quest for dragon gold.", "themes": ["adventure"], "author": "J.R.R. Tolkien"},
		{"title": "the hobbit", "summary": "Duplicate entry.", "themes": []},
		{"title": "", "summary": "No title.", "themes": []}
	]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpen_MemoryDriver(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddings(t, &calls)
	defer srv.Close()

	infra, err := Open(context.Background(), memoryConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer infra.Close()

	if infra.DBPinger() != nil {
		t.Error("memory driver must not expose a pinger")
	}
	if infra.Budget != nil || infra.BudgetChecker() != nil {
		t.Error("budget built without limits")
	}
	if infra.EmbeddingChecker() == nil {
		t.Error("embedding checker missing")
	}
	// Пустой каталог сразу после старта не ошибка модели
	if err := infra.Catalog.CheckModel(context.Background()); err != nil {
		t.Errorf("CheckModel: %v", err)
	}
	infra.Close()
	infra.Close()
}

func TestIngestFile_SeedsMemoryCatalog(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddings(t, &calls)
	defer srv.Close()

	ctx := context.Background()
	infra, err := Open(ctx, memoryConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer infra.Close()

	rep, err := infra.IngestFile(ctx, writeBooks(t), infra.IngestConfig(false, false))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if rep.Read != 4 || rep.Skipped != 1 || rep.Duplicates != 1 || rep.Ingested != 2 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Tokens != 10 {
		t.Errorf("tokens = %d, want 10", rep.Tokens)
	}
	if calls.Load() != 1 {
		t.Errorf("embedding calls = %d, want 1 batch", calls.Load())
	}

	n, err := infra.Catalog.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	titles, err := infra.Catalog.Titles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(titles) != 2 || titles[0] != "1984" || titles[1] != "The Hobbit" {
		t.Errorf("titles = %v", titles)
	}
}

func TestIngestFile_DryRunWritesNothing(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddings(t, &calls)
	defer srv.Close()

	ctx := context.Background()
	infra, err := Open(ctx, memoryConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer infra.Close()

	rep, err := infra.IngestFile(ctx, writeBooks(t), infra.IngestConfig(true, false))
	if err != nil {
		t.Fatal(err)
	}
	if !rep.DryRun || calls.Load() != 0 {
		t.Errorf("dry run: report %+v, calls %d", rep, calls.Load())
	}
	if _, err := infra.Catalog.Count(ctx); err == nil {
		t.Error("dry run activated a generation")
	}
}

func TestIngestFile_MissingFile(t *testing.T) {
	infra, err := Open(context.Background(), memoryConfig("http://127.0.0.1:1"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := infra.IngestFile(context.Background(), filepath.Join(t.TempDir(), "nope.json"), infra.IngestConfig(false, false)); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIngestConfig_KeepOld(t *testing.T) {
	cfg := memoryConfig("")
	cfg.Ingest.KeepOld = true
	infra := &Infra{cfg: cfg}
	if !infra.IngestConfig(false, false).KeepOld {
		t.Error("config keep_old ignored")
	}
	infra.cfg.Ingest.KeepOld = false
	if !infra.IngestConfig(false, true).KeepOld {
		t.Error("flag keep-old ignored")
	}
	if got := infra.IngestConfig(true, false); got.BatchSize != 128 || got.Source != "summary" || !got.DryRun {
		t.Errorf("IngestConfig = %+v", got)
	}
}

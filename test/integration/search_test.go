// Package integration exercises ingestion and search together against a real sqlite database.
package integration

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/blob"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/ingest"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/storage"
	"github.com/hyperjump/kagami/internal/vector"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIntegration_IngestThenSearch(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "images")
	files := map[string][]byte{
		"e1/a.png": solidPNG(t, color.RGBA{R: 255, A: 255}),
		"e2/b.png": solidPNG(t, color.RGBA{B: 255, A: 255}),
	}
	for key, data := range files {
		path := filepath.Join(root, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := &config.Config{
		Database:  config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "db.sqlite")},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 64},
	}
	config.ApplyDefaults(cfg)

	ctx := context.Background()
	store, err := storage.NewSQLStore(ctx, cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for _, id := range []string{"e1", "e2"} {
		if err := store.CreateEntity(ctx, &models.Entity{ID: id, Name: "Entity " + id, ImageURL: "https://old.test/" + id}); err != nil {
			t.Fatal(err)
		}
	}

	extractor := embedding.NewMockExtractor(cfg.Embedding.Dimensions, "")
	defer extractor.Close()
	resolver := blob.NewResolver(blob.NewLocalStore(root, 0), blob.NewHTTPFetcher(time.Second, blob.WithRetries(0)),
		blob.WithPublicBaseURL("https://cdn.test"))
	pipeline := ingest.NewPipeline(store, resolver, extractor)

	resA, err := pipeline.IngestOne(ctx, &models.IngestRequest{Source: "e1/a.png", ParentID: "e1", UpdateParentReference: true})
	if err != nil {
		t.Fatalf("ingest A: %v", err)
	}
	if _, err := pipeline.IngestOne(ctx, &models.IngestRequest{Source: "e2/b.png", ParentID: "e2"}); err != nil {
		t.Fatalf("ingest B: %v", err)
	}

	ranker, err := vector.NewRanker(vector.RankerType(cfg.Search.Ranker))
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(store, extractor, resolver, search.WithRanker(ranker))

	vA, err := extractor.ExtractImage(ctx, files["e1/a.png"])
	if err != nil {
		t.Fatal(err)
	}
	results, err := engine.Search(ctx, vA, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Entity.ID != "e1" || results[0].EmbeddingID != resA.EmbeddingID {
		t.Errorf("top = %+v, want e1/%s", results[0], resA.EmbeddingID)
	}
	if math.Abs(results[0].Similarity-1) > 1e-5 {
		t.Errorf("similarity = %f, want 1", results[0].Similarity)
	}

	e1, err := store.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if e1.ImageURL != "https://cdn.test/e1/a.png" {
		t.Errorf("e1 image_url = %q", e1.ImageURL)
	}
	e2, err := store.GetEntity(ctx, "e2")
	if err != nil {
		t.Fatal(err)
	}
	if e2.ImageURL != "https://old.test/e2" {
		t.Errorf("e2 image_url changed to %q", e2.ImageURL)
	}

	// Deleting the parent cascades to its records.
	if err := store.DeleteEntity(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	results, err = engine.Search(ctx, vA, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Entity.ID != "e2" {
		t.Errorf("after cascade delete results = %+v", results)
	}
}

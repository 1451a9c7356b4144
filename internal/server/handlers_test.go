package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/blob"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/ingest"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/storage"
)

type testEnv struct {
	handler http.Handler
	store   *storage.MemoryStore
	index   *keyword.BleveIndex
	root    string
	images  *httptest.Server
}

func pngBytes(t *testing.T, c color.Color) []byte {
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

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Embedding: config.EmbeddingConfig{Provider: "mock", ModelName: "clip-test", Dimensions: 8},
		Blob:      config.BlobConfig{Backend: "local", LocalRoot: t.TempDir()},
		Database:  config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"},
		Server:    config.ServerConfig{MaxBodyBytes: 1 << 16},
	}
	config.ApplyDefaults(cfg)

	root := cfg.Blob.LocalRoot
	if err := os.MkdirAll(filepath.Join(root, "tanks"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "tanks", "leopard.png"), pngBytes(t, color.RGBA{R: 90, A: 255}), 0644); err != nil {
		t.Fatal(err)
	}

	imgs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jet.png":
			_, _ = w.Write(pngBytes(t, color.RGBA{G: 200, A: 255}))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(imgs.Close)

	store := storage.NewMemoryStore()
	for _, id := range []string{"e1", "e2"} {
		if err := store.CreateEntity(context.Background(), &models.Entity{ID: id, Name: "Entity " + id}); err != nil {
			t.Fatal(err)
		}
	}
	ext := embedding.NewMockExtractor(cfg.Embedding.Dimensions, cfg.Embedding.ModelName)
	resolver := blob.NewResolver(
		blob.NewLocalStore(root, cfg.Blob.MaxFetchBytes),
		blob.NewHTTPFetcher(2*time.Second, blob.WithRetries(0)),
		blob.WithPublicBaseURL("https://cdn.test"),
	)
	m := metrics.New()
	logger := zap.NewNop()
	pipeline := ingest.NewPipeline(store, resolver, ext, ingest.WithLogger(logger), ingest.WithMetrics(m))
	orch := ingest.NewOrchestrator(pipeline, cfg.Ingest)
	engine := search.NewEngine(store, ext, resolver, search.WithLogger(logger), search.WithMetrics(m))

	idx, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	if _, err := idx.Rebuild(context.Background(), store); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(pipeline, orch, engine, store, cfg, logger, WithMetrics(m), WithEntityIndex(idx))
	return &testEnv{handler: srv.Handler(), store: store, index: idx, root: root, images: imgs}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return w, out
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/health", "/api/hello"} {
		w, out := env.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK || out["status"] != "success" {
			t.Errorf("%s: code=%d body=%v", path, w.Code, out)
		}
	}
}

func TestHandleEmbed(t *testing.T) {
	env := newTestEnv(t)

	w, out := env.do(t, http.MethodPost, "/api/v1/embeddings", map[string]interface{}{
		"image_source": "tanks/leopard.png",
		"equipment_id": "e1",
		"metadata":     map[string]interface{}{"angle": "front"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%v", w.Code, out)
	}
	if out["status"] != "success" || out["embedding_id"] == "" || out["equipment_id"] != "e1" {
		t.Errorf("unexpected body: %v", out)
	}
	if out["image_url_updated"] != true || out["updated_url"] != "https://cdn.test/tanks/leopard.png" {
		t.Errorf("update_image_url should default to true: %v", out)
	}
	if _, ok := out["processing_time_seconds"].(float64); !ok {
		t.Errorf("missing processing_time_seconds: %v", out)
	}

	e, err := env.store.GetEntity(context.Background(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	if e.ImageURL != "https://cdn.test/tanks/leopard.png" {
		t.Errorf("image_url=%s", e.ImageURL)
	}
}

func TestHandleEmbed_numericIDAndNoUpdate(t *testing.T) {
	env := newTestEnv(t)
	_ = env.store.CreateEntity(context.Background(), &models.Entity{ID: "17", Name: "Numbered", ImageURL: "keep"})

	w, out := env.do(t, http.MethodPost, "/api/v1/embeddings",
		`{"image_source": "`+env.images.URL+`/jet.png", "equipment_id": 17, "update_image_url": false}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%v", w.Code, out)
	}
	if out["image_url_updated"] != false {
		t.Errorf("unexpected body: %v", out)
	}
	e, _ := env.store.GetEntity(context.Background(), "17")
	if e.ImageURL != "keep" {
		t.Errorf("image_url changed to %s", e.ImageURL)
	}
}

func TestHandleEmbed_errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantKind string
	}{
		{"malformed json", `{"image_source":`, http.StatusBadRequest, "invalid_request"},
		{"missing source", map[string]interface{}{"equipment_id": "e1"}, http.StatusBadRequest, "invalid_request"},
		{"missing entity", map[string]interface{}{"image_source": "tanks/leopard.png"}, http.StatusBadRequest, "invalid_request"},
		{"unknown entity", map[string]interface{}{"image_source": "tanks/leopard.png", "equipment_id": "nope"}, http.StatusNotFound, "parent_not_found"},
		{"missing object", map[string]interface{}{"image_source": "tanks/missing.png", "equipment_id": "e1"}, http.StatusBadGateway, "source_unavailable"},
		{"http 404", map[string]interface{}{"image_source": env.images.URL + "/nope.png", "equipment_id": "e1"}, http.StatusBadGateway, "source_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := env.do(t, http.MethodPost, "/api/v1/embeddings", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status=%d, want %d (%v)", w.Code, tt.wantCode, out)
			}
			if out["status"] != "error" || out["error"] == "" || out["error_kind"] != tt.wantKind {
				t.Errorf("unexpected error body: %v", out)
			}
		})
	}
	if n, _ := env.store.CountEmbeddings(context.Background()); n != 0 {
		t.Errorf("no records expected, got %d", n)
	}
}

func TestHandleEmbed_extractionFailed(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.root, "tanks", "bad.png"), []byte("not a png"), 0644); err != nil {
		t.Fatal(err)
	}
	w, out := env.do(t, http.MethodPost, "/api/v1/embeddings", map[string]interface{}{
		"image_source": "tanks/bad.png", "entity_id": "e1",
	})
	if w.Code != http.StatusUnprocessableEntity || out["error_kind"] != "extraction_failed" {
		t.Errorf("status=%d body=%v", w.Code, out)
	}
	e, _ := env.store.GetEntity(context.Background(), "e1")
	if e.ImageURL != "" {
		t.Errorf("image_url should be unchanged, got %s", e.ImageURL)
	}
}

func TestHandleEmbedBulk(t *testing.T) {
	env := newTestEnv(t)
	w, out := env.do(t, http.MethodPost, "/api/v1/embeddings/bulk", map[string]interface{}{
		"images": []map[string]interface{}{
			{"image_source": "tanks/leopard.png", "equipment_id": "e1"},
			{"image_source": "tanks/leopard.png", "equipment_id": "missing"},
			{"equipment_id": "e2"},
			{"image_source": env.images.URL + "/jet.png", "equipment_id": "e2"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%v", w.Code, out)
	}
	if out["message"] != "Processed 4 images: 2 succeeded, 2 failed" {
		t.Errorf("message=%v", out["message"])
	}
	results := out["results"].([]interface{})
	want := []string{"success", "error", "error", "success"}
	for i, r := range results {
		item := r.(map[string]interface{})
		if item["status"] != want[i] || int(item["index"].(float64)) != i {
			t.Errorf("result %d = %v", i, item)
		}
	}
	if n, _ := env.store.CountEmbeddings(context.Background()); n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}

	w, _ = env.do(t, http.MethodPost, "/api/v1/embeddings/bulk", map[string]interface{}{"images": []interface{}{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch status=%d", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []map[string]interface{}{
		{"image_source": "tanks/leopard.png", "equipment_id": "e1"},
		{"image_source": env.images.URL + "/jet.png", "equipment_id": "e2"},
	} {
		if w, out := env.do(t, http.MethodPost, "/api/v1/embeddings", body); w.Code != http.StatusCreated {
			t.Fatalf("seed failed: %v", out)
		}
	}

	w, out := env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"image_source": "tanks/leopard.png",
		"top_k":        1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%v", w.Code, out)
	}
	results := out["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	top := results[0].(map[string]interface{})
	entity := top["entity"].(map[string]interface{})
	if entity["id"] != "e1" || top["similarity"].(float64) < 0.999 || top["rank"].(float64) != 1 {
		t.Errorf("unexpected top result: %v", top)
	}
	if out["query_type"] != "image" || out["candidates"].(float64) != 2 {
		t.Errorf("unexpected response: %v", out)
	}

	// top_k defaults to the configured value.
	w, out = env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query_type": "text", "text_query": "main battle tank",
	})
	if w.Code != http.StatusOK || out["top_k"].(float64) != 5 || len(out["results"].([]interface{})) != 2 {
		t.Errorf("status=%d body=%v", w.Code, out)
	}
}

func TestHandleSearch_errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		body     map[string]interface{}
		wantCode int
	}{
		{"zero top_k", map[string]interface{}{"query_type": "text", "text_query": "x", "top_k": 0}, http.StatusBadRequest},
		{"negative top_k", map[string]interface{}{"query_type": "text", "text_query": "x", "top_k": -3}, http.StatusBadRequest},
		{"bad query type", map[string]interface{}{"query_type": "audio", "text_query": "x"}, http.StatusBadRequest},
		{"image without source", map[string]interface{}{"query_type": "image"}, http.StatusBadRequest},
		{"unavailable source", map[string]interface{}{"image_source": "nope.png"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := env.do(t, http.MethodPost, "/api/v1/search", tt.body)
			if w.Code != tt.wantCode || out["status"] != "error" {
				t.Errorf("status=%d, want %d (%v)", w.Code, tt.wantCode, out)
			}
		})
	}
}

func TestHandleStatsAndClear(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/embeddings", map[string]interface{}{"image_source": "tanks/leopard.png", "equipment_id": "e1"})
	env.do(t, http.MethodPost, "/api/v1/embeddings", map[string]interface{}{"image_source": "tanks/leopard.png", "equipment_id": "e1"})

	w, out := env.do(t, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if out["total_embeddings"].(float64) != 2 || out["entities_with_embeddings"].(float64) != 1 {
		t.Errorf("unexpected stats: %v", out)
	}
	if out["model"] != "clip-test" || out["dimensions"].(float64) != 8 {
		t.Errorf("unexpected model info: %v", out)
	}

	w, out = env.do(t, http.MethodPost, "/api/v1/admin/clear", nil)
	if w.Code != http.StatusOK || out["deleted"].(float64) != 2 {
		t.Errorf("clear: status=%d body=%v", w.Code, out)
	}
	_, out = env.do(t, http.MethodGet, "/api/v1/stats", nil)
	if out["total_embeddings"].(float64) != 0 {
		t.Errorf("expected 0 embeddings after clear: %v", out)
	}
	if _, err := env.store.GetEntity(context.Background(), "e1"); err != nil {
		t.Errorf("entities must survive clear: %v", err)
	}
}

func TestHandleEntities(t *testing.T) {
	env := newTestEnv(t)

	w, out := env.do(t, http.MethodPost, "/api/v1/entities", map[string]interface{}{
		"id": "e9", "name": "Patria AMV", "type": "apc", "country": "FI", "year": 2004,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%v", w.Code, out)
	}
	w, out = env.do(t, http.MethodPost, "/api/v1/entities", map[string]interface{}{"id": "e9", "name": "dup"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate: status=%d body=%v", w.Code, out)
	}
	w, _ = env.do(t, http.MethodPost, "/api/v1/entities", map[string]interface{}{"id": "e10"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name: status=%d", w.Code)
	}

	w, out = env.do(t, http.MethodGet, "/api/v1/entities/e9", nil)
	if w.Code != http.StatusOK || out["entity"].(map[string]interface{})["name"] != "Patria AMV" {
		t.Errorf("get: status=%d body=%v", w.Code, out)
	}
	w, out = env.do(t, http.MethodGet, "/api/v1/entities?limit=2", nil)
	if w.Code != http.StatusOK || len(out["entities"].([]interface{})) != 2 {
		t.Errorf("list: status=%d body=%v", w.Code, out)
	}
	w, _ = env.do(t, http.MethodGet, "/api/v1/entities?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status=%d", w.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/embeddings", map[string]interface{}{"image_source": "tanks/leopard.png", "equipment_id": "e9"})
	w, _ = env.do(t, http.MethodDelete, "/api/v1/entities/e9", nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: status=%d", w.Code)
	}
	if n, _ := env.store.CountEmbeddings(context.Background()); n != 0 {
		t.Errorf("delete should cascade, %d records left", n)
	}
	w, out = env.do(t, http.MethodGet, "/api/v1/entities/e9", nil)
	if w.Code != http.StatusNotFound || out["status"] != "error" {
		t.Errorf("get deleted: status=%d body=%v", w.Code, out)
	}
}

func entityIDs(t *testing.T, out map[string]interface{}) []string {
	t.Helper()
	list, ok := out["entities"].([]interface{})
	if !ok {
		t.Fatalf("no entities in %v", out)
	}
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.(map[string]interface{})["id"].(string)
	}
	return ids
}

func TestHandleEntities_keywordFilters(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []map[string]interface{}{
		{"id": "leopard-2", "name": "Leopard 2A6", "type": "Main Battle Tank", "country": "Germany", "in_service": true,
			"technical_specs": map[string]interface{}{"engine": "MTU MB 873"}},
		{"id": "mig-21", "name": "MiG-21", "type": "Fighter", "country": "Soviet Union", "in_service": false,
			"description": "Supersonic interceptor"},
		{"id": "t-72", "name": "T-72", "type": "Main Battle Tank", "country": "Soviet Union", "in_service": true},
	} {
		if w, out := env.do(t, http.MethodPost, "/api/v1/entities", body); w.Code != http.StatusCreated {
			t.Fatalf("create %v: %v", body["id"], out)
		}
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"free text over description", "q=supersonic", []string{"mig-21"}},
		{"free text over specs", "q=mtu", []string{"leopard-2"}},
		{"free text is case-insensitive", "q=GERMANY", []string{"leopard-2"}},
		{"type and country", "type=tank&country=soviet", []string{"t-72"}},
		{"in service", "in_service=false", []string{"mig-21"}},
		{"text and in service", "q=soviet&in_service=true", []string{"t-72"}},
		{"entities seeded before start are searchable", "q=entity", []string{"e1", "e2"}},
		{"no match", "q=submarine", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := env.do(t, http.MethodGet, "/api/v1/entities?"+tt.query, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status=%d body=%v", w.Code, out)
			}
			got := entityIDs(t, out)
			sort.Strings(got)
			if len(got) != len(tt.want) || (len(got) > 0 && !reflect.DeepEqual(got, tt.want)) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
			if out["total"].(float64) != float64(len(tt.want)) {
				t.Errorf("total = %v, want %d", out["total"], len(tt.want))
			}
		})
	}

	w, out := env.do(t, http.MethodGet, "/api/v1/entities?in_service=maybe", nil)
	if w.Code != http.StatusBadRequest || out["error_kind"] != "invalid_request" {
		t.Errorf("bad in_service: status=%d body=%v", w.Code, out)
	}

	if w, _ := env.do(t, http.MethodDelete, "/api/v1/entities/mig-21", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: status=%d", w.Code)
	}
	_, out = env.do(t, http.MethodGet, "/api/v1/entities?q=supersonic", nil)
	if ids := entityIDs(t, out); len(ids) != 0 {
		t.Errorf("deleted entity still listed: %v", ids)
	}
	if n, _ := env.index.DocCount(); n != 4 {
		t.Errorf("indexed documents = %d, want 4", n)
	}
}

func TestHandleEntities_filtersWithoutIndex(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	srv := NewServer(nil, nil, nil, storage.NewMemoryStore(), cfg, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entities?q=tank", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status=%d, want 400", w.Code)
	}
}

func TestHandleEmbedEntity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	imageURL := env.images.URL + "/jet.png"
	if err := env.store.CreateEntity(ctx, &models.Entity{
		ID: "f-16", Name: "F-16", Type: "Fighter", Country: "USA", Year: 1978, ImageURL: imageURL,
	}); err != nil {
		t.Fatal(err)
	}

	w, out := env.do(t, http.MethodPost, "/api/v1/entities/f-16/embed", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%v", w.Code, out)
	}
	if out["equipment_id"] != "f-16" || out["embedding_id"] == "" || out["image_url_updated"] != false {
		t.Errorf("unexpected body: %v", out)
	}

	all, err := env.store.ListAllWithParent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
	rec := all[0].Record
	if rec.Source != imageURL || rec.ParentID != "f-16" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Metadata["name"] != "F-16" || rec.Metadata["equipment_id"] != "f-16" || rec.Metadata["year"] != 1978 {
		t.Errorf("metadata = %v", rec.Metadata)
	}
	if _, ok := rec.Metadata["description"]; ok {
		t.Errorf("empty description should be omitted: %v", rec.Metadata)
	}
	e, _ := env.store.GetEntity(ctx, "f-16")
	if e.ImageURL != imageURL {
		t.Errorf("image_url changed to %s", e.ImageURL)
	}

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantKind string
	}{
		{"unknown entity", "/api/v1/entities/nope/embed", http.StatusNotFound, "parent_not_found"},
		{"entity without image", "/api/v1/entities/e1/embed", http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := env.do(t, http.MethodPost, tt.path, nil)
			if w.Code != tt.wantCode || out["error_kind"] != tt.wantKind {
				t.Errorf("status=%d body=%v", w.Code, out)
			}
		})
	}
}

func TestHandleMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/embeddings", map[string]interface{}{"image_source": "tanks/leopard.png", "equipment_id": "e1"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "kagami_ingest_total{") || !strings.Contains(body, `status="success"`) {
		t.Error("ingest counter missing from /metrics")
	}
}

func TestRequestBodyLimit(t *testing.T) {
	env := newTestEnv(t)
	big := `{"image_source": "` + strings.Repeat("a", 1<<17) + `", "equipment_id": "e1"}`
	w, out := env.do(t, http.MethodPost, "/api/v1/embeddings", big)
	if w.Code != http.StatusRequestEntityTooLarge || out["status"] != "error" {
		t.Errorf("status=%d body=%v", w.Code, out)
	}
}

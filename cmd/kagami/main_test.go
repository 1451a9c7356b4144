package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after source are moved first",
			args:     []string{"tanks/a.jpg", "-top-k", "3"},
			expected: []string{"-top-k", "3", "tanks/a.jpg"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "3", "tanks/a.jpg"},
			expected: []string{"-top-k", "3", "tanks/a.jpg"},
		},
		{
			name:     "positional only returns unchanged",
			args:     []string{"tanks/a.jpg"},
			expected: []string{"tanks/a.jpg"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple words then flags",
			args:     []string{"desert", "tank", "-text"},
			expected: []string{"-text", "desert", "tank"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := argsReorder(tt.args); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchRequest(t *testing.T) {
	req := buildSearchRequest([]string{"desert", "camo", "tank"}, true, 0)
	if req.QueryType != models.QueryText || req.TextQuery != "desert camo tank" || req.TopK != nil {
		t.Errorf("text request = %+v", req)
	}

	req = buildSearchRequest([]string{"tanks/a.jpg"}, false, 4)
	if req.QueryType != models.QueryImage || req.ImageSource != "tanks/a.jpg" {
		t.Errorf("image request = %+v", req)
	}
	if req.TopK == nil || *req.TopK != 4 {
		t.Errorf("top_k = %v, want 4", req.TopK)
	}
}

func TestReadBulkRequests(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"array", `[{"image_source":"a.jpg","equipment_id":"e1"},{"image_source":"b.jpg","equipment_id":"e2"}]`, 2, false},
		{"wrapped", `{"images":[{"image_source":"a.jpg","equipment_id":"e1"}]}`, 1, false},
		{"no images key", `{"items":[]}`, 0, true},
		{"garbage", `not json`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readBulkRequests(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMetadataFlag(t *testing.T) {
	var m metadataFlag
	for _, s := range []string{"angle=side", "year=1979", "combat=true"} {
		if err := m.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
	}
	want := map[string]interface{}{"angle": "side", "year": float64(1979), "combat": true}
	if !reflect.DeepEqual(m.values, want) {
		t.Errorf("values = %v, want %v", m.values, want)
	}
	if err := m.Set("novalue"); err == nil {
		t.Error("expected error for missing '='")
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := `database:
  driver: sqlite3
  path: ./kagami.db
blob:
  backend: local
  local_root: ./inbox
embedding:
  provider: mock
  dimensions: 16
watch:
  enabled: true
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_PrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	want := writeConfig(t, dir)
	t.Chdir(dir)

	cfg, path, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if cfg.Embedding.Provider != "mock" || cfg.Embedding.Dimensions != 16 {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Database.Path != filepath.Join(dir, "kagami.db") {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestInitializeComponents(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(writeConfig(t, dir))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	components, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	defer components.Close()

	if components.Inbox == nil {
		t.Error("expected inbox when watch is enabled with the local backend")
	}
	if components.Extractor.Dimensions() != 16 {
		t.Errorf("dimensions = %d, want 16", components.Extractor.Dimensions())
	}
	if components.Entities == nil {
		t.Error("expected entity index")
	}
	if err := components.Store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	resp, err := components.Engine.Query(context.Background(), &models.SearchQuery{
		Type: models.QueryText,
		Text: "tank",
		TopK: 3,
	})
	if err != nil {
		t.Fatalf("Query on empty store: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("total = %d, want 0", resp.Total)
	}
}

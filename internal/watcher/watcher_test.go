package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/blob"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
)

const testDebounce = 50 * time.Millisecond

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// waitFor polls until fn returns true or the deadline passes.
func waitFor(t *testing.T, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fn()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "e1")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	var rec recorder
	w := New(dir, []string{".png"}, rec.add, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	img := filepath.Join(sub, "a.png")
	for i := 0; i < 3; i++ {
		writeFile(t, img, strings.Repeat("x", i+1))
	}
	writeFile(t, filepath.Join(sub, "notes.txt"), "skip")

	if !waitFor(t, func() bool { return len(rec.snapshot()) >= 1 }) {
		t.Fatal("expected a callback for a.png")
	}
	time.Sleep(3 * testDebounce)
	got := rec.snapshot()
	if len(got) != 1 || got[0] != img {
		t.Errorf("expected exactly one debounced callback for a.png, got %v", got)
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	dir := t.TempDir()
	var rec recorder
	w := New(dir, []string{".jpg", ".png"}, rec.add, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "e2", "front.jpg"), "a")
	writeFile(t, filepath.Join(dir, "e2", "side.png"), "b")
	writeFile(t, filepath.Join(dir, "e2", "ignore.xyz"), "c")

	ok := waitFor(t, func() bool { return len(rec.snapshot()) >= 2 })
	if !ok {
		t.Fatalf("expected 2 callbacks, got %v", rec.snapshot())
	}
	for _, p := range rec.snapshot() {
		if strings.HasSuffix(p, "ignore.xyz") {
			t.Error("ignore.xyz should not be reported")
		}
	}
}

func TestWatcher_StartCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "images")
	w := New(root, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
	w.Stop() // idempotent
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.png", []string{".png"}, true},
		{"/a/b.PNG", []string{"png"}, true},
		{"/a/b.gif", []string{".png"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.png", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

type fakeIngester struct {
	mu   sync.Mutex
	reqs []*models.IngestRequest
	err  error
}

func (f *fakeIngester) IngestOne(_ context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestResult{EmbeddingID: "id"}, nil
}

func (f *fakeIngester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func TestInbox_Request(t *testing.T) {
	root := t.TempDir()
	no := false
	in := NewInbox(blob.NewLocalStore(root, 0), &fakeIngester{}, config.WatchConfig{UpdateParentReference: &no}, nil)

	req, err := in.Request(filepath.Join(root, "e7", "side", "left.png"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Source != "e7/side/left.png" || req.ParentID != "e7" {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.UpdateParentReference {
		t.Error("update_parent_reference should follow config")
	}
	if req.Metadata["filename"] != "left.png" {
		t.Errorf("metadata=%v", req.Metadata)
	}

	if _, err := in.Request(filepath.Join(root, "loose.png")); err == nil {
		t.Error("file directly under the root has no entity")
	}
	if _, err := in.Request(filepath.Join(filepath.Dir(root), "elsewhere.png")); err == nil {
		t.Error("file outside the root should be rejected")
	}
}

func TestInbox_ingestsNewFiles(t *testing.T) {
	root := t.TempDir()
	ing := &fakeIngester{}
	in := NewInbox(blob.NewLocalStore(root, 0), ing, config.WatchConfig{Extensions: []string{".png"}}, nil, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	writeFile(t, filepath.Join(root, "e1", "a.png"), "img")
	if !waitFor(t, func() bool { return ing.count() == 1 }) {
		t.Fatalf("expected 1 ingestion, got %d", ing.count())
	}
	ing.mu.Lock()
	req := ing.reqs[0]
	ing.mu.Unlock()
	if req.ParentID != "e1" || req.Source != "e1/a.png" || !req.UpdateParentReference {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestInbox_ingestFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	ing := &fakeIngester{err: errors.New("boom")}
	in := NewInbox(blob.NewLocalStore(root, 0), ing, config.WatchConfig{}, nil, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	writeFile(t, filepath.Join(root, "e1", "a.png"), "1")
	writeFile(t, filepath.Join(root, "e1", "b.png"), "2")
	if !waitFor(t, func() bool { return ing.count() == 2 }) {
		t.Errorf("expected both files attempted, got %d", ing.count())
	}
}

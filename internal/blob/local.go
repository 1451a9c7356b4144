package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore reads objects from a directory. Keys are slash-separated paths under the root.
type LocalStore struct {
	root     string
	maxBytes int64
}

// NewLocalStore creates a LocalStore rooted at root.
func NewLocalStore(root string, maxBytes int64) *LocalStore {
	return &LocalStore{root: root, maxBytes: maxBytes}
}

// Root returns the directory keys are resolved against.
func (s *LocalStore) Root() string {
	return s.root
}

// Path maps key to a file path under the root. Keys escaping the root are rejected.
func (s *LocalStore) Path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(NormalizeKey(key)))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the blob root", key)
	}
	return p, nil
}

// Key is the inverse of Path.
func (s *LocalStore) Key(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the blob root", path)
	}
	return filepath.ToSlash(rel), nil
}

// Get reads the file for key.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()
	return readLimited(f, s.maxBytes)
}

// URL returns a file URL for key.
func (s *LocalStore) URL(key string) string {
	p, err := s.Path(key)
	if err != nil {
		p = filepath.Join(s.root, NormalizeKey(key))
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return "file://" + filepath.ToSlash(p)
}

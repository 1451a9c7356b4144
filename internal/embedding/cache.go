package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedExtractor wraps an Extractor and caches text vectors by query text. Image vectors are
// never cached. Callers receive copies and may modify them.
type CachedExtractor struct {
	Extractor
	texts *lru.Cache[string, []float32]
}

// NewCachedExtractor creates a cache holding up to size text vectors.
func NewCachedExtractor(inner Extractor, size int) (*CachedExtractor, error) {
	texts, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create text cache: %w", err)
	}
	return &CachedExtractor{Extractor: inner, texts: texts}, nil
}

// ExtractText returns the cached vector for text or computes and caches it.
func (c *CachedExtractor) ExtractText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.texts.Get(text); ok {
		return append([]float32(nil), v...), nil
	}
	v, err := c.Extractor.ExtractText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.texts.Add(text, append([]float32(nil), v...))
	return v, nil
}

// CachedTexts returns the number of cached text vectors.
func (c *CachedExtractor) CachedTexts() int {
	return c.texts.Len()
}

package embedding

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"
)

// MockExtractor is a deterministic extractor for tests and model-less runs. Image vectors are
// derived from the image bytes, text vectors from the text, so identical input always maps to
// the same unit vector.
type MockExtractor struct {
	dimensions int
	model      string
}

// NewMockExtractor returns an extractor producing vectors of the given dimensions.
func NewMockExtractor(dimensions int, model string) *MockExtractor {
	if dimensions <= 0 {
		dimensions = 512
	}
	if model == "" {
		model = "mock"
	}
	return &MockExtractor{dimensions: dimensions, model: model}
}

// ExtractImage checks that data decodes as an image and returns a vector derived from its bytes.
func (e *MockExtractor) ExtractImage(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return e.vector(h.Sum64()), nil
}

// ExtractText returns a vector derived from text.
func (e *MockExtractor) ExtractText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return e.vector(h.Sum64()), nil
}

func (e *MockExtractor) vector(seed uint64) []float32 {
	emb := make([]float32, e.dimensions)
	s := float64(seed%1_000_003) + 1
	for i := range emb {
		emb[i] = float32(math.Sin(s*float64(i+1))*0.1 + 0.01)
	}
	NormalizeL2(emb)
	return emb
}

// Dimensions returns the vector dimension.
func (e *MockExtractor) Dimensions() int {
	return e.dimensions
}

// Model returns the configured model name.
func (e *MockExtractor) Model() string {
	return e.model
}

// Close is a no-op for MockExtractor.
func (e *MockExtractor) Close() error {
	return nil
}

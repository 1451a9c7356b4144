// Package embedding extracts CLIP feature vectors from images and text.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/kagami/internal/config"
)

// Extractor maps images and text into the same D-dimensional space.
type Extractor interface {
	ExtractImage(ctx context.Context, data []byte) ([]float32, error)
	ExtractText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
	Close() error
}

// ErrUndecodableImage is returned when the input bytes are not a supported image.
var ErrUndecodableImage = errors.New("undecodable image")

// NormalizeL2 normalizes x in place to unit L2 norm. A zero vector is left unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

// CheckVector verifies v has length dim and is finite and non-zero.
func CheckVector(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("vector has %d dimensions, want %d", len(v), dim)
	}
	nonZero := false
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
		if x != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return fmt.Errorf("vector is all zeros")
	}
	return nil
}

// New builds the extractor for cfg and wraps it with a text cache when enabled.
func New(cfg config.EmbeddingConfig) (Extractor, error) {
	var (
		ext Extractor
		err error
	)
	switch cfg.Provider {
	case "mock":
		ext = NewMockExtractor(cfg.Dimensions, cfg.ModelName)
	case "onnx":
		ext, err = NewCLIPExtractor(CLIPOptions{
			VisualModelPath: cfg.VisualModelPath,
			TextModelPath:   cfg.TextModelPath,
			ModelName:       cfg.ModelName,
			Dimensions:      cfg.Dimensions,
			ImageSize:       cfg.ImageSize,
			ContextLength:   cfg.ContextLength,
			RuntimeLibrary:  cfg.RuntimeLibrary,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.TextCacheSize > 0 {
		cached, err := NewCachedExtractor(ext, cfg.TextCacheSize)
		if err != nil {
			_ = ext.Close()
			return nil, err
		}
		return cached, nil
	}
	return ext, nil
}

// CLIPOptions configures a CLIPExtractor.
type CLIPOptions struct {
	VisualModelPath string
	TextModelPath   string
	ModelName       string
	Dimensions      int
	ImageSize       int
	ContextLength   int
	RuntimeLibrary  string
}

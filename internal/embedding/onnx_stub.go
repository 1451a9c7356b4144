//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("CLIP extractor requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// CLIPExtractor stub type when built without CGO (see onnx.go for the real implementation).
type CLIPExtractor struct{}

// NewCLIPExtractor returns an error when built without CGO (ONNX not available).
func NewCLIPExtractor(_ CLIPOptions) (*CLIPExtractor, error) {
	return nil, errNoCGO
}

func (e *CLIPExtractor) ExtractImage(context.Context, []byte) ([]float32, error) {
	return nil, errNoCGO
}

func (e *CLIPExtractor) ExtractText(context.Context, string) ([]float32, error) {
	return nil, errNoCGO
}

func (e *CLIPExtractor) Dimensions() int { return 0 }
func (e *CLIPExtractor) Model() string   { return "" }
func (e *CLIPExtractor) Close() error    { return nil }

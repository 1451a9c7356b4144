//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Input and output names of the split CLIP ONNX exports.
const (
	visualInputName  = "pixel_values"
	visualOutputName = "image_embeds"
	textInputName    = "input_ids"
	textOutputName   = "text_embeds"
)

// CLIPExtractor runs the CLIP visual and text encoders with ONNX Runtime. It requires CGO and
// the onnxruntime shared library.
type CLIPExtractor struct {
	dimensions   int
	model        string
	preprocessor *Preprocessor
	tokenizer    Tokenizer

	visualMu    sync.Mutex
	visual      *ort.AdvancedSession
	pixelTensor *ort.Tensor[float32]
	imageOutput *ort.Tensor[float32]

	textMu     sync.Mutex
	text       *ort.AdvancedSession
	idsTensor  *ort.Tensor[int64]
	textOutput *ort.Tensor[float32]
}

// NewCLIPExtractor loads both encoders. The ONNX environment is initialized if not already done.
func NewCLIPExtractor(opts CLIPOptions) (*CLIPExtractor, error) {
	if opts.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(opts.RuntimeLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	e := &CLIPExtractor{
		dimensions:   opts.Dimensions,
		model:        opts.ModelName,
		preprocessor: NewPreprocessor(opts.ImageSize),
		tokenizer:    &HashTokenizer{ContextLength: opts.ContextLength},
	}
	size := int64(e.preprocessor.Size())
	contextLength := int64(len(e.tokenizer.Tokenize("")))

	var err error
	e.pixelTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	e.imageOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.Dimensions)))
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create image output tensor: %w", err)
	}
	e.visual, err = ort.NewAdvancedSession(
		opts.VisualModelPath,
		[]string{visualInputName},
		[]string{visualOutputName},
		[]ort.ArbitraryTensor{e.pixelTensor},
		[]ort.ArbitraryTensor{e.imageOutput},
		nil,
	)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create visual session: %w", err)
	}

	e.idsTensor, err = ort.NewEmptyTensor[int64](ort.NewShape(1, contextLength))
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	e.textOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.Dimensions)))
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create text output tensor: %w", err)
	}
	e.text, err = ort.NewAdvancedSession(
		opts.TextModelPath,
		[]string{textInputName},
		[]string{textOutputName},
		[]ort.ArbitraryTensor{e.idsTensor},
		[]ort.ArbitraryTensor{e.textOutput},
		nil,
	)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create text session: %w", err)
	}

	return e, nil
}

// ExtractImage decodes and preprocesses data, then runs the visual encoder.
func (e *CLIPExtractor) ExtractImage(ctx context.Context, data []byte) ([]float32, error) {
	pixels, err := e.preprocessor.Preprocess(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.visualMu.Lock()
	defer e.visualMu.Unlock()

	copy(e.pixelTensor.GetData(), pixels)
	if err := e.visual.Run(); err != nil {
		return nil, fmt.Errorf("visual inference failed: %w", err)
	}
	out := make([]float32, e.dimensions)
	copy(out, e.imageOutput.GetData())
	NormalizeL2(out)
	return out, nil
}

// ExtractText tokenizes text and runs the text encoder.
func (e *CLIPExtractor) ExtractText(ctx context.Context, text string) ([]float32, error) {
	ids := e.tokenizer.Tokenize(text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.textMu.Lock()
	defer e.textMu.Unlock()

	copy(e.idsTensor.GetData(), ids)
	if err := e.text.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	out := make([]float32, e.dimensions)
	copy(out, e.textOutput.GetData())
	NormalizeL2(out)
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPExtractor) Dimensions() int {
	return e.dimensions
}

// Model returns the model name.
func (e *CLIPExtractor) Model() string {
	return e.model
}

// Close destroys the sessions and tensors.
func (e *CLIPExtractor) Close() error {
	var err error
	if e.visual != nil {
		err = e.visual.Destroy()
		e.visual = nil
	}
	if e.text != nil {
		if terr := e.text.Destroy(); err == nil {
			err = terr
		}
		e.text = nil
	}
	if e.pixelTensor != nil {
		_ = e.pixelTensor.Destroy()
		e.pixelTensor = nil
	}
	if e.imageOutput != nil {
		_ = e.imageOutput.Destroy()
		e.imageOutput = nil
	}
	if e.idsTensor != nil {
		_ = e.idsTensor.Destroy()
		e.idsTensor = nil
	}
	if e.textOutput != nil {
		_ = e.textOutput.Destroy()
		e.textOutput = nil
	}
	return err
}

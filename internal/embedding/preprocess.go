package embedding

import (
	"bytes"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// CLIP image normalization constants (RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Preprocessor turns encoded image bytes into a normalized NCHW tensor of shape
// [1, 3, size, size]: the largest centered square is resized to size x size.
type Preprocessor struct {
	size int
}

// NewPreprocessor creates a preprocessor for square inputs of the given side.
func NewPreprocessor(size int) *Preprocessor {
	if size <= 0 {
		size = 224
	}
	return &Preprocessor{size: size}
}

// Size returns the output side length.
func (p *Preprocessor) Size() int {
	return p.size
}

// Preprocess decodes data and returns the tensor data.
func (p *Preprocessor) Preprocess(data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	return p.Tensor(img), nil
}

// Tensor converts img into the normalized tensor data.
func (p *Preprocessor) Tensor(img image.Image) []float32 {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)

	plane := p.size * p.size
	out := make([]float32, 3*plane)
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			px := dst.RGBAAt(x, y)
			i := y*p.size + x
			out[i] = (float32(px.R)/255 - clipMean[0]) / clipStd[0]
			out[plane+i] = (float32(px.G)/255 - clipMean[1]) / clipStd[1]
			out[2*plane+i] = (float32(px.B)/255 - clipMean[2]) / clipStd[2]
		}
	}
	return out
}

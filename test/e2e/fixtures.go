package e2e

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
)

// ImageExtensions are the formats generated for the corpus.
var ImageExtensions = []string{".png", ".jpg", ".gif"}

// RenderImage returns a small image in the format of ext. Different seeds give different
// pixels and therefore different bytes.
func RenderImage(ext string, seed int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(seed * 37),
				G: uint8(seed*11 + x*8),
				B: uint8(seed*5 + y*8),
				A: 255,
			})
		}
	}
	// The first row spells out the seed in black and white, which survives palette quantization.
	for x := 0; x < 16; x++ {
		if seed&(1<<x) != 0 {
			img.Set(x, 0, color.White)
		} else {
			img.Set(x, 0, color.Black)
		}
	}
	var buf bytes.Buffer
	var err error
	switch ext {
	case ".png":
		err = png.Encode(&buf, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case ".gif":
		err = gif.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

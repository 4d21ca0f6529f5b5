package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"os"

	"filelocker/internal/trailer"

	_ "golang.org/x/image/bmp"  // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Default rendering parameters
const (
	DefaultMaxDim = 256
	JPEGQuality   = 80
)

// Result is a rendered preview and the size of the source image.
type Result struct {
	JPEG      []byte
	Dimension trailer.Dimension
}

// Generate decodes the image at path and renders a JPEG preview whose
// longer side is at most maxDim pixels. Images smaller than maxDim are
// re-encoded at their own size.
func Generate(path string, maxDim int) (*Result, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	return &Result{
		JPEG:      buf.Bytes(),
		Dimension: trailer.Dimension{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

// Dimensions reads only the image header at path.
func Dimensions(path string) (trailer.Dimension, error) {
	f, err := os.Open(path)
	if err != nil {
		return trailer.Dimension{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return trailer.Dimension{}, fmt.Errorf("decode image config: %w", err)
	}
	return trailer.Dimension{Width: cfg.Width, Height: cfg.Height}, nil
}

// fit scales w x h down so the longer side is at most maxDim, keeping the
// aspect ratio and never going below one pixel.
func fit(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return max(w, 1), max(h, 1)
	}
	if w >= h {
		return maxDim, max(h*maxDim/w, 1)
	}
	return max(w*maxDim/h, 1), maxDim
}

package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 1024
	DefaultMaxHeight = 1024
	JpegQuality      = 90
	ContentType      = "image/jpeg"
)

var ErrDecode = errors.New("failed to load image")

// FitWithin returns the size of a width x height image scaled down, keeping its
// aspect ratio, to fit in maxWidth x maxHeight. Images that already fit are
// left alone. Fractional sizes are truncated, never rounded up.
func FitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	ratio := min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))

	return max(1, int(float64(width)*ratio)), max(1, int(float64(height)*ratio))
}

// Resize decodes an image, scales it to fit maxWidth x maxHeight and always
// re-encodes it as a JPEG.
func Resize(r io.Reader, maxWidth, maxHeight int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	bounds := src.Bounds()
	width, height := FitWithin(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)

	// JPEG has no alpha channel, transparent pixels are flattened onto white
	// the way a canvas export does.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

func ResizeDefault(data []byte) ([]byte, error) {
	return Resize(bytes.NewReader(data), DefaultMaxWidth, DefaultMaxHeight)
}

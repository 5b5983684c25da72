// Package transcode re-encodes downloaded images into a single target format.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp" // register decoder

	"github.com/JakeFAU/pagemirror/internal/crawler"
)

// ErrUnsupportedFormat is returned for targets other than PNG and JPG.
var ErrUnsupportedFormat = errors.New("unsupported target format")

const defaultJPEGQuality = 90

// Transcoder decodes GIF, JPEG, PNG and WebP and encodes PNG or JPG.
type Transcoder struct {
	quality int
}

// New returns a Transcoder. Non-positive quality selects the default.
func New(jpegQuality int) *Transcoder {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = defaultJPEGQuality
	}
	return &Transcoder{quality: jpegQuality}
}

// Transcode re-encodes data into format. Images with transparency or a
// palette are flattened onto white when the target has no alpha channel.
func (t *Transcoder) Transcode(data []byte, format crawler.ImageFormat) ([]byte, error) {
	if format != crawler.FormatPNG && format != crawler.FormatJPG {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case crawler.FormatJPG:
		if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: t.quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func flatten(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray, *image.CMYK:
		return img
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Over)
	return dst
}

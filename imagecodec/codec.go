// Package imagecodec holds the pure image transforms of the media pipeline:
// decode once, scale down preserving aspect ratio, re-encode with a fixed
// deterministic encoder. No I/O happens here.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/perch-social/perch/models"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"
)

// fixed encoder settings keep derived bytes deterministic across retries
const jpegQuality = 90

// Decode parses an original image. An undecodable payload is a permanent
// content error: retrying the fan-out will not help.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPermanentContent, err)
	}
	return img, nil
}

// ResizeToWidth scales an image so its longest edge equals width, preserving
// aspect ratio. Images already at or below the target are returned unchanged;
// the pipeline never upscales.
func ResizeToWidth(src image.Image, width int) image.Image {
	b := src.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if longest <= width {
		return src
	}

	var w, h int
	if b.Dx() >= b.Dy() {
		w = width
		h = (b.Dy() * width) / b.Dx()
	} else {
		h = width
		w = (b.Dx() * width) / b.Dy()
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// bilinear has a good quality / speed tradeoff
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// EncodeJPEG re-encodes with the pipeline's fixed quality setting.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Derive runs one rung of the ladder: scale to the target width and encode.
func Derive(src image.Image, spec SizeSpec) ([]byte, error) {
	return EncodeJPEG(ResizeToWidth(src, spec.Width))
}

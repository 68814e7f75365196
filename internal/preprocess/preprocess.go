package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyInput is returned for zero-length image bytes.
	ErrEmptyInput = errors.New("empty image input")
	// ErrUnsupportedFormat is returned when the bytes are not in an allowed encoding.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecodeFailure is returned when the bytes cannot be decoded into a usable image.
	ErrDecodeFailure = errors.New("image decode failure")
)

// DefaultFormats lists the encodings accepted when no allow-list is configured.
var DefaultFormats = []string{"jpeg", "png", "gif", "bmp", "webp"}

// Options controls canonicalisation.
type Options struct {
	// MaxDimension caps the longest side of the canonical image.
	MaxDimension int
	// MaxSourcePixels rejects sources whose declared area exceeds it. Zero disables the check.
	MaxSourcePixels int
	// AllowedFormats holds image.Decode format names ("jpeg", "png", ...).
	AllowedFormats []string
}

// Canonical is the single-channel intensity image every extractor works on.
// Its Gray buffer always starts at the origin with Stride == Width.
type Canonical struct {
	Gray *image.Gray
}

// Width returns the number of columns.
func (c *Canonical) Width() int { return c.Gray.Rect.Dx() }

// Height returns the number of rows.
func (c *Canonical) Height() int { return c.Gray.Rect.Dy() }

// Decode turns raw bytes into a Canonical image.
func Decode(data []byte, opts Options) (*Canonical, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if opts.MaxDimension <= 0 {
		return nil, fmt.Errorf("preprocess: invalid max dimension %d", opts.MaxDimension)
	}

	if _, err := Sniff(data, opts); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return FromImage(src, opts.MaxDimension)
}

// Sniff validates the image header without decoding pixels and returns the
// detected format name.
func Sniff(data []byte, opts Options) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return "", ErrUnsupportedFormat
		}
		return "", fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if !allowed(format, opts.AllowedFormats) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: zero-area image", ErrDecodeFailure)
	}
	if opts.MaxSourcePixels > 0 && cfg.Width*cfg.Height > opts.MaxSourcePixels {
		return "", fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrDecodeFailure, cfg.Width, cfg.Height)
	}
	return format, nil
}

// FromImage scales img so its longest side fits maxDimension, drops any alpha
// channel and collapses colour to intensity.
func FromImage(img image.Image, maxDimension int) (*Canonical, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: zero-area image", ErrDecodeFailure)
	}

	var rgba *image.NRGBA
	if longest := max(width, height); longest > maxDimension {
		w, h := ScaledSize(width, height, maxDimension)
		rgba = imaging.Resize(img, w, h, imaging.Lanczos)
	} else {
		rgba = imaging.Clone(img)
	}

	return &Canonical{Gray: toGray(rgba)}, nil
}

// ScaledSize returns the dimensions after uniform scaling by
// maxDimension/max(width, height), rounded to the nearest integer.
func ScaledSize(width, height, maxDimension int) (int, int) {
	longest := max(width, height)
	if longest <= maxDimension {
		return width, height
	}
	scale := float64(maxDimension) / float64(longest)
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}

// toGray uses the BT.601 luma weights on straight (non-premultiplied) RGB, so
// alpha is discarded rather than composited.
func toGray(src *image.NRGBA) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			r := float64(row[x*4])
			g := float64(row[x*4+1])
			b := float64(row[x*4+2])
			out[x] = uint8(math.Round(0.299*r + 0.587*g + 0.114*b))
		}
	}
	return dst
}

func allowed(format string, formats []string) bool {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	for _, f := range formats {
		if strings.EqualFold(strings.TrimSpace(f), format) {
			return true
		}
	}
	return false
}

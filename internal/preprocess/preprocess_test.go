package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func defaultOptions() Options {
	return Options{MaxDimension: 600, AllowedFormats: DefaultFormats}
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	if _, err := Decode(nil, defaultOptions()); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDecodeRejectsUnknownBytes(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"), defaultOptions())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeRejectsFormatOutsideAllowList(t *testing.T) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, solid(4, 4, color.White), nil); err != nil {
		t.Fatalf("failed to encode gif: %v", err)
	}

	opts := defaultOptions()
	opts.AllowedFormats = []string{"png"}
	if _, err := Decode(buf.Bytes(), opts); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeReportsTruncatedImage(t *testing.T) {
	data := encodePNG(t, solid(32, 32, color.Black))
	if _, err := Decode(data[:len(data)/2], defaultOptions()); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestDecodeEnforcesSourcePixelLimit(t *testing.T) {
	opts := defaultOptions()
	opts.MaxSourcePixels = 100
	data := encodePNG(t, solid(20, 20, color.Black))
	if _, err := Decode(data, opts); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestDecodeDownscalesPreservingAspectRatio(t *testing.T) {
	data := encodePNG(t, solid(1200, 600, color.White))

	canonical, err := Decode(data, defaultOptions())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if canonical.Width() != 600 || canonical.Height() != 300 {
		t.Fatalf("expected 600x300, got %dx%d", canonical.Width(), canonical.Height())
	}
}

func TestDecodeKeepsSmallImagesUnscaled(t *testing.T) {
	data := encodePNG(t, solid(120, 80, color.White))

	canonical, err := Decode(data, defaultOptions())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if canonical.Width() != 120 || canonical.Height() != 80 {
		t.Fatalf("expected 120x80, got %dx%d", canonical.Width(), canonical.Height())
	}
	if canonical.Gray.Stride != canonical.Width() {
		t.Fatalf("expected tight stride, got %d", canonical.Gray.Stride)
	}
}

func TestFromImageDropsAlpha(t *testing.T) {
	img := solid(2, 2, color.NRGBA{R: 255, A: 0})

	canonical, err := FromImage(img, 600)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got := canonical.Gray.GrayAt(0, 0).Y; got != 76 {
		t.Fatalf("expected luma 76 for red, got %d", got)
	}
}

func TestFromImageRejectsZeroArea(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 0, 10))
	if _, err := FromImage(img, 600); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestScaledSize(t *testing.T) {
	cases := []struct {
		w, h, cap    int
		wantW, wantH int
	}{
		{1200, 600, 600, 600, 300},
		{600, 1200, 600, 300, 600},
		{1001, 3, 600, 600, 2},
		{4000, 1, 600, 600, 1},
		{500, 400, 600, 500, 400},
	}
	for _, tc := range cases {
		w, h := ScaledSize(tc.w, tc.h, tc.cap)
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("ScaledSize(%d, %d, %d) = %dx%d, want %dx%d", tc.w, tc.h, tc.cap, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestSniffReportsFormat(t *testing.T) {
	format, err := Sniff(encodePNG(t, solid(3, 3, color.White)), defaultOptions())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if format != "png" {
		t.Fatalf("expected png, got %s", format)
	}
}

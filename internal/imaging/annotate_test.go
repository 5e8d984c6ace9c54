package imaging

import (
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/ironsheep/detcrop/internal/detection"
)

func TestAnnotate(t *testing.T) {
	base := createInMemoryImage(100, 100, color.RGBA{0, 0, 0, 255})
	src := NewSource(base)

	out := Annotate(src, []AnnotatedBox{{
		Box:        detection.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.6, Height: 0.6},
		ClassID:    1,
		Confidence: 0.87,
	}})

	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 100 {
		t.Fatalf("dimensions: got %v", out.Bounds())
	}

	want := ClassColor(1)
	if got := out.NRGBAAt(20, 50); got != want {
		t.Errorf("left edge: got %v, want %v", got, want)
	}
	if got := out.NRGBAAt(79, 50); got != want {
		t.Errorf("right edge: got %v, want %v", got, want)
	}
	if got := out.NRGBAAt(50, 50); got != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("interior should be untouched: got %v", got)
	}

	// The source must not change.
	if r, g, b := rgb8(base.At(20, 50)); r != 0 || g != 0 || b != 0 {
		t.Error("Annotate modified the source image")
	}
}

func TestAnnotate_SkipsDegenerate(t *testing.T) {
	src := NewSource(createInMemoryImage(50, 50, color.RGBA{0, 0, 0, 255}))

	out := Annotate(src, []AnnotatedBox{{Box: detection.NormalizedBox{X: 0.5, Y: 0.5, Width: 0, Height: 0}}})
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			if out.NRGBAAt(x, y) != (color.NRGBA{0, 0, 0, 255}) {
				t.Fatalf("pixel (%d,%d) changed for a degenerate box", x, y)
			}
		}
	}
}

func TestAnnotate_EmptySource(t *testing.T) {
	out := Annotate(NewSource(nil), nil)
	if !out.Bounds().Empty() {
		t.Errorf("empty source should give empty output, got %v", out.Bounds())
	}
}

func TestAnnotateBase64(t *testing.T) {
	src := NewSource(createPatternImage(80, 60))

	result, err := AnnotateBase64(src, []AnnotatedBox{
		{Box: detection.NormalizedBox{X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3}, Confidence: 0.5},
	})
	if err != nil {
		t.Fatalf("AnnotateBase64 failed: %v", err)
	}
	if result.MimeType != "image/png" || result.Boxes != 1 {
		t.Errorf("unexpected result metadata: %+v", result)
	}

	decoded, err := base64.StdEncoding.DecodeString(result.ImageBase64)
	if err != nil {
		t.Fatalf("failed to decode base64: %v", err)
	}
	img, err := png.Decode(strings.NewReader(string(decoded)))
	if err != nil {
		t.Fatalf("failed to decode PNG: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 80, 60) {
		t.Errorf("bounds: got %v", img.Bounds())
	}
}

func TestDrawLabel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	fg := color.RGBA{255, 255, 255, 255}
	bg := color.RGBA{0, 0, 0, 180}
	drawLabel(img, 10, 10, "0.95", fg, bg)

	hasWhite := false
	hasBlack := false
	for y := 9; y < 20; y++ {
		for x := 9; x < 30; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			if r > 200<<8 {
				hasWhite = true
			}
			if r < 50<<8 {
				hasBlack = true
			}
		}
	}

	if !hasWhite {
		t.Error("label should have white pixels (text)")
	}
	if !hasBlack {
		t.Error("label should have dark pixels (background)")
	}
}

func TestDrawLabel_BoundsCheck(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))

	fg := color.RGBA{255, 255, 255, 255}
	bg := color.RGBA{0, 0, 0, 180}

	// These should not panic even if label extends past bounds
	drawLabel(img, 15, 15, "100.00", fg, bg)
	drawLabel(img, 0, 0, "0.1", fg, bg)
	drawLabel(img, -5, -5, "test", fg, bg)
	drawLabel(img, 10, 10, "", fg, bg)
}

package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/detcrop/internal/detection"
)

// AnnotatedBox is one box to draw on an annotation preview.
type AnnotatedBox struct {
	Box        detection.NormalizedBox
	ClassID    int
	Confidence float64
}

// AnnotateResult contains the annotated preview encoded as base64 PNG.
type AnnotateResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Boxes       int    `json:"boxes"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Annotate draws every box outline and its confidence onto a copy of src.
//
// Boxes that round to an empty pixel rect are skipped. src is not modified.
func Annotate(src *SourceImage, boxes []AnnotatedBox) *image.NRGBA {
	if src.Image() == nil {
		return image.NewNRGBA(image.Rectangle{})
	}

	// imaging.Clone rebases to (0,0), which is the space PixelRect returns.
	out := imaging.Clone(src.Image())
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	bg := color.NRGBA{0, 0, 0, 180}
	fg := color.NRGBA{255, 255, 255, 255}

	for _, b := range boxes {
		rect, err := detection.PixelRect(b.Box, w, h)
		if err != nil {
			continue
		}
		c := ClassColor(b.ClassID)
		drawOutline(out, rect, c, 2)
		drawLabel(out, rect.Min.X+2, rect.Min.Y+2, fmt.Sprintf("%.2f", b.Confidence), fg, bg)
	}
	return out
}

// AnnotateBase64 runs Annotate and encodes the result as PNG.
func AnnotateBase64(src *SourceImage, boxes []AnnotatedBox) (*AnnotateResult, error) {
	out := Annotate(src, boxes)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &AnnotateResult{
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
		Boxes:       len(boxes),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// drawOutline strokes rect with the given thickness, inset so it stays inside rect.
func drawOutline(img draw.Image, rect image.Rectangle, c color.Color, thickness int) {
	src := image.NewUniform(c)
	for i := 0; i < thickness; i++ {
		r := rect.Inset(i)
		if r.Empty() {
			return
		}
		draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), src, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), src, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	}
}

// drawLabel draws a simple text label at the given position using a 3x5 pixel
// font for digits, '.' and ','. Unknown runes advance the cursor without drawing.
func drawLabel(img draw.Image, x, y int, text string, fg, bg color.Color) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
		'.': {"000", "000", "000", "000", "010"},
		',': {"000", "000", "000", "010", "010"},
	}

	bounds := img.Bounds()
	charWidth := 4
	labelWidth := len(text) * charWidth
	labelHeight := 7

	inside := func(px, py int) bool {
		return px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y
	}

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			if px, py := x+dx, y+dy; inside(px, py) {
				img.Set(px, py, bg)
			}
		}
	}

	cx := x
	for _, ch := range text {
		glyph, ok := glyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, line := range glyph {
			for col, pixel := range line {
				if px, py := cx+col, y+row; pixel == '1' && inside(px, py) {
					img.Set(px, py, fg)
				}
			}
		}
		cx += charWidth
	}
}

package detection

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrInvalidImageDimensions reports a source image with zero or negative size.
	// Nothing in a batch can be normalized against it.
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")

	// ErrDegenerateBox reports a detection whose box has no usable area.
	// The detection is skipped; the rest of the batch continues.
	ErrDegenerateBox = errors.New("degenerate box")
)

// DefaultMinArea is the smallest normalized area a clamped box may keep.
const DefaultMinArea = 1e-6

// RawDetection is a single record as emitted by a detector.
//
// CX, CY, W and H are center-based and may be either normalized or in pixels.
// See Normalize for the disambiguation rule.
type RawDetection struct {
	CX         float64 `json:"cx"`
	CY         float64 `json:"cy"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`

	// Angle is the rotation of an oriented box in radians. Zero means axis aligned.
	Angle float64 `json:"angle,omitempty"`

	// Label is an optional display name supplied by the detector. When empty the
	// label lookup resolves ClassID.
	Label string `json:"label,omitempty"`
}

// CenterBox is a normalized, center-based box.
type CenterBox struct {
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

// NormalizedBox is a top-left based box with every edge inside [0,1].
type NormalizedBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns Width*Height.
func (b NormalizedBox) Area() float64 {
	return b.Width * b.Height
}

// Valid reports whether the box lies fully inside the unit square with
// non-negative extent.
func (b NormalizedBox) Valid() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width >= 0 && b.Height >= 0 &&
		b.X+b.Width <= 1 && b.Y+b.Height <= 1
}

// PixelRect maps b onto an image of width x height pixels.
//
// Each edge is rounded to the nearest pixel and re-clamped to [0,width]x[0,height]
// so rounding can never push the rectangle outside the image. A rectangle that
// collapses to zero width or height returns ErrDegenerateBox.
func PixelRect(b NormalizedBox, width, height int) (image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: %dx%d", ErrInvalidImageDimensions, width, height)
	}

	w, h := float64(width), float64(height)
	x1 := clampInt(int(math.Round(b.X*w)), 0, width)
	y1 := clampInt(int(math.Round(b.Y*h)), 0, height)
	x2 := clampInt(int(math.Round((b.X+b.Width)*w)), 0, width)
	y2 := clampInt(int(math.Round((b.Y+b.Height)*h)), 0, height)

	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, fmt.Errorf("%w: pixel rect (%d,%d)-(%d,%d) is empty", ErrDegenerateBox, x1, y1, x2, y2)
	}
	return image.Rect(x1, y1, x2, y2), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUnit(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

package detection

import (
	"fmt"
	"math"
)

// Clamp converts a center box to top-left form and clips it to the unit square.
//
// The returned box always satisfies 0 <= x <= x+width <= 1 and the same for y.
// Boxes whose clipped area is below minArea, or exactly zero, return
// ErrDegenerateBox. A minArea of zero or less only rejects empty boxes.
func Clamp(b CenterBox, minArea float64) (NormalizedBox, error) {
	return ClampBox(NormalizedBox{
		X:      b.CX - b.W/2,
		Y:      b.CY - b.H/2,
		Width:  b.W,
		Height: b.H,
	}, minArea)
}

// ClampBox clips an already top-left based box to the unit square.
// See Clamp for the area policy.
func ClampBox(b NormalizedBox, minArea float64) (NormalizedBox, error) {
	x1, x2 := clampUnit(b.X), clampUnit(b.X+b.Width)
	y1, y2 := clampUnit(b.Y), clampUnit(b.Y+b.Height)

	out := NormalizedBox{
		X:      x1,
		Y:      y1,
		Width:  fitExtent(x1, x2),
		Height: fitExtent(y1, y2),
	}

	area := out.Area()
	if area <= 0 || area < minArea {
		return out, fmt.Errorf("%w: clamped area %.3g below minimum %.3g", ErrDegenerateBox, area, minArea)
	}
	return out, nil
}

// fitExtent returns hi-lo, never negative, shrunk by an ulp when float rounding
// would otherwise put lo+extent past hi.
func fitExtent(lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	ext := hi - lo
	for ext > 0 && lo+ext > hi {
		ext = math.Nextafter(ext, 0)
	}
	return ext
}

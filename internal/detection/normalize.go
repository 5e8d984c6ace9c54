package detection

import (
	"fmt"
	"math"
)

// Normalize converts a raw detection into a normalized center box for an image of
// width x height pixels.
//
// If any of CX, CY, W or H exceeds 1.0 the record is treated as pixel-space and all
// four fields are divided by the image size (CX and W by width, CY and H by height).
// Otherwise the record is returned unscaled. A non-zero Angle is reduced to the
// axis-aligned rectangle enclosing the rotated box; the rotation is done in pixel
// space so that non-square images keep their geometry.
//
// # Errors
//
//   - ErrInvalidImageDimensions if width or height is not positive
//   - ErrDegenerateBox if any coordinate is NaN or infinite
func Normalize(d RawDetection, width, height int) (CenterBox, error) {
	if width <= 0 || height <= 0 {
		return CenterBox{}, fmt.Errorf("%w: %dx%d", ErrInvalidImageDimensions, width, height)
	}
	for _, v := range []float64{d.CX, d.CY, d.W, d.H, d.Angle} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return CenterBox{}, fmt.Errorf("%w: non-finite coordinate", ErrDegenerateBox)
		}
	}

	w, h := float64(width), float64(height)
	box := CenterBox{CX: d.CX, CY: d.CY, W: d.W, H: d.H}
	if IsPixelSpace(d) {
		box = CenterBox{CX: d.CX / w, CY: d.CY / h, W: d.W / w, H: d.H / h}
	}

	if d.Angle != 0 {
		// Rotate in pixels, then come back to fractions.
		pw, ph := box.W*w, box.H*h
		sin, cos := math.Abs(math.Sin(d.Angle)), math.Abs(math.Cos(d.Angle))
		box.W = (pw*cos + ph*sin) / w
		box.H = (pw*sin + ph*cos) / h
	}

	return box, nil
}

// IsPixelSpace reports whether d is expressed in absolute pixels.
func IsPixelSpace(d RawDetection) bool {
	return d.CX > 1 || d.CY > 1 || d.W > 1 || d.H > 1
}

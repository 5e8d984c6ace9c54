// Package detection turns raw detector output into canonical normalized boxes.
//
// A detector reports center-based boxes whose units are not fixed: some models emit
// fractions of the image size, others emit absolute pixels. This package fixes one
// canonical representation before anything downstream touches the numbers.
//
// # Pipeline Stages
//
//  1. Normalize: RawDetection -> CenterBox in [0,1], resolving the unit ambiguity
//  2. Clamp: CenterBox -> NormalizedBox (top-left form) clipped to the unit square
//  3. PixelRect: NormalizedBox -> image.Rectangle in source pixel space
//
// # Unit Disambiguation
//
// If any of cx, cy, w or h exceeds 1.0, all four are treated as pixels and divided
// by the image width (cx, w) and height (cy, h). Otherwise the values are taken as
// already normalized. The rule is all-or-nothing so that a single box never mixes
// units. Upstream detectors should emit one unambiguous unit whenever possible.
//
// # Oriented Boxes
//
// RawDetection.Angle carries the rotation of an oriented bounding box in radians.
// A rotated box is reduced to its axis-aligned enclosing rectangle for cropping.
//
// # Errors
//
// Two sentinel errors classify failures and are matched with errors.Is:
//   - ErrInvalidImageDimensions: the image size is unusable, fatal for a batch
//   - ErrDegenerateBox: a single detection collapsed to nothing, skip it and continue
package detection

// Package imaging provides the pixel-level stages of the crop pipeline.
//
// This package decodes source images, cuts detection regions out of them, fits
// the regions onto a fixed-size canvas and renders annotation previews. All
// operations work with standard Go image.Image types and use a coordinate system
// where (0,0) is at the top-left corner, X increases rightward, and Y increases downward.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// Normalized boxes come from package detection and are mapped to pixels with
// detection.PixelRect, which guarantees the region stays inside the image.
//
// # Resize Policies
//
// Crops are fitted onto a Width x Height canvas (default 224x224) using one of:
//   - Letterbox (default): scale = min(W/w, H/h), aspect preserved, centered on a
//     solid pad color (default #727272)
//   - Stretch: direct resize to W x H, aspect ignored
//
// Resampling defaults to Lanczos to avoid aliasing when small crops are enlarged.
//
// # Thread Safety
//
// SourceImage and Resizer are immutable after construction and safe for concurrent
// use. Extract and Resize never modify their input.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Empty images or boxes that round to an empty pixel span
//   - Unknown resize policies, filters or malformed colors
//   - File I/O and decode errors during image loading
package imaging

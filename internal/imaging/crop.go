package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/detcrop/internal/detection"
)

// Extract cuts the region described by box out of src.
//
// The normalized box is mapped to pixels with detection.PixelRect, so the region
// is always inside the source bounds. The returned rectangle is in the 0-based
// pixel space of the source (independent of src.Bounds().Min), matching what a
// frontend draws on the original image.
//
// # Errors
//
//   - detection.ErrInvalidImageDimensions if src is empty
//   - detection.ErrDegenerateBox if the box rounds to an empty pixel span
func Extract(src *SourceImage, box detection.NormalizedBox) (*image.NRGBA, image.Rectangle, error) {
	rect, err := detection.PixelRect(box, src.Width(), src.Height())
	if err != nil {
		return nil, image.Rectangle{}, err
	}

	bounds := src.Bounds()
	cropped := imaging.Crop(src.Image(), rect.Add(bounds.Min))

	// imaging.Crop intersects with the image bounds; that cannot shrink a rect
	// produced by PixelRect, but an empty result would poison every later stage.
	if cropped.Bounds().Empty() {
		return nil, image.Rectangle{}, fmt.Errorf("%w: crop %v outside bounds %v", detection.ErrDegenerateBox, rect, bounds)
	}

	return cropped, rect, nil
}

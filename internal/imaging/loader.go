package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"os"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// SourceImage is an immutable decoded image and its pixel dimensions.
//
// A SourceImage belongs to one pipeline invocation. It is never mutated after
// construction, so concurrent crop extraction from the same SourceImage is safe.
type SourceImage struct {
	img    image.Image
	format string
}

// NewSource wraps an already decoded image.
//
// The format is reported as "memory". Dimension validation is left to the
// pipeline, which fails the batch with detection.ErrInvalidImageDimensions.
func NewSource(img image.Image) *SourceImage {
	return &SourceImage{img: img, format: "memory"}
}

// DecodeSource decodes an image from r.
//
// Supported formats are PNG, JPEG, GIF, BMP, TIFF and WebP.
func DecodeSource(r io.Reader) (*SourceImage, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &SourceImage{img: img, format: format}, nil
}

// DecodeSourceBytes decodes an in-memory upload.
func DecodeSourceBytes(data []byte) (*SourceImage, error) {
	return DecodeSource(bytes.NewReader(data))
}

// LoadSource opens and decodes the image file at path.
func LoadSource(path string) (*SourceImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	return DecodeSource(f)
}

// Image returns the decoded pixels. Callers must not modify them.
func (s *SourceImage) Image() image.Image {
	if s == nil {
		return nil
	}
	return s.img
}

// Bounds returns the pixel bounds of the image. Min is not necessarily (0,0).
func (s *SourceImage) Bounds() image.Rectangle {
	if s == nil || s.img == nil {
		return image.Rectangle{}
	}
	return s.img.Bounds()
}

// Width returns the width in pixels, 0 for an empty source.
func (s *SourceImage) Width() int {
	return s.Bounds().Dx()
}

// Height returns the height in pixels, 0 for an empty source.
func (s *SourceImage) Height() int {
	return s.Bounds().Dy()
}

// Format returns the decoder name ("png", "jpeg", ...) or "memory".
func (s *SourceImage) Format() string {
	if s == nil {
		return ""
	}
	return s.format
}

// DimensionsResult contains the width and height of an image.
type DimensionsResult struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the detected image format: "png", "jpeg", "gif", "bmp", "tiff" or "webp".
	Format string `json:"format"`
}

// GetDimensions reads only the header of the image at path.
//
// This avoids decoding the pixel data when a caller only needs the size, for
// example to validate pixel-space detections before running the pipeline.
func GetDimensions(path string) (*DimensionsResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	return &DimensionsResult{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}, nil
}

package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// ResizePolicy selects how a crop is fitted onto the fixed output canvas.
type ResizePolicy string

const (
	// Letterbox preserves the aspect ratio and pads the remainder with a solid color.
	Letterbox ResizePolicy = "letterbox"

	// Stretch scales directly to the canvas size, ignoring aspect ratio.
	Stretch ResizePolicy = "stretch"
)

// Defaults for the crop canvas. The pad color is the gray (114,114,114) YOLO uses
// for its own letterboxing.
const (
	DefaultCanvasWidth  = 224
	DefaultCanvasHeight = 224
	DefaultPadColor     = "#727272"
)

// ParseResizePolicy accepts "letterbox" or "stretch" (case-insensitive).
// An empty string selects Letterbox.
func ParseResizePolicy(s string) (ResizePolicy, error) {
	switch ResizePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Letterbox:
		return Letterbox, nil
	case Stretch:
		return Stretch, nil
	default:
		return "", fmt.Errorf("unknown resize policy: %s", s)
	}
}

// ParseFilter maps a filter name to a resampling filter.
//
// Supported names: "lanczos" (default), "catmullrom", "box", "linear". Box is the
// area-averaging filter; Lanczos gives the sharpest result on small crops.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lanczos":
		return imaging.Lanczos, nil
	case "catmullrom":
		return imaging.CatmullRom, nil
	case "box", "area":
		return imaging.Box, nil
	case "linear":
		return imaging.Linear, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter: %s", name)
	}
}

// ResizeOptions configures a Resizer. Zero values select the defaults.
type ResizeOptions struct {
	Width    int
	Height   int
	Policy   string
	Filter   string
	PadColor string
}

// Resizer fits crops onto a fixed Width x Height canvas.
//
// A Resizer is immutable and safe for concurrent use. Output is deterministic:
// identical input and options always produce identical pixels.
type Resizer struct {
	width  int
	height int
	policy ResizePolicy
	filter imaging.ResampleFilter
	pad    color.NRGBA
}

// NewResizer validates opts and builds a Resizer.
func NewResizer(opts ResizeOptions) (*Resizer, error) {
	if opts.Width == 0 {
		opts.Width = DefaultCanvasWidth
	}
	if opts.Height == 0 {
		opts.Height = DefaultCanvasHeight
	}
	if opts.Width < 0 || opts.Height < 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", opts.Width, opts.Height)
	}
	if opts.PadColor == "" {
		opts.PadColor = DefaultPadColor
	}

	policy, err := ParseResizePolicy(opts.Policy)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	pad, err := ParseColor(opts.PadColor)
	if err != nil {
		return nil, fmt.Errorf("invalid pad color: %w", err)
	}

	return &Resizer{
		width:  opts.Width,
		height: opts.Height,
		policy: policy,
		filter: filter,
		pad:    pad,
	}, nil
}

// Size returns the canvas dimensions.
func (r *Resizer) Size() (width, height int) {
	return r.width, r.height
}

// Policy returns the configured resize policy.
func (r *Resizer) Policy() ResizePolicy {
	return r.policy
}

// Resize fits img onto the canvas according to the configured policy.
// The result is always exactly Width x Height.
func (r *Resizer) Resize(img image.Image) *image.NRGBA {
	if r.policy == Stretch {
		return imaging.Resize(img, r.width, r.height, r.filter)
	}
	return r.letterbox(img)
}

// letterbox scales img by min(Tw/w, Th/h) and pastes it centered on the pad color.
func (r *Resizer) letterbox(img image.Image) *image.NRGBA {
	canvas := imaging.New(r.width, r.height, r.pad)

	b := img.Bounds()
	if b.Empty() {
		return canvas
	}

	scale := math.Min(float64(r.width)/float64(b.Dx()), float64(r.height)/float64(b.Dy()))
	w := clampDim(int(math.Round(float64(b.Dx())*scale)), r.width)
	h := clampDim(int(math.Round(float64(b.Dy())*scale)), r.height)

	resized := imaging.Resize(img, w, h, r.filter)
	return imaging.PasteCenter(canvas, resized)
}

func clampDim(v, limit int) int {
	if v < 1 {
		return 1
	}
	if v > limit {
		return limit
	}
	return v
}

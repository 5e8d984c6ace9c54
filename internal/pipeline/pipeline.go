// Package pipeline turns one batch of raw detections into frontend records.
//
// Each detection is normalized, clamped, cropped from the source image,
// resized onto the crop canvas and persisted. Detections that collapse to
// degenerate boxes are dropped, crop write failures follow the configured
// persist policy, and one retention sweep runs after every save of the batch
// has finished. A Pipeline keeps no state between Process calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/detcrop/internal/cropstore"
	"github.com/ironsheep/detcrop/internal/detection"
	"github.com/ironsheep/detcrop/internal/imaging"
	"github.com/ironsheep/detcrop/internal/logging"
	"github.com/ironsheep/detcrop/internal/metrics"
)

// PersistPolicy selects what happens to a record whose crop failed to save.
type PersistPolicy string

const (
	// PersistOmit keeps the record without a cropped_path.
	PersistOmit PersistPolicy = "omit"
	// PersistSkip drops the record.
	PersistSkip PersistPolicy = "skip"
)

// ParsePersistPolicy maps a config value to a PersistPolicy. Empty selects omit.
func ParsePersistPolicy(s string) (PersistPolicy, error) {
	switch PersistPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PersistOmit:
		return PersistOmit, nil
	case PersistSkip:
		return PersistSkip, nil
	default:
		return "", fmt.Errorf("unknown persist failure policy: %s", s)
	}
}

// DetectionRecord is one surviving detection as returned to callers.
type DetectionRecord struct {
	Label       string                  `json:"label"`
	Confidence  float64                 `json:"confidence"`
	ClassID     int                     `json:"class_id"`
	BBox        detection.NormalizedBox `json:"bbox"`
	CroppedPath string                  `json:"cropped_path,omitempty"`
}

// Options configures a Pipeline. Resizer is required. A nil Store disables
// crop persistence and records carry no cropped_path.
type Options struct {
	Labels         detection.Labels
	Resizer        *imaging.Resizer
	Store          *cropstore.Store
	MinArea        float64
	MaxDetections  int // 0 means unlimited
	Workers        int // <= 1 processes sequentially
	PersistFailure PersistPolicy
	URLPrefix      string // prepended to crop filenames; empty uses the file path
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Pipeline processes detection batches. It is safe for concurrent use.
type Pipeline struct {
	labels        detection.Labels
	resizer       *imaging.Resizer
	store         *cropstore.Store
	minArea       float64
	maxDetections int
	workers       int
	persist       PersistPolicy
	urlPrefix     string
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// New validates opts and returns a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Resizer == nil {
		return nil, fmt.Errorf("resizer is required")
	}
	if opts.MinArea < 0 || opts.MinArea >= 1 {
		return nil, fmt.Errorf("min area must be in [0,1), got %g", opts.MinArea)
	}
	if opts.MaxDetections < 0 {
		return nil, fmt.Errorf("max detections must be >= 0, got %d", opts.MaxDetections)
	}
	persist, err := ParsePersistPolicy(string(opts.PersistFailure))
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	return &Pipeline{
		labels:        opts.Labels,
		resizer:       opts.Resizer,
		store:         opts.Store,
		minArea:       opts.MinArea,
		maxDetections: opts.MaxDetections,
		workers:       workers,
		persist:       persist,
		urlPrefix:     opts.URLPrefix,
		logger:        logging.OrDefault(opts.Logger).With("component", "pipeline"),
		metrics:       opts.Metrics,
	}, nil
}

// Store returns the crop store, or nil when persistence is disabled.
func (p *Pipeline) Store() *cropstore.Store { return p.store }

// Process returns one record per surviving detection, in input order.
//
// Invalid source dimensions and context cancellation abort the batch. Every
// other failure is per detection: degenerate boxes are dropped and crop
// persist failures follow the persist policy.
func (p *Pipeline) Process(ctx context.Context, detections []detection.RawDetection, src *imaging.SourceImage) ([]DetectionRecord, error) {
	start := time.Now()
	ctx, requestID := ensureRequestID(ctx)
	logger := p.logger.With("request_id", requestID)

	width, height := src.Width(), src.Height()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: source image is %dx%d", detection.ErrInvalidImageDimensions, width, height)
	}

	batch := detections
	if p.maxDetections > 0 && len(batch) > p.maxDetections {
		for range len(batch) - p.maxDetections {
			p.metrics.RecordDropped(metrics.ReasonMaxDetections)
		}
		logger.Debug("ignoring detections beyond limit",
			"received", len(batch),
			"max_detections", p.maxDetections)
		batch = batch[:p.maxDetections]
	}

	slots := make([]*DetectionRecord, len(batch))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range batch {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, ok := p.processOne(ctx, logger, i, batch[i], src)
			if ok {
				slots[i] = &rec
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]DetectionRecord, 0, len(batch))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}

	if p.store != nil && len(batch) > 0 {
		if _, err := p.store.Sweep(ctx); err != nil {
			// Retention trouble never fails a batch; the next sweep retries.
			logger.Warn("retention sweep failed", "error", err)
		}
	}

	p.metrics.RecordProcessDuration(time.Since(start))
	logger.Debug("batch processed",
		"received", len(detections),
		"emitted", len(records),
		"duration", time.Since(start))

	return records, nil
}

// processOne runs a single detection through every stage. ok is false when
// the detection is dropped.
func (p *Pipeline) processOne(ctx context.Context, logger *slog.Logger, index int, d detection.RawDetection, src *imaging.SourceImage) (rec DetectionRecord, ok bool) {
	drop := func(reason string, err error) (DetectionRecord, bool) {
		p.metrics.RecordDropped(reason)
		logger.Debug("dropping detection", "index", index, "class_id", d.ClassID, "reason", reason, "error", err)
		return DetectionRecord{}, false
	}

	center, err := detection.Normalize(d, src.Width(), src.Height())
	if err != nil {
		return drop(metrics.ReasonDegenerate, err)
	}
	box, err := detection.Clamp(center, p.minArea)
	if err != nil {
		return drop(metrics.ReasonDegenerate, err)
	}

	rec = DetectionRecord{
		Label:      p.labels.Resolve(d),
		Confidence: d.Confidence,
		ClassID:    d.ClassID,
		BBox:       box,
	}

	if p.store == nil {
		if _, err := detection.PixelRect(box, src.Width(), src.Height()); err != nil {
			return drop(metrics.ReasonDegenerate, err)
		}
		p.metrics.RecordProcessed()
		return rec, true
	}

	crop, _, err := imaging.Extract(src, box)
	if err != nil {
		return drop(metrics.ReasonDegenerate, err)
	}

	stored, err := p.store.Save(ctx, p.resizer.Resize(crop), rec.Label, index, rec.Confidence)
	switch {
	case err == nil:
		rec.CroppedPath = p.croppedPath(stored)
	case errors.Is(err, cropstore.ErrCropPersist) && p.persist == PersistOmit:
		logger.Warn("crop not saved, omitting path", "index", index, "error", err)
	default:
		logger.Warn("crop not saved, dropping detection", "index", index, "error", err)
		return drop(metrics.ReasonPersist, err)
	}

	p.metrics.RecordProcessed()
	return rec, true
}

func (p *Pipeline) croppedPath(rec cropstore.StoredCropRecord) string {
	if p.urlPrefix == "" {
		return rec.Path
	}
	return strings.TrimSuffix(p.urlPrefix, "/") + "/" + rec.Filename
}

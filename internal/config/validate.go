package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ironsheep/detcrop/internal/imaging"
	"github.com/ironsheep/detcrop/internal/logging"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Crops.Dir) == "" {
		add("crops.dir must not be empty")
	}
	if c.Crops.RetentionCount < 1 {
		add("crops.retention_count must be >= 1, got %d", c.Crops.RetentionCount)
	}
	if c.Crops.JPEGQuality < 1 || c.Crops.JPEGQuality > 100 {
		add("crops.jpeg_quality must be in [1,100], got %d", c.Crops.JPEGQuality)
	}
	if c.Crops.StaleTempAge <= 0 {
		add("crops.stale_temp_age must be positive, got %s", c.Crops.StaleTempAge)
	}
	switch c.Crops.PersistFailure {
	case PersistOmit, PersistSkip:
	default:
		add("crops.persist_failure must be %q or %q, got %q", PersistOmit, PersistSkip, c.Crops.PersistFailure)
	}
	if c.Crops.Width <= 0 || c.Crops.Height <= 0 {
		add("crops.width and crops.height must be positive, got %dx%d", c.Crops.Width, c.Crops.Height)
	}
	if _, err := imaging.ParseResizePolicy(c.Crops.ResizePolicy); err != nil {
		add("crops.resize_policy: %w", err)
	}
	if _, err := imaging.ParseFilter(c.Crops.ResampleFilter); err != nil {
		add("crops.resample_filter: %w", err)
	}
	if _, err := imaging.ParseColor(c.Crops.PadColor); err != nil {
		add("crops.pad_color: %w", err)
	}

	if c.Detection.MinArea < 0 || c.Detection.MinArea >= 1 {
		add("detection.min_area must be in [0,1), got %g", c.Detection.MinArea)
	}
	if c.Detection.MaxDetections < 0 {
		add("detection.max_detections must be >= 0, got %d", c.Detection.MaxDetections)
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		add("detection.confidence_threshold must be in [0,1], got %g", c.Detection.ConfidenceThreshold)
	}
	if c.Detection.IoUThreshold < 0 || c.Detection.IoUThreshold > 1 {
		add("detection.iou_threshold must be in [0,1], got %g", c.Detection.IoUThreshold)
	}

	if c.Pipeline.Workers < 0 {
		add("pipeline.workers must be >= 0, got %d", c.Pipeline.Workers)
	}

	if c.Inference.URL != "" {
		u, err := url.Parse(c.Inference.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("inference.url must be an http(s) URL, got %q", c.Inference.URL)
		}
	}
	if c.Inference.Timeout <= 0 {
		add("inference.timeout must be positive, got %s", c.Inference.Timeout)
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		add("metrics.listen must be set when metrics are enabled")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

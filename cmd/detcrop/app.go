package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ironsheep/detcrop/internal/cropstore"
	"github.com/ironsheep/detcrop/internal/detection"
	"github.com/ironsheep/detcrop/internal/imaging"
	"github.com/ironsheep/detcrop/internal/inference"
	"github.com/ironsheep/detcrop/internal/metrics"
	"github.com/ironsheep/detcrop/internal/pipeline"
)

// app is the wired component graph for one command invocation.
type app struct {
	registry *prometheus.Registry // nil when metrics are disabled
	metrics  *metrics.Metrics
	store    *cropstore.Store
	pipeline *pipeline.Pipeline
	detector *inference.Client // nil without inference.url
}

func (c *cli) buildApp() (*app, error) {
	cfg := c.cfg
	a := &app{}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		m, err := metrics.New(a.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		a.metrics = m
	}

	var labels detection.Labels
	if cfg.Detection.LabelsFile != "" {
		l, err := detection.LoadLabels(cfg.Detection.LabelsFile)
		if err != nil {
			return nil, err
		}
		labels = l
		c.logger.Debug("labels loaded", "path", cfg.Detection.LabelsFile, "classes", len(labels))
	}

	resizer, err := imaging.NewResizer(cfg.ResizeOptions())
	if err != nil {
		return nil, err
	}

	store, err := cropstore.New(cfg.StoreOptions(c.logger, a.metrics))
	if err != nil {
		return nil, err
	}
	a.store = store

	persist, err := pipeline.ParsePersistPolicy(cfg.Crops.PersistFailure)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Options{
		Labels:         labels,
		Resizer:        resizer,
		Store:          store,
		MinArea:        cfg.Detection.MinArea,
		MaxDetections:  cfg.Detection.MaxDetections,
		Workers:        cfg.Pipeline.Workers,
		PersistFailure: persist,
		URLPrefix:      cfg.Crops.URLPrefix,
		Logger:         c.logger,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.pipeline = p

	if cfg.Inference.URL != "" {
		client, err := inference.NewClient(inference.Options{
			URL:     cfg.Inference.URL,
			Timeout: cfg.Inference.Timeout,
			Thresholds: inference.Thresholds{
				Confidence:    cfg.Detection.ConfidenceThreshold,
				IoU:           cfg.Detection.IoUThreshold,
				MaxDetections: cfg.Detection.MaxDetections,
			},
			Logger: c.logger,
		})
		if err != nil {
			return nil, err
		}
		a.detector = client
	}

	return a, nil
}

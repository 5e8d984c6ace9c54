package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for settings.
const (
	DefaultCropsDir            = "crops"
	DefaultURLPrefix           = "/crops/"
	DefaultPersistFailure      = PersistOmit
	DefaultConfidenceThreshold = 0.15
	DefaultIoUThreshold        = 0.45
	DefaultInferenceTimeout    = 30 * time.Second
)

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crops.dir", DefaultCropsDir)
	v.SetDefault("crops.retention_count", 100)
	v.SetDefault("crops.url_prefix", DefaultURLPrefix)
	v.SetDefault("crops.jpeg_quality", 90)
	v.SetDefault("crops.stale_temp_age", 10*time.Minute)
	v.SetDefault("crops.persist_failure", DefaultPersistFailure)
	v.SetDefault("crops.width", 224)
	v.SetDefault("crops.height", 224)
	v.SetDefault("crops.resize_policy", "letterbox")
	v.SetDefault("crops.resample_filter", "lanczos")
	v.SetDefault("crops.pad_color", "#727272")

	v.SetDefault("detection.min_area", 1e-6)
	v.SetDefault("detection.max_detections", 0)
	v.SetDefault("detection.confidence_threshold", DefaultConfidenceThreshold)
	v.SetDefault("detection.iou_threshold", DefaultIoUThreshold)
	v.SetDefault("detection.labels_file", "")

	v.SetDefault("pipeline.workers", 1)

	v.SetDefault("inference.url", "")
	v.SetDefault("inference.timeout", DefaultInferenceTimeout)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

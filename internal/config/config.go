// Package config loads detcrop settings from defaults, an optional YAML file
// and DETCROP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ironsheep/detcrop/internal/cropstore"
	"github.com/ironsheep/detcrop/internal/imaging"
	"github.com/ironsheep/detcrop/internal/metrics"
)

// EnvPrefix prefixes every environment override, e.g. DETCROP_CROPS_DIR.
const EnvPrefix = "DETCROP"

// Persist failure policies.
const (
	PersistOmit = "omit" // keep the record, drop its cropped_path
	PersistSkip = "skip" // drop the record
)

// Config is the complete settings tree.
type Config struct {
	Crops     CropsConfig     `mapstructure:"crops"`
	Detection DetectionConfig `mapstructure:"detection"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Inference InferenceConfig `mapstructure:"inference"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// CropsConfig covers crop rendering and the crop directory.
type CropsConfig struct {
	Dir            string        `mapstructure:"dir"`
	RetentionCount int           `mapstructure:"retention_count"`
	URLPrefix      string        `mapstructure:"url_prefix"`
	JPEGQuality    int           `mapstructure:"jpeg_quality"`
	StaleTempAge   time.Duration `mapstructure:"stale_temp_age"`
	PersistFailure string        `mapstructure:"persist_failure"`
	Width          int           `mapstructure:"width"`
	Height         int           `mapstructure:"height"`
	ResizePolicy   string        `mapstructure:"resize_policy"`
	ResampleFilter string        `mapstructure:"resample_filter"`
	PadColor       string        `mapstructure:"pad_color"`
}

// DetectionConfig covers detection filtering. The thresholds are forwarded to
// the detector and never applied locally.
type DetectionConfig struct {
	MinArea             float64 `mapstructure:"min_area"`
	MaxDetections       int     `mapstructure:"max_detections"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	IoUThreshold        float64 `mapstructure:"iou_threshold"`
	LabelsFile          string  `mapstructure:"labels_file"`
}

type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

type InferenceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint served alongside serve.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewViper returns a viper instance with defaults and env overrides wired.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfigPaths lists the directories searched for detcrop.yaml when no
// explicit file is given.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "detcrop"))
	}
	return paths
}

// Load reads configFile, or searches DefaultConfigPaths when it is empty, and
// returns validated settings. A missing searched-for file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("detcrop")
		v.SetConfigType("yaml")
		for _, path := range DefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates whatever v currently holds.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns validated defaults without reading files or env.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := FromViper(v)
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// ResizeOptions returns the crop canvas settings.
func (c *Config) ResizeOptions() imaging.ResizeOptions {
	return imaging.ResizeOptions{
		Width:    c.Crops.Width,
		Height:   c.Crops.Height,
		Policy:   c.Crops.ResizePolicy,
		Filter:   c.Crops.ResampleFilter,
		PadColor: c.Crops.PadColor,
	}
}

// StoreOptions returns the crop directory settings.
func (c *Config) StoreOptions(logger *slog.Logger, m *metrics.Metrics) cropstore.Options {
	return cropstore.Options{
		Dir:            c.Crops.Dir,
		RetentionCount: c.Crops.RetentionCount,
		JPEGQuality:    c.Crops.JPEGQuality,
		StaleTempAge:   c.Crops.StaleTempAge,
		Logger:         logger,
		Metrics:        m,
	}
}

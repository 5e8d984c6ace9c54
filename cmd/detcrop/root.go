package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ironsheep/detcrop/internal/config"
	"github.com/ironsheep/detcrop/internal/logging"
)

// cli carries state shared by every subcommand once PersistentPreRunE ran.
type cli struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// flagBindings maps persistent flags to config keys.
var flagBindings = map[string]string{
	"crops-dir":      "crops.dir",
	"retention":      "crops.retention_count",
	"url-prefix":     "crops.url_prefix",
	"resize-policy":  "crops.resize_policy",
	"labels":         "detection.labels_file",
	"max-detections": "detection.max_detections",
	"workers":        "pipeline.workers",
	"inference-url":  "inference.url",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

func newRootCommand() *cobra.Command {
	c := &cli{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "detcrop",
		Short:         "Detection post-processing and crop cache",
		Long:          "detcrop turns raw object-detection output into normalized boxes and saved crops, and keeps the crop directory bounded.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "Path to a YAML config file (default: ./detcrop.yaml or the user config dir)")
	flags.String("crops-dir", config.DefaultCropsDir, "Directory where crops are stored")
	flags.Int("retention", 100, "Number of most recent crops kept by a sweep")
	flags.String("url-prefix", config.DefaultURLPrefix, "Prefix for cropped_path in records; empty reports file paths")
	flags.String("resize-policy", "letterbox", "Crop resize policy: letterbox or stretch")
	flags.String("labels", "", "YAML label file (names: list or map)")
	flags.Int("max-detections", 0, "Ignore detections beyond this count (0 = unlimited)")
	flags.Int("workers", 1, "Detections processed in parallel per batch")
	flags.String("inference-url", "", "Base URL of the inference service")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")

	for flag, key := range flagBindings {
		if err := c.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		return c.initialize(cmd)
	}

	rootCmd.AddCommand(
		c.serveCommand(),
		c.processCommand(),
		c.sweepCommand(),
		c.listCommand(),
		versionCommand(),
	)

	return rootCmd
}

// initialize loads configuration and installs the logger.
func (c *cli) initialize(cmd *cobra.Command) error {
	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return err
	}

	logger, err := logging.Init(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logger
	logger.Debug("configuration loaded",
		"config_file", c.v.ConfigFileUsed(),
		"crops_dir", cfg.Crops.Dir,
		"retention_count", cfg.Crops.RetentionCount)
	return nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfig": "true"},
		Args:        cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "detcrop %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}

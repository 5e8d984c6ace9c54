package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ironsheep/detcrop/internal/detection"
	"github.com/ironsheep/detcrop/internal/imaging"
	"github.com/ironsheep/detcrop/internal/server"
)

type processFlags struct {
	image      string
	detections string
	detect     bool
	pretty     bool
}

func (c *cli) processCommand() *cobra.Command {
	var f processFlags

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Normalize one detection batch and save its crops",
		Long: `Normalize one detection batch against an image, save a crop per surviving
detection and print the records as JSON.

Detections are a JSON array of {cx, cy, w, h, confidence, class_id} read from
--detections (a file, or "-" for stdin). With --detect they come from the
inference service at inference.url instead.`,
		Example: `  detcrop process --image frame.jpg --detections dets.json
  detcrop process --image frame.jpg --detect --inference-url http://localhost:8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.process(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.image, "image", "i", "", "Source image path")
	cmd.Flags().StringVarP(&f.detections, "detections", "d", "", `Detections JSON file, or "-" for stdin`)
	cmd.Flags().BoolVar(&f.detect, "detect", false, "Run the inference service on the image")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "Indent the JSON output")
	_ = cmd.MarkFlagRequired("image")
	cmd.MarkFlagsMutuallyExclusive("detections", "detect")
	cmd.MarkFlagsOneRequired("detections", "detect")

	return cmd
}

func (c *cli) process(cmd *cobra.Command, f processFlags) error {
	ctx := cmd.Context()

	a, err := c.buildApp()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(f.image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	src, err := imaging.DecodeSourceBytes(data)
	if err != nil {
		return err
	}

	var dets []detection.RawDetection
	if f.detect {
		if a.detector == nil {
			return fmt.Errorf("--detect needs inference.url")
		}
		dets, err = a.detector.Detect(ctx, data, filepath.Base(f.image))
	} else {
		dets, err = readDetections(cmd.InOrStdin(), f.detections)
	}
	if err != nil {
		return err
	}

	records, err := a.pipeline.Process(ctx, dets, src)
	if err != nil {
		return err
	}

	result := server.ProcessResult{
		Image:      imaging.DimensionsResult{Width: src.Width(), Height: src.Height(), Format: src.Format()},
		Detections: records,
		Received:   len(dets),
		Emitted:    len(records),
	}
	return writeJSON(cmd.OutOrStdout(), result, f.pretty)
}

// readDetections decodes a JSON array from path, or from stdin when path is "-".
func readDetections(stdin io.Reader, path string) ([]detection.RawDetection, error) {
	var r io.Reader = stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open detections: %w", err)
		}
		defer file.Close()
		r = file
	}

	var dets []detection.RawDetection
	if err := json.NewDecoder(r).Decode(&dets); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	return dets, nil
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/detcrop/internal/cropstore"
	"github.com/ironsheep/detcrop/internal/detection"
	"github.com/ironsheep/detcrop/internal/imaging"
	"github.com/ironsheep/detcrop/internal/pipeline"
)

// errNoStore is returned by crop directory tools when persistence is disabled.
var errNoStore = errors.New("crop persistence is disabled")

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "crops_process", "crops_list").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	requestID := uuid.NewString()
	ctx = pipeline.WithRequestID(ctx, requestID)
	logger := s.logger.With("tool", params.Name, "request_id", requestID)

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		logger.Warn("tool failed", "error", err, "duration", time.Since(start))
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}
	logger.Debug("tool complete", "duration", time.Since(start))

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Detection post-processing
	case "crops_process":
		return s.handleCropsProcess(ctx, args)
	case "crops_detect":
		return s.handleCropsDetect(ctx, args)
	case "crops_annotate":
		return s.handleCropsAnnotate(args)

	// Crop directory
	case "crops_list":
		return s.handleCropsList()
	case "crops_sweep":
		return s.handleCropsSweep(ctx)

	// Basic Image Information
	case "image_dimensions":
		return s.handleImageDimensions(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// unmarshalArgs decodes tool arguments, treating absent arguments as {}.
func unmarshalArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	return json.Unmarshal(args, v)
}

// === Detection Handlers ===

type processArgs struct {
	ImagePath  string                   `json:"image_path"`
	Detections []detection.RawDetection `json:"detections"`
}

// ProcessResult is the crops_process and crops_detect tool output.
type ProcessResult struct {
	Image      imaging.DimensionsResult    `json:"image"`
	Detections []pipeline.DetectionRecord `json:"detections"`
	Received   int                         `json:"received"`
	Emitted    int                         `json:"emitted"`
}

func loadSource(path string) (*imaging.SourceImage, error) {
	if path == "" {
		return nil, fmt.Errorf("image_path is required")
	}
	return imaging.LoadSource(path)
}

func (s *Server) process(ctx context.Context, src *imaging.SourceImage, dets []detection.RawDetection) (*ProcessResult, error) {
	records, err := s.pipeline.Process(ctx, dets, src)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{
		Image:      imaging.DimensionsResult{Width: src.Width(), Height: src.Height(), Format: src.Format()},
		Detections: records,
		Received:   len(dets),
		Emitted:    len(records),
	}, nil
}

func (s *Server) handleCropsProcess(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a processArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	src, err := loadSource(a.ImagePath)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, src, a.Detections)
}

type detectArgs struct {
	ImagePath string `json:"image_path"`
}

func (s *Server) handleCropsDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if s.detector == nil {
		return nil, fmt.Errorf("no detector configured; set inference.url")
	}

	var a detectArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.ImagePath == "" {
		return nil, fmt.Errorf("image_path is required")
	}

	data, err := os.ReadFile(a.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	src, err := imaging.DecodeSourceBytes(data)
	if err != nil {
		return nil, err
	}

	dets, err := s.detector.Detect(ctx, data, filepath.Base(a.ImagePath))
	if err != nil {
		return nil, err
	}
	return s.process(ctx, src, dets)
}

type annotateArgs struct {
	ImagePath  string                   `json:"image_path"`
	Detections []detection.RawDetection `json:"detections"`
	MinArea    *float64                 `json:"min_area"`
}

func (s *Server) handleCropsAnnotate(args json.RawMessage) (interface{}, error) {
	var a annotateArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	src, err := loadSource(a.ImagePath)
	if err != nil {
		return nil, err
	}

	minArea := detection.DefaultMinArea
	if a.MinArea != nil {
		minArea = *a.MinArea
	}

	boxes := make([]imaging.AnnotatedBox, 0, len(a.Detections))
	for _, d := range a.Detections {
		center, err := detection.Normalize(d, src.Width(), src.Height())
		if err != nil {
			if errors.Is(err, detection.ErrInvalidImageDimensions) {
				return nil, err
			}
			continue
		}
		box, err := detection.Clamp(center, minArea)
		if err != nil {
			continue
		}
		boxes = append(boxes, imaging.AnnotatedBox{Box: box, ClassID: d.ClassID, Confidence: d.Confidence})
	}

	return imaging.AnnotateBase64(src, boxes)
}

// === Crop Directory Handlers ===

// ListResult is the crops_list tool output.
type ListResult struct {
	Dir            string                       `json:"dir"`
	RetentionCount int                          `json:"retention_count"`
	Count          int                          `json:"count"`
	Crops          []cropstore.StoredCropRecord `json:"crops"`
}

func (s *Server) handleCropsList() (interface{}, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	crops, err := s.store.List()
	if err != nil {
		return nil, err
	}
	if crops == nil {
		crops = []cropstore.StoredCropRecord{}
	}
	return &ListResult{
		Dir:            s.store.Dir(),
		RetentionCount: s.store.RetentionCount(),
		Count:          len(crops),
		Crops:          crops,
	}, nil
}

func (s *Server) handleCropsSweep(ctx context.Context) (interface{}, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	result, err := s.store.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// === Basic Image Information Handlers ===

type imageDimensionsArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageDimensions(args json.RawMessage) (interface{}, error) {
	var a imageDimensionsArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return imaging.GetDimensions(a.Path)
}

package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// detectionsSchema describes a batch of raw detector output.
func detectionsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": "Raw detections. Each box is center based; if any of cx, cy, w, h exceeds 1 the whole box is read as pixels.",
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"cx": map[string]interface{}{
					"type":        "number",
					"description": "Box center X (normalized or pixels)",
				},
				"cy": map[string]interface{}{
					"type":        "number",
					"description": "Box center Y (normalized or pixels)",
				},
				"w": map[string]interface{}{
					"type":        "number",
					"description": "Box width (normalized or pixels)",
				},
				"h": map[string]interface{}{
					"type":        "number",
					"description": "Box height (normalized or pixels)",
				},
				"confidence": map[string]interface{}{
					"type":        "number",
					"description": "Detector confidence in [0,1]",
				},
				"class_id": map[string]interface{}{
					"type":        "integer",
					"description": "Class index",
				},
				"angle": map[string]interface{}{
					"type":        "number",
					"description": "Optional rotation in radians for oriented boxes. Default 0",
					"default":     0,
				},
				"label": map[string]interface{}{
					"type":        "string",
					"description": "Optional display name; empty resolves through the label set",
				},
			},
			"required": []string{"cx", "cy", "w", "h", "confidence", "class_id"},
		},
	}
}

func imagePathSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the source image file",
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Detection post-processing
		{
			Name:        "crops_process",
			Description: "Turn raw detector output for an image into normalized bounding boxes and saved crop images. Degenerate boxes are dropped; records keep input order.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_path": imagePathSchema(),
					"detections": detectionsSchema(),
				},
				"required": []string{"image_path", "detections"},
			},
		},
		{
			Name:        "crops_detect",
			Description: "Run the configured inference service on an image, then process its detections like crops_process.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_path": imagePathSchema(),
				},
				"required": []string{"image_path"},
			},
		},
		{
			Name:        "crops_annotate",
			Description: "Draw detection boxes and confidences onto a copy of the image and return it as base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_path": imagePathSchema(),
					"detections": detectionsSchema(),
					"min_area": map[string]interface{}{
						"type":        "number",
						"description": "Minimum normalized box area to draw. Default 1e-6",
						"default":     1e-6,
					},
				},
				"required": []string{"image_path", "detections"},
			},
		},

		// Crop directory
		{
			Name:        "crops_list",
			Description: "List saved crops, newest first, with size and modification time.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "crops_sweep",
			Description: "Run a retention sweep now: keep the newest crops up to the retention count and remove the rest.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Basic Image Information
		{
			Name:        "image_dimensions",
			Description: "Get the width, height and format of an image file without decoding its pixels.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}

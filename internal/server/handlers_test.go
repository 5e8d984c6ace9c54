package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/detcrop/internal/detection"
)

// createTestImageFile writes a solid PNG into the test's temp dir.
func createTestImageFile(t *testing.T, width, height int, c color.Color) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(t.TempDir(), "source.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create image file: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

// callTool runs a tools/call and decodes the text content into out.
func callTool(t *testing.T, s *Server, name string, args interface{}, out interface{}) *MCPResponse {
	t.Helper()

	params := map[string]interface{}{"name": name, "arguments": args}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}

	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil || out == nil {
		return resp
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("unexpected content: %v", result["content"])
	}
	text, _ := content[0]["text"].(string)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("failed to decode tool result %q: %v", text, err)
	}
	return resp
}

type fakeDetector struct {
	dets     []detection.RawDetection
	err      error
	filename string
	size     int
}

func (f *fakeDetector) Detect(_ context.Context, image []byte, filename string) ([]detection.RawDetection, error) {
	f.filename = filename
	f.size = len(image)
	return f.dets, f.err
}

func TestHandleToolsCall_CropsProcess(t *testing.T) {
	s := newTestServer(t, Options{})
	imgPath := createTestImageFile(t, 1000, 1000, color.RGBA{255, 0, 0, 255})

	var result ProcessResult
	resp := callTool(t, s, "crops_process", map[string]interface{}{
		"image_path": imgPath,
		"detections": []map[string]interface{}{
			{"cx": 0.5, "cy": 0.5, "w": 0.2, "h": 0.2, "confidence": 0.9, "class_id": 0, "label": "person"},
			{"cx": 500, "cy": 500, "w": 200, "h": 200, "confidence": 0.8, "class_id": 1},
			{"cx": 0.5, "cy": 0.5, "w": 0, "h": 0.2, "confidence": 0.7, "class_id": 1},
		},
	}, &result)

	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	if result.Image.Width != 1000 || result.Image.Height != 1000 || result.Image.Format != "png" {
		t.Errorf("image: got %+v", result.Image)
	}
	if result.Received != 3 || result.Emitted != 2 {
		t.Fatalf("received/emitted: got %d/%d, want 3/2", result.Received, result.Emitted)
	}

	first := result.Detections[0]
	if first.Label != "person" || first.CroppedPath != "/crops/person_0_0.90.jpg" {
		t.Errorf("first record: got %+v", first)
	}
	second := result.Detections[1]
	if second.Label != "class_1" {
		t.Errorf("second label: got %q, want class_1", second.Label)
	}
	for _, rec := range result.Detections {
		b := rec.BBox
		if d := b.X - 0.4; d > 1e-9 || d < -1e-9 {
			t.Errorf("bbox.x: got %v, want 0.4", b.X)
		}
		if d := b.Width - 0.2; d > 1e-9 || d < -1e-9 {
			t.Errorf("bbox.width: got %v, want 0.2", b.Width)
		}
	}

	if _, err := os.Stat(filepath.Join(s.store.Dir(), "person_0_0.90.jpg")); err != nil {
		t.Errorf("crop file missing: %v", err)
	}
}

func TestHandleToolsCall_CropsProcess_Errors(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct {
		name string
		args interface{}
	}{
		{"missing path", map[string]interface{}{"detections": []interface{}{}}},
		{"nonexistent file", map[string]interface{}{"image_path": "/nonexistent/image.png"}},
		{"bad detections", map[string]interface{}{"image_path": "/x.png", "detections": "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callTool(t, s, "crops_process", tt.args, nil)
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != -32000 {
				t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
			}
		})
	}
}

func TestHandleToolsCall_CropsDetect(t *testing.T) {
	det := &fakeDetector{dets: []detection.RawDetection{
		{CX: 0.25, CY: 0.25, W: 0.5, H: 0.5, Confidence: 0.77, ClassID: 2, Label: "car"},
	}}
	s := newTestServer(t, Options{Detector: det})
	imgPath := createTestImageFile(t, 200, 100, color.RGBA{0, 0, 255, 255})

	var result ProcessResult
	resp := callTool(t, s, "crops_detect", map[string]interface{}{"image_path": imgPath}, &result)
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	if det.filename != "source.png" || det.size == 0 {
		t.Errorf("detector got filename %q size %d", det.filename, det.size)
	}
	if result.Emitted != 1 || result.Detections[0].CroppedPath != "/crops/car_0_0.77.jpg" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHandleToolsCall_CropsDetect_Errors(t *testing.T) {
	imgPath := createTestImageFile(t, 10, 10, color.Black)

	noDetector := newTestServer(t, Options{})
	if resp := callTool(t, noDetector, "crops_detect", map[string]interface{}{"image_path": imgPath}, nil); resp.Error == nil {
		t.Error("crops_detect without a detector should fail")
	}

	failing := newTestServer(t, Options{Detector: &fakeDetector{err: errors.New("service down")}})
	resp := callTool(t, failing, "crops_detect", map[string]interface{}{"image_path": imgPath}, nil)
	if resp.Error == nil {
		t.Fatal("detector failure should surface")
	}
	if data, _ := resp.Error.Data.(string); !strings.Contains(data, "service down") {
		t.Errorf("error data should carry the cause: %v", resp.Error.Data)
	}
}

func TestHandleToolsCall_CropsAnnotate(t *testing.T) {
	s := newTestServer(t, Options{})
	imgPath := createTestImageFile(t, 120, 80, color.RGBA{0, 0, 0, 255})

	var result struct {
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		Boxes       int    `json:"boxes"`
		ImageBase64 string `json:"image_base64"`
		MimeType    string `json:"mime_type"`
	}
	resp := callTool(t, s, "crops_annotate", map[string]interface{}{
		"image_path": imgPath,
		"detections": []map[string]interface{}{
			{"cx": 0.5, "cy": 0.5, "w": 0.5, "h": 0.5, "confidence": 0.9, "class_id": 0},
			{"cx": 0.5, "cy": 0.5, "w": 0, "h": 0.5, "confidence": 0.9, "class_id": 0},
		},
	}, &result)
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	if result.Boxes != 1 {
		t.Errorf("boxes: got %d, want 1 (degenerate skipped)", result.Boxes)
	}
	if result.ImageBase64 == "" {
		t.Error("annotated image should not be empty")
	}

	entries, err := os.ReadDir(s.store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("annotate must not write crops, found %d files", len(entries))
	}
}

func TestHandleToolsCall_CropsListAndSweep(t *testing.T) {
	s := newTestServer(t, Options{})
	imgPath := createTestImageFile(t, 100, 100, color.White)

	dets := make([]map[string]interface{}, 12)
	for i := range dets {
		dets[i] = map[string]interface{}{"cx": 0.5, "cy": 0.5, "w": 0.5, "h": 0.5, "confidence": 0.5, "class_id": i}
	}
	if resp := callTool(t, s, "crops_process", map[string]interface{}{"image_path": imgPath, "detections": dets}, nil); resp.Error != nil {
		t.Fatalf("crops_process failed: %+v", resp.Error)
	}

	var listed ListResult
	if resp := callTool(t, s, "crops_list", nil, &listed); resp.Error != nil {
		t.Fatalf("crops_list failed: %+v", resp.Error)
	}
	if listed.Count != 10 || listed.RetentionCount != 10 || len(listed.Crops) != 10 {
		t.Errorf("list after processing: got count %d retention %d", listed.Count, listed.RetentionCount)
	}

	var swept struct {
		Kept    int `json:"kept"`
		Removed int `json:"removed"`
	}
	if resp := callTool(t, s, "crops_sweep", map[string]interface{}{}, &swept); resp.Error != nil {
		t.Fatalf("crops_sweep failed: %+v", resp.Error)
	}
	if swept.Kept != 10 || swept.Removed != 0 {
		t.Errorf("sweep after processing should be a no-op: %+v", swept)
	}
}

func TestHandleToolsCall_ImageDimensions(t *testing.T) {
	s := newTestServer(t, Options{})
	imgPath := createTestImageFile(t, 64, 48, color.White)

	var dims struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Format string `json:"format"`
	}
	if resp := callTool(t, s, "image_dimensions", map[string]interface{}{"path": imgPath}, &dims); resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	if dims.Width != 64 || dims.Height != 48 || dims.Format != "png" {
		t.Errorf("dimensions: got %+v", dims)
	}

	if resp := callTool(t, s, "image_dimensions", map[string]interface{}{}, nil); resp.Error == nil {
		t.Error("missing path should fail")
	}
}

func TestHandleToolsCall_InvalidTool(t *testing.T) {
	s := newTestServer(t, Options{})
	resp := callTool(t, s, "image_ocr_full", map[string]interface{}{}, nil)

	if resp.Error == nil {
		t.Fatal("expected error for unknown tool")
	}
	if data, _ := resp.Error.Data.(string); !strings.Contains(data, "unknown tool") {
		t.Errorf("error data: got %v", resp.Error.Data)
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer(t, Options{})
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  json.RawMessage(`"not an object"`),
	})

	if resp == nil || resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("Error code: got %d, want -32602", resp.Error.Code)
	}
}

func TestExecuteTool_AllTools(t *testing.T) {
	s := newTestServer(t, Options{Detector: &fakeDetector{}})
	imgPath := createTestImageFile(t, 20, 20, color.White)

	args := map[string]string{
		"crops_process":    `{"image_path":"` + imgPath + `","detections":[]}`,
		"crops_detect":     `{"image_path":"` + imgPath + `"}`,
		"crops_annotate":   `{"image_path":"` + imgPath + `","detections":[]}`,
		"crops_list":       `{}`,
		"crops_sweep":      `{}`,
		"image_dimensions": `{"path":"` + imgPath + `"}`,
	}

	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			a, ok := args[tool.Name]
			if !ok {
				t.Fatalf("no arguments for tool %s", tool.Name)
			}
			if _, err := s.executeTool(context.Background(), tool.Name, json.RawMessage(a)); err != nil {
				t.Errorf("%s failed: %v", tool.Name, err)
			}
		})
	}
}

func TestExecuteTool_InvalidJSON(t *testing.T) {
	s := newTestServer(t, Options{})
	if _, err := s.executeTool(context.Background(), "crops_process", json.RawMessage(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

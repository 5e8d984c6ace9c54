// Package inference talks to the external detector service.
//
// The service accepts an image upload on POST /infer and answers with
// normalized center boxes. Thresholds and the detection cap are forwarded as
// form fields; the service is responsible for applying them along with NMS.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ironsheep/detcrop/internal/detection"
	"github.com/ironsheep/detcrop/internal/logging"
)

// DefaultTimeout bounds one request when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes guards against runaway responses.
const maxResponseBytes = 16 << 20

var (
	// ErrUnavailable is returned when the service cannot be reached or answers
	// with a non-2xx status.
	ErrUnavailable = errors.New("inference service unavailable")

	// ErrInference is returned when the service reports a failed inference or
	// sends a body that cannot be decoded.
	ErrInference = errors.New("inference failed")
)

// Detector produces raw detections for an encoded image.
type Detector interface {
	Detect(ctx context.Context, image []byte, filename string) ([]detection.RawDetection, error)
}

// Thresholds are forwarded to the service with each request.
type Thresholds struct {
	Confidence    float64
	IoU           float64
	MaxDetections int // 0 leaves the service default
}

// Options configures a Client.
type Options struct {
	URL        string
	Timeout    time.Duration
	Thresholds Thresholds
	HTTPClient *http.Client // defaults to a client with Timeout
	Logger     *slog.Logger
}

// Client is an HTTP Detector.
type Client struct {
	baseURL    string
	httpClient *http.Client
	thresholds Thresholds
	logger     *slog.Logger
}

// HealthStatus mirrors the service's GET /health body.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Detail      string `json:"detail,omitempty"`
}

// OK reports whether the service is up with its model loaded.
func (h HealthStatus) OK() bool {
	return h.Status == "ok" && h.ModelLoaded
}

type wireDetection struct {
	X          float64 `json:"x"` // center x
	Y          float64 `json:"y"` // center y
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Angle      float64 `json:"angle"`
}

type inferResponse struct {
	Success    bool            `json:"success"`
	Detections []wireDetection `json:"detections"`
	Detail     string          `json:"detail"`
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid inference url: %q", opts.URL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		httpClient: httpClient,
		thresholds: opts.Thresholds,
		logger:     logging.OrDefault(opts.Logger).With("component", "inference"),
	}, nil
}

// Detect uploads image as the multipart field "image" and returns the
// detections in service order.
func (c *Client) Detect(ctx context.Context, image []byte, filename string) ([]detection.RawDetection, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if filename == "" {
		filename = "image.jpg"
	}

	body, contentType, err := c.encodeForm(image, filepath.Base(filename))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/infer", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	var out inferResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := out.Detail
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrInference, decodeErr)
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s", ErrInference, out.Detail)
	}

	dets := make([]detection.RawDetection, len(out.Detections))
	for i, w := range out.Detections {
		dets[i] = w.raw()
	}

	c.logger.Debug("inference complete",
		"detections", len(dets),
		"bytes", len(image),
		"duration", time.Since(start))

	return dets, nil
}

func (c *Client) encodeForm(image []byte, filename string) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("copy image data: %w", err)
	}

	fields := map[string]string{
		"conf": strconv.FormatFloat(c.thresholds.Confidence, 'f', -1, 64),
		"iou":  strconv.FormatFloat(c.thresholds.IoU, 'f', -1, 64),
	}
	if c.thresholds.MaxDetections > 0 {
		fields["max_det"] = strconv.Itoa(c.thresholds.MaxDetections)
	}
	for _, key := range []string{"conf", "iou", "max_det"} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// raw converts a wire detection. The service's own placeholder label for
// unnamed classes is dropped so the local label set can name them.
func (w wireDetection) raw() detection.RawDetection {
	label := w.Label
	if label == fmt.Sprintf("cls_%d", w.ClassID) {
		label = ""
	}
	return detection.RawDetection{
		CX:         w.X,
		CY:         w.Y,
		W:          w.Width,
		H:          w.Height,
		Confidence: w.Confidence,
		ClassID:    w.ClassID,
		Angle:      w.Angle,
		Label:      label,
	}
}

// Health queries GET /health. A reachable service that reports an unloaded
// model returns its status with a nil error; check HealthStatus.OK.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthStatus{}, fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}

	var status HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&status); err != nil {
		return HealthStatus{}, fmt.Errorf("%w: decode health: %w", ErrInference, err)
	}
	return status, nil
}

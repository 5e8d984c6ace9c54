package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ironsheep/detcrop/internal/cropstore"
	"github.com/ironsheep/detcrop/internal/detection"
	"github.com/ironsheep/detcrop/internal/imaging"
	"github.com/ironsheep/detcrop/internal/logging"
	"github.com/ironsheep/detcrop/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func testSource(w, h int) *imaging.SourceImage {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return imaging.NewSource(img)
}

type fixture struct {
	pipeline *Pipeline
	store    *cropstore.Store
}

func newFixture(t *testing.T, mutate func(*Options)) fixture {
	t.Helper()

	resizer, err := imaging.NewResizer(imaging.ResizeOptions{Width: 64, Height: 64})
	require.NoError(t, err)
	store, err := cropstore.New(cropstore.Options{Dir: t.TempDir(), RetentionCount: 50, Logger: logging.Discard()})
	require.NoError(t, err)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	opts := Options{
		Labels:    detection.Labels{0: "person", 2: "car"},
		Resizer:   resizer,
		Store:     store,
		MinArea:   detection.DefaultMinArea,
		URLPrefix: "/crops/",
		Logger:    logging.Discard(),
		Metrics:   m,
	}
	if mutate != nil {
		mutate(&opts)
	}

	p, err := New(opts)
	require.NoError(t, err)
	return fixture{pipeline: p, store: opts.Store}
}

func TestProcess_ReferenceScenarios(t *testing.T) {
	f := newFixture(t, nil)
	src := testSource(1000, 1000)

	dets := []detection.RawDetection{
		{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2, Confidence: 0.9, ClassID: 0},
		{CX: 500, CY: 500, W: 200, H: 200, Confidence: 0.8, ClassID: 2},
		{CX: 1.05, CY: 0.6, W: 0.2, H: 0.2, Confidence: 0.7, ClassID: 5},
		{CX: 0.95, CY: 0.6, W: 0.2, H: 0.2, Confidence: 0.6, ClassID: 0},
	}

	got, err := f.pipeline.Process(context.Background(), dets, src)
	require.NoError(t, err)

	// The third detection has cx > 1, so all four fields are read as pixels
	// and the box falls below the minimum area.
	want := []DetectionRecord{
		{Label: "person", Confidence: 0.9, ClassID: 0, BBox: detection.NormalizedBox{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2}, CroppedPath: "/crops/person_0_0.90.jpg"},
		{Label: "car", Confidence: 0.8, ClassID: 2, BBox: detection.NormalizedBox{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2}, CroppedPath: "/crops/car_1_0.80.jpg"},
		{Label: "person", Confidence: 0.6, ClassID: 0, BBox: detection.NormalizedBox{X: 0.85, Y: 0.5, Width: 0.15, Height: 0.2}, CroppedPath: "/crops/person_3_0.60.jpg"},
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Process() mismatch (-want +got):\n%s", diff)
	}

	for _, rec := range got {
		assert.True(t, rec.BBox.Valid(), "bbox %+v outside unit square", rec.BBox)
	}
}

func TestProcess_CropsAreCanvasSize(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.URLPrefix = "" })

	got, err := f.pipeline.Process(context.Background(),
		[]detection.RawDetection{{CX: 0.3, CY: 0.5, W: 0.5, H: 0.1, Confidence: 0.66, ClassID: 2}},
		testSource(640, 480))
	require.NoError(t, err)
	require.Len(t, got, 1)

	path := got[0].CroppedPath
	assert.Equal(t, filepath.Join(f.store.Dir(), "car_0_0.66.jpg"), path, "empty prefix reports the file path")

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	cfg, err := jpeg.DecodeConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 64, cfg.Height)
}

func TestProcess_DropsDegenerateAndKeepsOrder(t *testing.T) {
	f := newFixture(t, nil)

	dets := []detection.RawDetection{
		{CX: 0.2, CY: 0.2, W: 0.1, H: 0.1, Confidence: 0.9, ClassID: 0},
		{CX: 0.5, CY: 0.5, W: 0, H: 0.1, Confidence: 0.8, ClassID: 0},    // zero width
		{CX: -0.5, CY: 0.5, W: 0.2, H: 0.2, Confidence: 0.7, ClassID: 0}, // fully outside
		{CX: 0.8, CY: 0.8, W: 0.1, H: 0.1, Confidence: 0.6, ClassID: 7},
	}

	got, err := f.pipeline.Process(context.Background(), dets, testSource(100, 100))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.InDelta(t, 0.9, got[0].Confidence, 0)
	assert.InDelta(t, 0.6, got[1].Confidence, 0)
	assert.Equal(t, "class_7", got[1].Label, "unknown class ids get a fallback label")
	assert.Equal(t, "/crops/class_7_3_0.60.jpg", got[1].CroppedPath, "filenames use the input index")
}

func TestProcess_PixelRoundingDrops(t *testing.T) {
	f := newFixture(t, nil)

	// 0.002 of a 100px image rounds to zero pixels.
	got, err := f.pipeline.Process(context.Background(),
		[]detection.RawDetection{{CX: 0.5, CY: 0.5, W: 0.002, H: 0.5, Confidence: 0.9}},
		testSource(100, 100))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestProcess_InvalidImageIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	dets := []detection.RawDetection{{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2, Confidence: 0.9}}

	for _, src := range []*imaging.SourceImage{nil, imaging.NewSource(nil), imaging.NewSource(image.NewNRGBA(image.Rect(0, 0, 0, 10)))} {
		got, err := f.pipeline.Process(context.Background(), dets, src)
		assert.ErrorIs(t, err, detection.ErrInvalidImageDimensions)
		assert.Nil(t, got)
	}
}

func TestProcess_MaxDetections(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxDetections = 2 })

	dets := make([]detection.RawDetection, 5)
	for i := range dets {
		dets[i] = detection.RawDetection{CX: 0.1 + float64(i)*0.2, CY: 0.5, W: 0.1, H: 0.1, Confidence: 0.5}
	}

	got, err := f.pipeline.Process(context.Background(), dets, testSource(200, 200))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.05, got[0].BBox.X, 1e-9)
	assert.InDelta(t, 0.25, got[1].BBox.X, 1e-9)

	list, err := f.store.List()
	require.NoError(t, err)
	assert.Len(t, list, 2, "ignored detections are never cropped")
}

func TestProcess_PersistFailurePolicies(t *testing.T) {
	dets := []detection.RawDetection{{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2, Confidence: 0.9}}

	t.Run("omit", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, os.RemoveAll(f.store.Dir()))

		got, err := f.pipeline.Process(context.Background(), dets, testSource(100, 100))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Empty(t, got[0].CroppedPath)
	})

	t.Run("skip", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.PersistFailure = PersistSkip })
		require.NoError(t, os.RemoveAll(f.store.Dir()))

		got, err := f.pipeline.Process(context.Background(), dets, testSource(100, 100))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestProcess_RetentionSweepRunsOnce(t *testing.T) {
	resizer, err := imaging.NewResizer(imaging.ResizeOptions{Width: 16, Height: 16})
	require.NoError(t, err)
	store, err := cropstore.New(cropstore.Options{Dir: t.TempDir(), RetentionCount: 3, Logger: logging.Discard()})
	require.NoError(t, err)
	p, err := New(Options{Resizer: resizer, Store: store, Logger: logging.Discard()})
	require.NoError(t, err)

	dets := make([]detection.RawDetection, 6)
	for i := range dets {
		dets[i] = detection.RawDetection{CX: 0.5, CY: 0.5, W: 0.5, H: 0.5, Confidence: 0.5, ClassID: i}
	}

	got, err := p.Process(context.Background(), dets, testSource(50, 50))
	require.NoError(t, err)
	assert.Len(t, got, 6, "every detection gets a record even if its crop is later evicted")

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestProcess_WorkersMatchSequential(t *testing.T) {
	dets := make([]detection.RawDetection, 40)
	for i := range dets {
		dets[i] = detection.RawDetection{
			CX:         float64(i%8)*0.12 + 0.06,
			CY:         float64(i/8)*0.18 + 0.09,
			W:          0.1,
			H:          0.15,
			Confidence: float64(i) / 40,
			ClassID:    i % 3,
		}
	}
	dets[7].W = 0 // one drop in the middle

	seq := newFixture(t, nil)
	par := newFixture(t, func(o *Options) { o.Workers = 8 })
	src := testSource(300, 200)

	want, err := seq.pipeline.Process(context.Background(), dets, src)
	require.NoError(t, err)
	got, err := par.pipeline.Process(context.Background(), dets, src)
	require.NoError(t, err)

	assert.Len(t, got, 39)
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("parallel output differs from sequential (-seq +par):\n%s", diff)
	}
}

func TestProcess_NoStore(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Store = nil })

	got, err := f.pipeline.Process(context.Background(),
		[]detection.RawDetection{
			{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2, Confidence: 0.9},
			{CX: 0.5, CY: 0.5, W: 0.002, H: 0.2, Confidence: 0.9},
		},
		testSource(100, 100))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].CroppedPath)
	assert.Nil(t, f.pipeline.Store())
}

func TestProcess_Cancelled(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := f.pipeline.Process(ctx,
		[]detection.RawDetection{{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2, Confidence: 0.9}},
		testSource(100, 100))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)

	names, err := os.ReadDir(f.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, names, "cancelled batch leaves no files")
}

func TestProcess_EmptyBatch(t *testing.T) {
	f := newFixture(t, nil)

	got, err := f.pipeline.Process(context.Background(), nil, testSource(10, 10))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestNew_Validation(t *testing.T) {
	resizer, err := imaging.NewResizer(imaging.ResizeOptions{})
	require.NoError(t, err)

	tests := []Options{
		{},
		{Resizer: resizer, MinArea: -1},
		{Resizer: resizer, MinArea: 1},
		{Resizer: resizer, MaxDetections: -1},
		{Resizer: resizer, PersistFailure: "retry"},
	}
	for _, opts := range tests {
		_, err := New(opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestParsePersistPolicy(t *testing.T) {
	for in, want := range map[string]PersistPolicy{"": PersistOmit, "omit": PersistOmit, "SKIP": PersistSkip} {
		got, err := ParsePersistPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	_, generated := ensureRequestID(context.Background())
	assert.Len(t, generated, 36)
}

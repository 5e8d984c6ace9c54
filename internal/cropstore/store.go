package cropstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/anthonynsimon/bild/imgio"

	"github.com/ironsheep/detcrop/internal/logging"
	"github.com/ironsheep/detcrop/internal/metrics"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultRetentionCount = 100
	DefaultJPEGQuality    = 90
	DefaultStaleTempAge   = 10 * time.Minute
)

var (
	// ErrCropPersist wraps every failure to encode or write a crop.
	ErrCropPersist = errors.New("crop persist failed")

	// ErrInvalidName is returned by Open for names outside the store.
	ErrInvalidName = errors.New("invalid crop name")
)

// StoredCropRecord describes one crop file on disk.
type StoredCropRecord struct {
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	ModTime  time.Time `json:"modification_time"`
	Size     int64     `json:"size"`
}

// SweepResult summarizes one retention pass.
type SweepResult struct {
	Kept          int `json:"kept"`
	Removed       int `json:"removed"`
	SkippedPinned int `json:"skipped_pinned"`
	TempsRemoved  int `json:"temps_removed"`
}

// Options configures a Store.
type Options struct {
	Dir            string
	RetentionCount int
	JPEGQuality    int
	StaleTempAge   time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics

	// now is overridden in tests.
	now func() time.Time
}

// Store owns a crop directory.
type Store struct {
	dir       string
	retention int
	staleAge  time.Duration
	encode    imgio.Encoder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// mu is shared by saves and held exclusively by Sweep.
	mu sync.RWMutex

	pinMu sync.Mutex
	pins  map[string]int
}

// New creates the directory if needed and returns a Store for it.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("crop directory is required")
	}
	if opts.RetentionCount < 0 {
		return nil, fmt.Errorf("retention count must be >= 0, got %d", opts.RetentionCount)
	}
	if opts.RetentionCount == 0 {
		opts.RetentionCount = DefaultRetentionCount
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		return nil, fmt.Errorf("jpeg quality must be in [1,100], got %d", opts.JPEGQuality)
	}
	if opts.StaleTempAge <= 0 {
		opts.StaleTempAge = DefaultStaleTempAge
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create crop directory: %w", err)
	}

	return &Store{
		dir:       opts.Dir,
		retention: opts.RetentionCount,
		staleAge:  opts.StaleTempAge,
		encode:    imgio.JPEGEncoder(opts.JPEGQuality),
		logger:    logging.OrDefault(opts.Logger).With("component", "cropstore"),
		metrics:   opts.Metrics,
		now:       opts.now,
		pins:      make(map[string]int),
	}, nil
}

// Dir returns the crop directory.
func (s *Store) Dir() string { return s.dir }

// RetentionCount returns how many crops a sweep keeps.
func (s *Store) RetentionCount() int { return s.retention }

// Path returns the absolute location of a crop filename.
func (s *Store) Path(filename string) string { return filepath.Join(s.dir, filename) }

// Save persists img under FileName(label, index, confidence). An existing
// file with the same name is replaced atomically. Every error wraps
// ErrCropPersist, and no temp file survives a failed or cancelled save.
func (s *Store) Save(ctx context.Context, img image.Image, label string, index int, confidence float64) (StoredCropRecord, error) {
	name := FileName(label, index, confidence)
	rec, err := s.save(ctx, img, name)
	if err != nil {
		s.metrics.RecordPersistFailure()
		return StoredCropRecord{}, fmt.Errorf("%w: %s: %w", ErrCropPersist, name, err)
	}
	s.metrics.RecordCropSaved()
	return rec, nil
}

func (s *Store) save(ctx context.Context, img image.Image, name string) (StoredCropRecord, error) {
	if img == nil {
		return StoredCropRecord{}, fmt.Errorf("nil image")
	}
	if err := ctx.Err(); err != nil {
		return StoredCropRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return StoredCropRecord{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				s.logger.Warn("failed to remove temp file", "path", tmpPath, "error", rmErr)
			}
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := s.encode(w, img); err != nil {
		return StoredCropRecord{}, fmt.Errorf("encode jpeg: %w", err)
	}
	if err := w.Flush(); err != nil {
		return StoredCropRecord{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return StoredCropRecord{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return StoredCropRecord{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return StoredCropRecord{}, err
	}

	finalPath := s.Path(name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return StoredCropRecord{}, fmt.Errorf("rename into place: %w", err)
	}
	committed = true

	info, err := os.Stat(finalPath)
	if err != nil {
		return StoredCropRecord{}, fmt.Errorf("stat saved crop: %w", err)
	}
	s.logger.Log(ctx, logging.LevelTrace, "crop saved", "filename", name, "size", info.Size())

	return StoredCropRecord{
		Filename: name,
		Path:     finalPath,
		ModTime:  info.ModTime(),
		Size:     info.Size(),
	}, nil
}

// List returns the crops currently on disk, newest first.
func (s *Store) List() ([]StoredCropRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	crops, _, err := s.scan()
	return crops, err
}

// scan reads the directory once and splits it into crops, sorted newest
// first, and temp files.
func (s *Store) scan() (crops, temps []StoredCropRecord, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read crop directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		crop := isCropName(name)
		if !crop && !isTempName(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}

		rec := StoredCropRecord{
			Filename: name,
			Path:     filepath.Join(s.dir, name),
			ModTime:  info.ModTime(),
			Size:     info.Size(),
		}
		if crop {
			crops = append(crops, rec)
		} else {
			temps = append(temps, rec)
		}
	}

	sortNewestFirst(crops)
	return crops, temps, nil
}

func sortNewestFirst(recs []StoredCropRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].ModTime.Equal(recs[j].ModTime) {
			return recs[i].ModTime.After(recs[j].ModTime)
		}
		return recs[i].Filename > recs[j].Filename
	})
}

// Sweep enforces the retention count. Crops beyond the newest RetentionCount
// are removed unless pinned; temp files older than StaleTempAge are removed
// too. Files that vanish before removal are not errors. Removal failures are
// logged, the sweep continues, and they are returned joined.
func (s *Store) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordSweepDuration(time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	crops, temps, err := s.scan()
	if err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	var errs []error

	cutoff := s.now().Add(-s.staleAge)
	for _, tmp := range temps {
		if tmp.ModTime.After(cutoff) {
			continue
		}
		removed, err := removeIfExists(tmp.Path)
		if err != nil {
			s.logger.Warn("failed to remove stale temp file", "path", tmp.Path, "error", err)
			errs = append(errs, err)
			continue
		}
		if removed {
			result.TempsRemoved++
		}
	}

	for i, crop := range crops {
		if i < s.retention {
			result.Kept++
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if s.isPinned(crop.Filename) {
			result.SkippedPinned++
			s.logger.Debug("skipping pinned crop", "filename", crop.Filename)
			continue
		}
		removed, err := removeIfExists(crop.Path)
		if err != nil {
			s.logger.Warn("failed to remove crop", "path", crop.Path, "error", err)
			errs = append(errs, err)
			continue
		}
		if removed {
			result.Removed++
		}
	}

	s.metrics.RecordEvicted("crop", result.Removed)
	s.metrics.RecordEvicted("temp", result.TempsRemoved)
	if result.Removed > 0 || result.TempsRemoved > 0 {
		s.logger.Debug("sweep complete",
			"kept", result.Kept,
			"removed", result.Removed,
			"skipped_pinned", result.SkippedPinned,
			"temps_removed", result.TempsRemoved)
	}

	return result, errors.Join(errs...)
}

func removeIfExists(path string) (bool, error) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

package loader

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/dustin/go-humanize"

	maelstrom "github.com/4castRenewables/maelstrom-train"
	"github.com/4castRenewables/maelstrom-train/archive"
	"github.com/4castRenewables/maelstrom-train/grid"
	"github.com/4castRenewables/maelstrom-train/observability"
)

// Loader turns an archive file list into a streaming dataset of normalized,
// patch-decomposed training batches.
//
// All shape, metadata, and coefficient state is computed once in New and is
// immutable afterwards; only metrics and timers mutate during streaming.
type Loader struct {
	cfg       Config
	filenames []string
	limits    archive.Limits
	features  []grid.Feature
	meta      archive.Metadata
	coeffs    grid.Coefficients
	rawIndex  int
	reader    archive.Reader
	device    Device
	workers   int

	logger  *slog.Logger
	metrics *observability.Metrics
	timer   *observability.StageTimer
}

// Option customizes a Loader beyond its configuration.
type Option func(*Loader)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithMetrics sets the Prometheus metrics collection.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithDevice sets the accelerator hand-off used when to_accelerator is
// enabled. Defaults to HostDevice.
func WithDevice(d Device) Option {
	return func(l *Loader) { l.device = d }
}

// WithStageTimer sets the per-stage timing accumulator.
func WithStageTimer(t *observability.StageTimer) Option {
	return func(l *Loader) { l.timer = t }
}

// WithReader overrides the archive reader. Intended for tests.
func WithReader(r archive.Reader) Option {
	return func(l *Loader) { l.reader = r }
}

// New resolves the file list and metadata, builds the coefficient table, and
// validates the configuration. Any failure here is fatal: the loader is not
// usable if metadata cannot be established.
func New(cfg Config, opts ...Option) (*Loader, error) {
	l := &Loader{
		cfg:      cfg,
		limits:   cfg.limits(),
		rawIndex: -1,
		device:   HostDevice{},
		logger:   slog.Default(),
		timer:    observability.NewStageTimer(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = observability.NewMetricsForTesting()
	}

	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", maelstrom.ErrConfig, cfg.BatchSize)
	}
	if cfg.PatchSize < 0 {
		return nil, fmt.Errorf("%w: patch size must be positive, got %d", maelstrom.ErrConfig, cfg.PatchSize)
	}
	if cfg.Prefetch < 0 {
		return nil, fmt.Errorf("%w: prefetch must be positive, got %d", maelstrom.ErrConfig, cfg.Prefetch)
	}

	for _, spec := range cfg.ExtraFeatures {
		feat, err := spec.toFeature()
		if err != nil {
			return nil, err
		}
		l.features = append(l.features, feat)
	}

	for _, pattern := range cfg.Filenames {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad filename pattern %q: %v", maelstrom.ErrConfig, pattern, err)
		}
		l.filenames = append(l.filenames, matches...)
	}
	if len(l.filenames) == 0 {
		return nil, fmt.Errorf("%w: filename patterns %v matched no files", maelstrom.ErrConfig, cfg.Filenames)
	}

	meta, err := archive.Resolve(l.filenames[0], l.limits, cfg.PatchSize, l.features)
	if err != nil {
		return nil, err
	}
	l.meta = meta

	l.coeffs, err = buildCoefficients(cfg.Normalization, meta, l.features)
	if err != nil {
		return nil, err
	}

	if cfg.PredictDiff {
		name := cfg.RawForecast
		if name == "" {
			name = DefaultRawForecast
		}
		l.rawIndex = slices.Index(meta.PredictorNames, name)
		if l.rawIndex < 0 {
			return nil, fmt.Errorf("%w: predict_diff needs raw forecast predictor %q, have %v",
				maelstrom.ErrConfig, name, meta.PredictorNames)
		}
	}

	switch {
	case cfg.Parallelism == ParallelismAuto:
		l.workers = runtime.NumCPU()
	case cfg.Parallelism > 0:
		l.workers = int(cfg.Parallelism)
	default:
		l.workers = 1
	}

	if l.reader == nil {
		if cfg.Fake {
			l.reader = archive.NewFakeReader(meta, len(l.filenames))
		} else {
			l.reader = archive.NewFileReader(l.filenames, l.limits, meta)
		}
	}

	l.logger.Debug("loader constructed",
		"files", len(l.filenames),
		"leadtimes", meta.NumLeadtimes(),
		"predictors", meta.NumPredictors,
		"patch_size", cfg.PatchSize,
		"workers", l.workers,
	)
	return l, nil
}

// Metadata returns the resolved dataset-wide shape facts.
func (l *Loader) Metadata() archive.Metadata { return l.meta }

// Coefficients returns the normalization table, or nil when no source was
// configured. Row i corresponds to PredictorNames()[i].
func (l *Loader) Coefficients() grid.Coefficients { return l.coeffs }

// PredictorNames returns the full ordered predictor name list, synthetic
// channels included.
func (l *Loader) PredictorNames() []string { return l.meta.PredictorNames }

// Timer returns the per-stage timing accumulator.
func (l *Loader) Timer() *observability.StageTimer { return l.timer }

// NumFiles returns the number of archive files.
func (l *Loader) NumFiles() int { return len(l.filenames) }

// NumLeadtimes returns the lead-time count per sample.
func (l *Loader) NumLeadtimes() int { return l.meta.NumLeadtimes() }

// NumYPatches returns the patch count along the y axis.
func (l *Loader) NumYPatches() int {
	if l.cfg.PatchSize > 0 {
		return l.meta.YSize / l.cfg.PatchSize
	}
	return 1
}

// NumXPatches returns the patch count along the x axis.
func (l *Loader) NumXPatches() int {
	if l.cfg.PatchSize > 0 {
		return l.meta.XSize / l.cfg.PatchSize
	}
	return 1
}

// NumPatchesPerFile returns the number of samples each file decomposes into.
func (l *Loader) NumPatchesPerFile() int { return l.NumYPatches() * l.NumXPatches() }

// NumPatches returns the total sample count across all files.
func (l *Loader) NumPatches() int { return l.NumPatchesPerFile() * l.NumFiles() }

// NumY returns the y extent of one sample: the patch size when patching, the
// full axis otherwise.
func (l *Loader) NumY() int {
	if l.cfg.PatchSize > 0 {
		return l.cfg.PatchSize
	}
	return l.meta.YSize
}

// NumX returns the x extent of one sample.
func (l *Loader) NumX() int {
	if l.cfg.PatchSize > 0 {
		return l.cfg.PatchSize
	}
	return l.meta.XSize
}

// PredictorShape returns the per-sample predictor shape (leadtime, y, x,
// channels).
func (l *Loader) PredictorShape() []int {
	return []int{l.NumLeadtimes(), l.NumY(), l.NumX(), l.meta.NumPredictors}
}

// TargetShape returns the per-sample target shape (leadtime, y, x, 1).
func (l *Loader) TargetShape() []int {
	return []int{l.NumLeadtimes(), l.NumY(), l.NumX(), l.meta.NumTargets}
}

// batchSize returns the configured batch size with its default applied.
func (l *Loader) batchSize() int {
	if l.cfg.BatchSize == 0 {
		return 1
	}
	return l.cfg.BatchSize
}

// DataSize returns the number of bytes needed to hold every realized sample.
func (l *Loader) DataSize() uint64 {
	perPatch := 4 * (product(l.PredictorShape()) + product(l.TargetShape()))
	return uint64(perPatch) * uint64(l.NumPatches())
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// Description is a human-readable report of the resolved dataset, for
// diagnostics only.
type Description struct {
	PredictorShape []int    `json:"predictor_shape"`
	TargetShape    []int    `json:"target_shape"`
	NumFiles       int      `json:"num_files"`
	PatchesPerFile int      `json:"patches_per_file"`
	NumSamples     int      `json:"num_samples"`
	PatchSize      int      `json:"patch_size,omitempty"`
	BatchSize      int      `json:"batch_size"`
	NumBatches     int      `json:"num_batches"`
	NumPredictors  int      `json:"num_predictors"`
	NumTargets     int      `json:"num_targets"`
	SampleSize     string   `json:"sample_size"`
	TotalSize      string   `json:"total_size"`
	Predictors     []string `json:"predictors"`
}

// Describe reports the resolved shapes, counts, and sizes.
func (l *Loader) Describe() Description {
	perPatch := uint64(4 * (product(l.PredictorShape()) + product(l.TargetShape())))
	return Description{
		PredictorShape: l.PredictorShape(),
		TargetShape:    l.TargetShape(),
		NumFiles:       l.NumFiles(),
		PatchesPerFile: l.NumPatchesPerFile(),
		NumSamples:     l.NumPatches(),
		PatchSize:      l.cfg.PatchSize,
		BatchSize:      l.batchSize(),
		NumBatches:     ceilDiv(l.NumPatches(), l.batchSize()),
		NumPredictors:  l.meta.NumPredictors,
		NumTargets:     l.meta.NumTargets,
		SampleSize:     humanize.IBytes(perPatch),
		TotalSize:      humanize.IBytes(l.DataSize()),
		Predictors:     l.meta.PredictorNames,
	}
}

// String renders the description as indented JSON.
func (l *Loader) String() string {
	out, err := json.MarshalIndent(l.Describe(), "", "    ")
	if err != nil {
		return fmt.Sprintf("loader: %v", err)
	}
	return string(out)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

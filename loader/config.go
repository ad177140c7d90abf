// Package loader assembles the streaming data-loading pipeline: construction
// configuration, the normalization coefficient table, and the orchestrator
// that splits, parallelizes, caches, and batches transformed samples for a
// training loop.
package loader

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	maelstrom "github.com/4castRenewables/maelstrom-train"
	"github.com/4castRenewables/maelstrom-train/archive"
	"github.com/4castRenewables/maelstrom-train/grid"
)

// DefaultRawForecast is the predictor subtracted from targets when
// predict_diff is enabled and no raw_forecast override is configured.
const DefaultRawForecast = "air_temperature_2m"

// Config holds the recognized construction options. The zero value of every
// optional field means "disabled"; New applies defaults and validates.
type Config struct {
	// Filenames are glob patterns resolved into the ordered archive file list.
	Filenames []string `yaml:"filenames"`

	// LimitLeadtimes selects lead-time indices: an explicit list or a
	// "start:end" range string.
	LimitLeadtimes *IndexSelection `yaml:"limit_leadtimes"`
	// LimitPredictors is an allow-list of predictor names.
	LimitPredictors []string `yaml:"limit_predictors"`
	// XRange and YRange restrict the spatial axes, as "start:end" strings or
	// [start, end) pairs.
	XRange *RangeSpec `yaml:"x_range"`
	YRange *RangeSpec `yaml:"y_range"`

	// PatchSize decomposes the grid into PatchSize x PatchSize tiles. Zero
	// disables decomposition.
	PatchSize int `yaml:"patch_size"`
	// PredictDiff converts targets into residuals against the raw forecast.
	PredictDiff bool `yaml:"predict_diff"`
	// RawForecast names the raw forecast channel; empty means
	// DefaultRawForecast.
	RawForecast string `yaml:"raw_forecast"`

	BatchSize int `yaml:"batch_size"`
	// Prefetch bounds the look-ahead buffer of upcoming batches.
	Prefetch int `yaml:"prefetch"`
	// Cache keeps realized samples in memory across epochs.
	Cache bool `yaml:"cache"`
	// Parallelism sets the transform worker pool size; "auto" picks the CPU
	// count.
	Parallelism Parallelism `yaml:"parallelism"`

	// ExtraFeatures appends synthetic coordinate channels, in order.
	ExtraFeatures []FeatureSpec `yaml:"extra_features"`
	// Normalization is the path to the coefficient source file.
	Normalization string `yaml:"normalization"`

	// Fake replaces file reads with zero-filled arrays of the resolved shape.
	Fake bool `yaml:"fake"`
	// ToAccelerator transfers finished batches to the configured device.
	ToAccelerator bool `yaml:"to_accelerator"`
}

// FromConfigFile reads a Config from a YAML file.
func FromConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config %s: %v", maelstrom.ErrIO, path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config %s: %v", maelstrom.ErrConfig, path, err)
	}
	return cfg, nil
}

// FeatureSpec configures one synthetic channel.
type FeatureSpec struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

func (s FeatureSpec) toFeature() (grid.Feature, error) {
	t, err := grid.ParseFeatureType(s.Type)
	if err != nil {
		return grid.Feature{}, fmt.Errorf("%w: %v", maelstrom.ErrConfig, err)
	}
	return grid.Feature{Type: t, ChannelName: s.Name}, nil
}

// ParseRange parses a "start:end" string into a half-open index range.
func ParseRange(s string) (archive.Range, error) {
	if !strings.Contains(s, ":") {
		return archive.Range{}, fmt.Errorf("%w: cannot interpret range string %q, expected start:end",
			maelstrom.ErrConfig, s)
	}
	parts := strings.SplitN(s, ":", 2)
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return archive.Range{}, fmt.Errorf("%w: range start %q is not an integer", maelstrom.ErrConfig, parts[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return archive.Range{}, fmt.Errorf("%w: range end %q is not an integer", maelstrom.ErrConfig, parts[1])
	}
	if start < 0 || end <= start {
		return archive.Range{}, fmt.Errorf("%w: range %q is empty or negative", maelstrom.ErrConfig, s)
	}
	return archive.Range{Start: start, End: end}, nil
}

// IndexSelection is a set of axis indices, given either as an explicit list
// or as a "start:end" range string.
type IndexSelection struct {
	indices []int
}

// Indices returns the selected indices in order.
func (s *IndexSelection) Indices() []int { return s.indices }

// UnmarshalYAML accepts either a sequence of integers or a range string.
func (s *IndexSelection) UnmarshalYAML(value *yaml.Node) error {
	var list []int
	if err := value.Decode(&list); err == nil {
		s.indices = list
		return nil
	}
	var str string
	if err := value.Decode(&str); err != nil {
		return fmt.Errorf("%w: index selection must be a list or a start:end string", maelstrom.ErrConfig)
	}
	r, err := ParseRange(str)
	if err != nil {
		return err
	}
	for i := r.Start; i < r.End; i++ {
		s.indices = append(s.indices, i)
	}
	return nil
}

// SelectIndices builds an IndexSelection from explicit indices.
func SelectIndices(indices ...int) *IndexSelection {
	return &IndexSelection{indices: indices}
}

// SelectRange builds an IndexSelection from a "start:end" string.
func SelectRange(s string) (*IndexSelection, error) {
	var sel IndexSelection
	r, err := ParseRange(s)
	if err != nil {
		return nil, err
	}
	for i := r.Start; i < r.End; i++ {
		sel.indices = append(sel.indices, i)
	}
	return &sel, nil
}

// RangeSpec is a half-open axis range, given either as a "start:end" string
// or as a two-element [start, end) sequence.
type RangeSpec struct {
	archive.Range
}

// UnmarshalYAML accepts a range string or a two-element sequence.
func (r *RangeSpec) UnmarshalYAML(value *yaml.Node) error {
	var pair []int
	if err := value.Decode(&pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("%w: axis range needs exactly [start, end), got %v", maelstrom.ErrConfig, pair)
		}
		if pair[0] < 0 || pair[1] <= pair[0] {
			return fmt.Errorf("%w: axis range %v is empty or negative", maelstrom.ErrConfig, pair)
		}
		r.Range = archive.Range{Start: pair[0], End: pair[1]}
		return nil
	}
	var str string
	if err := value.Decode(&str); err != nil {
		return fmt.Errorf("%w: axis range must be a start:end string or [start, end) pair", maelstrom.ErrConfig)
	}
	parsed, err := ParseRange(str)
	if err != nil {
		return err
	}
	r.Range = parsed
	return nil
}

// SpanRange builds a RangeSpec from explicit bounds.
func SpanRange(start, end int) *RangeSpec {
	return &RangeSpec{Range: archive.Range{Start: start, End: end}}
}

// Parallelism is a worker count, or "auto" for the CPU count.
type Parallelism int

// ParallelismAuto requests one worker per CPU.
const ParallelismAuto Parallelism = -1

// UnmarshalYAML accepts a positive integer or the string "auto".
func (p *Parallelism) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		if n < 0 {
			return fmt.Errorf("%w: parallelism must be positive, got %d", maelstrom.ErrConfig, n)
		}
		*p = Parallelism(n)
		return nil
	}
	var str string
	if err := value.Decode(&str); err != nil || str != "auto" {
		return fmt.Errorf("%w: parallelism must be a positive integer or \"auto\"", maelstrom.ErrConfig)
	}
	*p = ParallelismAuto
	return nil
}

// limits converts the configured selections into the archive dimension-limit
// specification.
func (c Config) limits() archive.Limits {
	l := archive.Limits{Predictors: c.LimitPredictors}
	if c.LimitLeadtimes != nil {
		l.Leadtimes = c.LimitLeadtimes.Indices()
	}
	if c.XRange != nil {
		r := c.XRange.Range
		l.X = &r
	}
	if c.YRange != nil {
		r := c.YRange.Range
		l.Y = &r
	}
	return l
}

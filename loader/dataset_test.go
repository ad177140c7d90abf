package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	maelstrom "github.com/4castRenewables/maelstrom-train"
	"github.com/4castRenewables/maelstrom-train/archive"
	"github.com/4castRenewables/maelstrom-train/grid"
)

// countingReader wraps a Reader and counts Read calls.
type countingReader struct {
	inner archive.Reader

	mu    sync.Mutex
	reads int
}

func (r *countingReader) Read(index int) (grid.Array, grid.Array, error) {
	r.mu.Lock()
	r.reads++
	r.mu.Unlock()
	return r.inner.Read(index)
}

func (r *countingReader) NumFiles() int { return r.inner.NumFiles() }

func (r *countingReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// failingReader fails every read past a given file index.
type failingReader struct {
	inner    archive.Reader
	failFrom int
}

func (r *failingReader) Read(index int) (grid.Array, grid.Array, error) {
	if index >= r.failFrom {
		return grid.Array{}, grid.Array{}, fmt.Errorf("%w: injected read failure", maelstrom.ErrIO)
	}
	return r.inner.Read(index)
}

func (r *failingReader) NumFiles() int { return r.inner.NumFiles() }

func drain(t *testing.T, d *Dataset) []Batch {
	t.Helper()
	var batches []Batch
	for {
		b, err := d.Next()
		if errors.Is(err, io.EOF) {
			return batches
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		batches = append(batches, b)
	}
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStreamBatchShapes(t *testing.T) {
	pattern := twoFileFixture(t, 3, 4, 4, []string{"air_temperature_2m", "precipitation"})
	l, err := New(Config{
		Filenames: []string{pattern},
		PatchSize: 2,
		BatchSize: 1,
		Prefetch:  2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	if d.Len() != 8 {
		t.Fatalf("Len = %d", d.Len())
	}

	batches := drain(t, d)
	if len(batches) != 8 {
		t.Fatalf("got %d batches, want 8", len(batches))
	}
	for i, b := range batches {
		if !sameInts(b.PredictorDims, []int{1, 3, 2, 2, 2}) {
			t.Fatalf("batch %d predictor dims %v", i, b.PredictorDims)
		}
		if !sameInts(b.TargetDims, []int{1, 3, 2, 2, 1}) {
			t.Fatalf("batch %d target dims %v", i, b.TargetDims)
		}
		if b.Size != 1 {
			t.Fatalf("batch %d size %d", i, b.Size)
		}
		if b.Predictors == nil || b.Targets == nil {
			t.Fatalf("batch %d tensors missing", i)
		}
	}

	// The stream stays exhausted.
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after exhaustion: %v", err)
	}
}

func TestStreamFinalBatchSmaller(t *testing.T) {
	pattern := twoFileFixture(t, 3, 4, 4, []string{"air_temperature_2m", "precipitation"})
	l, err := New(Config{Filenames: []string{pattern}, PatchSize: 2, BatchSize: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batches := drain(t, l.Dataset(DatasetOptions{}))
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = b.Size
	}
	if !sameInts(sizes, []int{3, 3, 2}) {
		t.Fatalf("batch sizes %v, want [3 3 2]", sizes)
	}
	if batches[2].PredictorDims[0] != 2 {
		t.Fatalf("final batch dims %v", batches[2].PredictorDims)
	}
}

func TestParallelTransformKeepsLeadtimeOrder(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.bin", newTestArchive(7, 4, 4, []string{"air_temperature_2m"}, nil))
	l, err := New(Config{
		Filenames:     []string{filepath.Join(dir, "a.bin")},
		Parallelism:   3,
		ExtraFeatures: []FeatureSpec{{Type: "leadtime"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	samples, err := d.fileSamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("fileSamples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples", len(samples))
	}

	p := samples[0].p
	for lt := 0; lt < 7; lt++ {
		// Channel 0 carries the lead-time encoding of the fixture values, and
		// channel 1 is the synthetic leadtime feature with global indices.
		if got := p.At(lt, 0, 0, 0); got != float32(1000*lt) {
			t.Fatalf("dynamic channel at lead time %d: got %v", lt, got)
		}
		if got := p.At(lt, 2, 3, 1); got != float32(lt) {
			t.Fatalf("leadtime feature at lead time %d: got %v", lt, got)
		}
	}
}

func TestExtraFeatureXChannel(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.bin", newTestArchive(2, 3, 4, []string{"air_temperature_2m", "precipitation"}, nil))
	l, err := New(Config{
		Filenames:     []string{filepath.Join(dir, "a.bin")},
		ExtraFeatures: []FeatureSpec{{Type: "x"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	samples, err := d.fileSamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("fileSamples: %v", err)
	}

	p := samples[0].p
	for lt := 0; lt < 2; lt++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				if got := p.At(lt, y, x, 2); got != float32(x) {
					t.Fatalf("x channel at (%d,%d,%d): got %v", lt, y, x, got)
				}
			}
		}
	}
}

func TestLimitLeadtimes(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.bin", newTestArchive(5, 4, 4, []string{"air_temperature_2m"}, nil))
	sel, err := SelectRange("1:3")
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	l, err := New(Config{
		Filenames:      []string{filepath.Join(dir, "a.bin")},
		LimitLeadtimes: sel,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.NumLeadtimes() != 2 {
		t.Fatalf("NumLeadtimes = %d", l.NumLeadtimes())
	}
	if lt := l.Metadata().Leadtimes; lt[0] != 1 || lt[1] != 2 {
		t.Fatalf("Leadtimes = %v", lt)
	}

	d := l.Dataset(DatasetOptions{})
	samples, err := d.fileSamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("fileSamples: %v", err)
	}
	p := samples[0].p
	if p.Dims[0] != 2 {
		t.Fatalf("sample lead-time axis %v", p.Dims)
	}
	// The first kept lead time is source index 1.
	if got := p.At(0, 0, 0, 0); got != 1000 {
		t.Fatalf("first lead time value %v", got)
	}
}

func TestPredictDiffResiduals(t *testing.T) {
	f := newTestArchive(3, 4, 4, []string{"air_temperature_2m"}, nil)
	// Targets sit exactly one unit above the raw forecast everywhere.
	for i, v := range f.Predictors {
		f.TargetMean[i] = v + 1
	}
	dir := t.TempDir()
	writeArchive(t, dir, "a.bin", f)

	l, err := New(Config{
		Filenames:   []string{filepath.Join(dir, "a.bin")},
		PredictDiff: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	samples, err := d.fileSamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("fileSamples: %v", err)
	}
	for _, v := range samples[0].t.Data {
		if v != 1 {
			t.Fatalf("residual %v, want 1", v)
		}
	}
}

func TestNormalizationApplied(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.bin", newTestArchive(2, 2, 2, []string{"air_temperature_2m"}, nil))
	source := filepath.Join(dir, "coeffs.yml")
	if err := os.WriteFile(source, []byte("air_temperature_2m: [1, 2]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := New(Config{
		Filenames:     []string{filepath.Join(dir, "a.bin")},
		Normalization: source,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	samples, err := d.fileSamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("fileSamples: %v", err)
	}
	p := samples[0].p
	// Raw value at (0,0,1) is 10; normalized with mean 1 and scale 2.
	if got := p.At(0, 0, 1, 0); got != (10-1)/2.0 {
		t.Fatalf("normalized value %v", got)
	}
}

func TestCacheSkipsRereads(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	l, err := New(Config{Filenames: []string{pattern}, Cache: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	counting := &countingReader{inner: l.reader}
	l.reader = counting

	d := l.Dataset(DatasetOptions{Repeat: 3})
	batches := drain(t, d)
	if len(batches) != 6 {
		t.Fatalf("got %d batches, want 6", len(batches))
	}
	if counting.count() != 2 {
		t.Fatalf("%d reads for 3 passes over 2 cached files", counting.count())
	}
}

func TestCacheSurvivesRestart(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	l, err := New(Config{Filenames: []string{pattern}, Cache: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	counting := &countingReader{inner: l.reader}
	l.reader = counting

	d := l.Dataset(DatasetOptions{})
	drain(t, d)
	if err := d.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	drain(t, d)
	if counting.count() != 2 {
		t.Fatalf("%d reads across two epochs with cache", counting.count())
	}
}

func TestRestartStreamsAgain(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	l, err := New(Config{Filenames: []string{pattern}, PatchSize: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	first := drain(t, d)
	if err := d.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	second := drain(t, d)
	if len(first) != len(second) {
		t.Fatalf("epoch sizes differ: %d vs %d", len(first), len(second))
	}
}

func TestCloseEndsStream(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	l, err := New(Config{Filenames: []string{pattern}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	d.Close()
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after Close: %v", err)
	}
}

func TestYield(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	l, err := New(Config{Filenames: []string{pattern}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	spec, inputs, labels, err := d.Yield()
	if err != nil {
		t.Fatalf("Yield: %v", err)
	}
	if _, ok := spec.(Batch); !ok {
		t.Fatalf("spec is %T", spec)
	}
	if len(inputs) != 1 || len(labels) != 1 {
		t.Fatalf("%d inputs, %d labels", len(inputs), len(labels))
	}
}

func TestFileOrderDeterministicWithSeed(t *testing.T) {
	l := &Loader{filenames: make([]string, 8)}
	a := (&Dataset{loader: l, opts: DatasetOptions{Shuffle: true, Seed: 42}}).fileOrder()
	b := (&Dataset{loader: l, opts: DatasetOptions{Shuffle: true, Seed: 42}}).fileOrder()
	if !sameInts(a, b) {
		t.Fatalf("orders differ: %v vs %v", a, b)
	}

	seen := make(map[int]bool)
	for _, i := range a {
		seen[i] = true
	}
	if len(seen) != 8 {
		t.Fatalf("shuffle dropped indices: %v", a)
	}
}

func TestFileOrderRepeat(t *testing.T) {
	l := &Loader{filenames: make([]string, 3)}
	order := (&Dataset{loader: l, opts: DatasetOptions{Repeat: 2}}).fileOrder()
	if !sameInts(order, []int{0, 1, 2, 0, 1, 2}) {
		t.Fatalf("order = %v", order)
	}
}

func TestStreamAbortsOnReadError(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	l, err := New(Config{Filenames: []string{pattern}, PatchSize: 2, BatchSize: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.reader = &failingReader{inner: l.reader, failFrom: 1}

	d := l.Dataset(DatasetOptions{})
	var got error
	batches := 0
	for {
		_, err := d.Next()
		if err != nil {
			got = err
			break
		}
		batches++
	}
	if !errors.Is(got, maelstrom.ErrIO) {
		t.Fatalf("terminal error %v, want ErrIO", got)
	}
	// The first file yields its two batches before the failure.
	if batches != 2 {
		t.Fatalf("got %d batches before failure", batches)
	}

	// A failed stream stays ended.
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after failure: %v", err)
	}
}

func TestFakeLoader(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	l, err := New(Config{Filenames: []string{pattern}, Fake: true, PatchSize: 2, BatchSize: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := l.Dataset(DatasetOptions{})
	samples, err := d.fileSamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("fileSamples: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("got %d samples", len(samples))
	}
	for _, v := range samples[0].p.Data {
		if v != 0 {
			t.Fatalf("fake sample not zero-filled")
		}
	}

	batches := drain(t, d)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
}

func TestToAcceleratorUsesDevice(t *testing.T) {
	pattern := twoFileFixture(t, 2, 4, 4, []string{"air_temperature_2m"})
	transfers := 0
	l, err := New(Config{Filenames: []string{pattern}, ToAccelerator: true},
		WithDevice(deviceFunc(func() { transfers++ })))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batches := drain(t, l.Dataset(DatasetOptions{}))
	// One predictor and one target transfer per batch.
	if want := 2 * len(batches); transfers != want {
		t.Fatalf("%d transfers for %d batches", transfers, len(batches))
	}
}

// deviceFunc counts transfers and leaves tensors on the host.
type deviceFunc func()

func (f deviceFunc) Transfer(t *tensors.Tensor) (*tensors.Tensor, error) {
	f()
	return t, nil
}

package loader

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/4castRenewables/maelstrom-train/grid"
)

// DatasetOptions controls how a stream enumerates the file list.
type DatasetOptions struct {
	// Shuffle randomizes the file order once per stream.
	Shuffle bool
	// Seed fixes the shuffle order; zero seeds from the wall clock.
	Seed int64
	// Repeat streams the index sequence this many times. Values below one
	// mean a single pass.
	Repeat int
}

// Batch is one consumer-ready group of samples.
type Batch struct {
	Predictors *tensors.Tensor
	Targets    *tensors.Tensor

	// PredictorDims and TargetDims mirror the tensor shapes:
	// (batch, leadtime, y, x, channels).
	PredictorDims []int
	TargetDims    []int
	// Size is the number of samples in the batch; the final batch of a
	// stream may be smaller than the configured batch size.
	Size int
}

// Dataset is a restartable lazy sequence of batches. It satisfies the gomlx
// train.Dataset shape: Yield returns io.EOF when the stream is exhausted, and
// Restart rewinds to the beginning.
type Dataset struct {
	loader *Loader
	opts   DatasetOptions
	cache  *sampleCache

	mu     sync.Mutex
	stream *stream
	done   bool
}

type batchOrErr struct {
	batch Batch
	err   error
}

type stream struct {
	cancel context.CancelFunc
	out    chan batchOrErr
}

// Dataset builds a batch stream over the loader's file list. The stream is
// lazy: no file is opened until the first batch is requested.
func (l *Loader) Dataset(opts DatasetOptions) *Dataset {
	return &Dataset{loader: l, opts: opts, cache: newSampleCache()}
}

// Name identifies the dataset to training loops.
func (d *Dataset) Name() string { return "maelstrom" }

// Len returns the number of batches one full stream produces.
func (d *Dataset) Len() int {
	repeat := d.opts.Repeat
	if repeat < 1 {
		repeat = 1
	}
	return ceilDiv(d.loader.NumPatches()*repeat, d.loader.batchSize())
}

// Next returns the next batch. It returns io.EOF when the stream is
// exhausted and a terminal error if a file could not be read or transformed;
// either way the stream ends (failed files are never silently skipped, since
// that would change the epoch size).
func (d *Dataset) Next() (Batch, error) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return Batch{}, io.EOF
	}
	if d.stream == nil {
		d.stream = d.start()
	}
	s := d.stream
	d.mu.Unlock()

	r, ok := <-s.out
	if !ok {
		d.mu.Lock()
		d.done = true
		d.mu.Unlock()
		return Batch{}, io.EOF
	}
	if r.err != nil {
		d.mu.Lock()
		d.done = true
		d.mu.Unlock()
		return Batch{}, r.err
	}
	return r.batch, nil
}

// Yield returns the next batch as tensor slices, with the Batch as spec.
func (d *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := d.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	return b, []*tensors.Tensor{b.Predictors}, []*tensors.Tensor{b.Targets}, nil
}

// Restart aborts any in-flight work and rewinds the stream to the start.
// Cached samples survive restarts.
func (d *Dataset) Restart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.cancel()
		d.stream = nil
	}
	d.done = false
	return nil
}

// Close aborts in-flight work and marks the stream exhausted.
func (d *Dataset) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.cancel()
		d.stream = nil
	}
	d.done = true
}

func (d *Dataset) start() *stream {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan batchOrErr, d.loader.cfg.Prefetch)
	s := &stream{cancel: cancel, out: out}
	go d.produce(ctx, out)
	return s
}

// produce runs the streaming state machine: enumerate file indices, read
// sequentially, transform chunks in parallel, flatten patches into samples,
// and group them into batches. Output order follows input file-index order;
// within a file, patch order is row-major and lead-time order is preserved.
func (d *Dataset) produce(ctx context.Context, out chan<- batchOrErr) {
	defer close(out)
	l := d.loader
	l.metrics.StreamRunning.Set(1)
	defer l.metrics.StreamRunning.Set(0)

	indices := d.fileOrder()
	batchSize := l.batchSize()
	pending := make([]sample, 0, batchSize)

	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		b, err := l.makeBatch(pending)
		pending = pending[:0]
		if err != nil {
			return emit(ctx, out, batchOrErr{err: err})
		}
		return emit(ctx, out, batchOrErr{batch: b})
	}

	for _, idx := range indices {
		if ctx.Err() != nil {
			return
		}
		samples, err := d.fileSamples(ctx, idx)
		if err != nil {
			l.metrics.ReadErrors.Inc()
			l.logger.Error("file failed, aborting stream", "file_index", idx, "error", err)
			emit(ctx, out, batchOrErr{err: err})
			return
		}
		for _, s := range samples {
			pending = append(pending, s)
			if len(pending) == batchSize {
				if !flush() {
					return
				}
			}
		}
	}
	flush()
}

// fileOrder enumerates file indices, optionally shuffled, repeated for
// multi-epoch streaming.
func (d *Dataset) fileOrder() []int {
	n := d.loader.NumFiles()
	base := make([]int, n)
	for i := range base {
		base[i] = i
	}
	if d.opts.Shuffle {
		seed := d.opts.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) { base[i], base[j] = base[j], base[i] })
	}
	repeat := d.opts.Repeat
	if repeat < 1 {
		repeat = 1
	}
	order := make([]int, 0, n*repeat)
	for i := 0; i < repeat; i++ {
		order = append(order, base...)
	}
	return order
}

// fileSamples realizes every sample of one file, consulting the cache first.
func (d *Dataset) fileSamples(ctx context.Context, fileIndex int) ([]sample, error) {
	l := d.loader
	if l.cfg.Cache {
		if cached, ok := d.cache.get(fileIndex); ok {
			return cached, nil
		}
	}

	var p, t grid.Array
	err := l.timed("read", func() error {
		var err error
		p, t, err = l.reader.Read(fileIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.metrics.FilesRead.Inc()
	l.logger.Debug("file read", "file_index", fileIndex, "predictor_dims", p.Dims)

	p, t, err = l.transformFile(ctx, p, t)
	if err != nil {
		return nil, err
	}

	// After reordering the layout is (patch, leadtime, y, x, channel); each
	// leading row is one sample.
	numPatches := p.Dims[0]
	samples := make([]sample, numPatches)
	for i := 0; i < numPatches; i++ {
		sp := p.SliceLead(i, i+1)
		st := t.SliceLead(i, i+1)
		sp.Dims = sp.Dims[1:]
		st.Dims = st.Dims[1:]
		samples[i] = sample{p: sp, t: st}
	}
	l.metrics.SamplesProduced.Add(float64(numPatches))

	if l.cfg.Cache {
		d.cache.put(fileIndex, samples)
	}
	return samples, nil
}

// transformFile splits the lead-time axis into roughly equal contiguous
// chunks, runs the stage chain per chunk on the worker pool, rejoins the
// chunks, and reorders. Reordering needs the complete lead-time axis, so it
// runs after the rejoin.
func (l *Loader) transformFile(ctx context.Context, p, t grid.Array) (grid.Array, grid.Array, error) {
	chain := grid.Chain{
		Features:  l.features,
		PatchSize: l.cfg.PatchSize,
		RawIndex:  l.rawIndex,
		Coeffs:    l.coeffs,
	}

	numLead := p.Dims[0]
	chunkLen := ceilDiv(numLead, l.workers)
	numChunks := ceilDiv(numLead, chunkLen)

	type chunkResult struct {
		p, t grid.Array
		err  error
	}
	results := make([]chunkResult, numChunks)

	var wg sync.WaitGroup
	for c := 0; c < numChunks; c++ {
		lo := c * chunkLen
		hi := min(lo+chunkLen, numLead)
		wg.Add(1)
		go func(c, lo, hi int) {
			defer wg.Done()
			if ctx.Err() != nil {
				results[c].err = ctx.Err()
				return
			}
			var cp, ct grid.Array
			err := l.timed("transform", func() error {
				var err error
				cp, ct, err = chain.Apply(p.SliceLead(lo, hi), t.SliceLead(lo, hi), lo)
				return err
			})
			results[c] = chunkResult{p: cp, t: ct, err: err}
		}(c, lo, hi)
	}
	wg.Wait()

	pParts := make([]grid.Array, numChunks)
	tParts := make([]grid.Array, numChunks)
	for c, r := range results {
		if r.err != nil {
			return grid.Array{}, grid.Array{}, r.err
		}
		pParts[c] = r.p
		tParts[c] = r.t
	}

	pFull, err := grid.ConcatLead(pParts...)
	if err != nil {
		return grid.Array{}, grid.Array{}, fmt.Errorf("rejoin predictor chunks: %w", err)
	}
	tFull, err := grid.ConcatLead(tParts...)
	if err != nil {
		return grid.Array{}, grid.Array{}, fmt.Errorf("rejoin target chunks: %w", err)
	}

	l.timed("reorder", func() error {
		pFull = grid.Reorder(pFull)
		tFull = grid.Reorder(tFull)
		return nil
	})
	return pFull, tFull, nil
}

// makeBatch stacks samples into one (batch, leadtime, y, x, channel) tensor
// pair and hands it to the device when accelerator transfer is enabled.
func (l *Loader) makeBatch(samples []sample) (Batch, error) {
	bs := len(samples)
	pDims := append([]int{bs}, samples[0].p.Dims...)
	tDims := append([]int{bs}, samples[0].t.Dims...)

	var pt, tt *tensors.Tensor
	l.timed("convert", func() error {
		pFlat := make([]float32, 0, bs*samples[0].p.Size())
		tFlat := make([]float32, 0, bs*samples[0].t.Size())
		for _, s := range samples {
			pFlat = append(pFlat, s.p.Data...)
			tFlat = append(tFlat, s.t.Data...)
		}
		pt = tensors.FromFlatDataAndDimensions(pFlat, pDims...)
		tt = tensors.FromFlatDataAndDimensions(tFlat, tDims...)
		return nil
	})

	if l.cfg.ToAccelerator {
		err := l.timed("device", func() error {
			var err error
			if pt, err = l.device.Transfer(pt); err != nil {
				return err
			}
			tt, err = l.device.Transfer(tt)
			return err
		})
		if err != nil {
			return Batch{}, fmt.Errorf("device transfer: %w", err)
		}
	}

	l.metrics.BatchesProduced.Inc()
	return Batch{
		Predictors:    pt,
		Targets:       tt,
		PredictorDims: pDims,
		TargetDims:    tDims,
		Size:          bs,
	}, nil
}

// timed runs fn and records its duration under the stage name, both in the
// stage timer and the Prometheus histogram.
func (l *Loader) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	l.timer.Add(stage, elapsed)
	l.metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	return err
}

func emit(ctx context.Context, out chan<- batchOrErr, r batchOrErr) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

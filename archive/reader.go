package archive

import (
	"fmt"

	maelstrom "github.com/4castRenewables/maelstrom-train"
	"github.com/4castRenewables/maelstrom-train/grid"
)

// Reader loads the predictor and target arrays for one file index.
//
// Predictors have shape (leadtime, y, x, input channels); targets have shape
// (leadtime, y, x, 1). Static predictors are broadcast across every lead time
// and concatenated after the dynamic channels.
type Reader interface {
	Read(index int) (predictors, targets grid.Array, err error)
	NumFiles() int
}

// FileReader reads gob archive files, applying the same dimension limits that
// produced the resolved metadata.
type FileReader struct {
	paths  []string
	limits Limits
	meta   Metadata
}

// NewFileReader wraps an ordered file list. meta must come from Resolve with
// the same limits.
func NewFileReader(paths []string, limits Limits, meta Metadata) *FileReader {
	return &FileReader{paths: paths, limits: limits, meta: meta}
}

// NumFiles returns the number of archive files.
func (r *FileReader) NumFiles() int { return len(r.paths) }

// Path returns the archive path for a file index.
func (r *FileReader) Path(index int) string { return r.paths[index] }

// Read loads, limits, and merges one archive file into a (predictors,
// targets) pair. Axis lengths that disagree with the resolved metadata are a
// data-format failure.
func (r *FileReader) Read(index int) (grid.Array, grid.Array, error) {
	f, err := Open(r.paths[index])
	if err != nil {
		return grid.Array{}, grid.Array{}, err
	}
	sel, err := r.limits.resolve(f)
	if err != nil {
		return grid.Array{}, grid.Array{}, fmt.Errorf("read %s: %w", r.paths[index], err)
	}
	if err := r.checkAgainstMetadata(sel); err != nil {
		return grid.Array{}, grid.Array{}, fmt.Errorf("read %s: %w", r.paths[index], err)
	}

	nl := len(sel.leads)
	ny, nx := sel.y.Len(), sel.x.Len()
	nDyn, nStat := len(sel.dyn), len(sel.stat)

	predictors := grid.Zeros(nl, ny, nx, nDyn+nStat)
	targets := grid.Zeros(nl, ny, nx, 1)

	srcNP := len(f.PredictorNames)
	srcNS := len(f.StaticPredictorNames)
	dst := 0
	tdst := 0
	for _, lt := range sel.leads {
		for y := sel.y.Start; y < sel.y.End; y++ {
			for x := sel.x.Start; x < sel.x.End; x++ {
				cell := (lt*f.YSize + y) * f.XSize
				base := (cell + x) * srcNP
				for _, p := range sel.dyn {
					predictors.Data[dst] = f.Predictors[base+p]
					dst++
				}
				// Static predictors repeat identically for every lead time.
				sbase := (y*f.XSize + x) * srcNS
				for _, p := range sel.stat {
					predictors.Data[dst] = f.StaticPredictors[sbase+p]
					dst++
				}
				targets.Data[tdst] = f.TargetMean[cell+x]
				tdst++
			}
		}
	}
	return predictors, targets, nil
}

func (r *FileReader) checkAgainstMetadata(sel selection) error {
	if got := len(sel.leads); got != r.meta.NumLeadtimes() {
		return fmt.Errorf("%w: lead-time axis resolves to %d, metadata declares %d",
			maelstrom.ErrDataFormat, got, r.meta.NumLeadtimes())
	}
	if got := sel.y.Len(); got != r.meta.YSize {
		return fmt.Errorf("%w: y axis resolves to %d, metadata declares %d",
			maelstrom.ErrDataFormat, got, r.meta.YSize)
	}
	if got := sel.x.Len(); got != r.meta.XSize {
		return fmt.Errorf("%w: x axis resolves to %d, metadata declares %d",
			maelstrom.ErrDataFormat, got, r.meta.XSize)
	}
	if got := len(sel.dyn) + len(sel.stat); got != r.meta.NumInputPredictors {
		return fmt.Errorf("%w: predictor axis resolves to %d channels, metadata declares %d",
			maelstrom.ErrDataFormat, got, r.meta.NumInputPredictors)
	}
	return nil
}

// FakeReader yields zero-filled arrays of the resolved shape, for testing and
// benchmarking without real archives.
type FakeReader struct {
	meta  Metadata
	files int
}

// NewFakeReader builds a synthetic reader presenting the given number of
// files.
func NewFakeReader(meta Metadata, files int) *FakeReader {
	return &FakeReader{meta: meta, files: files}
}

// NumFiles returns the configured synthetic file count.
func (r *FakeReader) NumFiles() int { return r.files }

// Read returns zero-filled arrays matching the resolved metadata shape.
func (r *FakeReader) Read(index int) (grid.Array, grid.Array, error) {
	if index < 0 || index >= r.files {
		return grid.Array{}, grid.Array{}, fmt.Errorf("%w: file index %d outside [0, %d)",
			maelstrom.ErrIO, index, r.files)
	}
	nl := r.meta.NumLeadtimes()
	p := grid.Zeros(nl, r.meta.YSize, r.meta.XSize, r.meta.NumInputPredictors)
	t := grid.Zeros(nl, r.meta.YSize, r.meta.XSize, 1)
	return p, t, nil
}

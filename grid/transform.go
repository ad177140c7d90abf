package grid

import (
	"fmt"

	maelstrom "github.com/4castRenewables/maelstrom-train"
)

// Coefficients holds one (mean, scale) pair per predictor channel. Row i
// always corresponds to predictor name i.
type Coefficients [][2]float32

// Chain bundles the per-chunk transform stages in their fixed order:
// extract-features, patch, diff, normalize. Reordering runs separately on the
// rejoined lead-time axis, see Reorder.
type Chain struct {
	// Features are appended as synthetic channels, in order, after all input
	// channels.
	Features []Feature
	// PatchSize decomposes the spatial grid into PatchSize x PatchSize tiles.
	// Zero disables decomposition but still inserts a size-1 patch axis.
	PatchSize int
	// RawIndex is the channel of the raw forecast subtracted from targets.
	// Negative disables the diff stage.
	RawIndex int
	// Coeffs normalizes predictor channels. Nil disables normalization.
	Coeffs Coefficients
}

// Apply runs the chain on one lead-time chunk. leadOffset is the global index
// of the chunk's first lead time, so the synthetic leadtime channel carries
// global coordinates regardless of how the file was chunked.
//
// Input shapes: predictors (leadtime, y, x, channel), targets
// (leadtime, y, x, 1). Output shapes: (leadtime, patch, py, px, channel) and
// (leadtime, patch, py, px, 1).
func (c Chain) Apply(p, t Array, leadOffset int) (Array, Array, error) {
	if p.Rank() != 4 || t.Rank() != 4 {
		return Array{}, Array{}, fmt.Errorf("%w: transform chain needs rank-4 inputs, got %v and %v",
			maelstrom.ErrDataFormat, p.Dims, t.Dims)
	}
	if !sameDims(p.Dims[:3], t.Dims[:3]) {
		return Array{}, Array{}, fmt.Errorf("%w: predictor dims %v do not pair with target dims %v",
			maelstrom.ErrDataFormat, p.Dims, t.Dims)
	}

	p = ExtractFeatures(p, c.Features, leadOffset)
	p = Patch(p, c.PatchSize)
	t = Patch(t, c.PatchSize)
	t = Diff(p, t, c.RawIndex)
	p, err := Normalize(p, c.Coeffs)
	if err != nil {
		return Array{}, Array{}, err
	}
	return p, t, nil
}

// ExtractFeatures appends one synthetic channel per feature descriptor, each
// a broadcast of a coordinate index range over the two orthogonal axes.
//
// Input: (leadtime, y, x, channel). Output: (leadtime, y, x, channel+len(feats)).
func ExtractFeatures(p Array, feats []Feature, leadOffset int) Array {
	if len(feats) == 0 {
		return p
	}
	nl, ny, nx, nc := p.Dims[0], p.Dims[1], p.Dims[2], p.Dims[3]
	out := Zeros(nl, ny, nx, nc+len(feats))

	src := 0
	dst := 0
	for l := 0; l < nl; l++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				copy(out.Data[dst:dst+nc], p.Data[src:src+nc])
				for f, feat := range feats {
					var v float32
					switch feat.Type {
					case FeatureX:
						v = float32(x)
					case FeatureY:
						v = float32(y)
					case FeatureLeadtime:
						v = float32(leadOffset + l)
					}
					out.Data[dst+nc+f] = v
				}
				src += nc
				dst += nc + len(feats)
			}
		}
	}
	return out
}

// Patch decomposes the spatial grid into non-overlapping ps x ps tiles. The
// trailing edge of each spatial axis is trimmed so it divides evenly; the
// remainder is discarded, not padded. Patches are ordered row-major
// (y-patch-major, x-patch-minor).
//
// Input: (leadtime, y, x, channel).
// Output: (leadtime, ny*nx patches, ps, ps, channel), or a size-1 patch axis
// when ps is zero.
func Patch(a Array, ps int) Array {
	nl, ny, nx, nc := a.Dims[0], a.Dims[1], a.Dims[2], a.Dims[3]
	if ps <= 0 {
		out := a.Clone()
		out.Dims = []int{nl, 1, ny, nx, nc}
		return out
	}

	npy, npx := ny/ps, nx/ps
	out := Zeros(nl, npy*npx, ps, ps, nc)
	rowLen := ps * nc
	for l := 0; l < nl; l++ {
		for py := 0; py < npy; py++ {
			for px := 0; px < npx; px++ {
				patch := py*npx + px
				for yy := 0; yy < ps; yy++ {
					src := ((l*ny+py*ps+yy)*nx + px*ps) * nc
					dst := (((l*(npy*npx)+patch)*ps + yy) * ps) * nc
					copy(out.Data[dst:dst+rowLen], a.Data[src:src+rowLen])
				}
			}
		}
	}
	return out
}

// Unpatch reassembles row-major tiles back into a full grid, the inverse of
// Patch over the trimmed domain.
//
// Input: (leadtime, npy*npx, ps, ps, channel). Output: (leadtime, npy*ps,
// npx*ps, channel).
func Unpatch(a Array, npy, npx int) Array {
	nl, ps, nc := a.Dims[0], a.Dims[2], a.Dims[4]
	ny, nx := npy*ps, npx*ps
	out := Zeros(nl, ny, nx, nc)
	rowLen := ps * nc
	for l := 0; l < nl; l++ {
		for py := 0; py < npy; py++ {
			for px := 0; px < npx; px++ {
				patch := py*npx + px
				for yy := 0; yy < ps; yy++ {
					src := (((l*(npy*npx)+patch)*ps + yy) * ps) * nc
					dst := ((l*ny+py*ps+yy)*nx + px*ps) * nc
					copy(out.Data[dst:dst+rowLen], a.Data[src:src+rowLen])
				}
			}
		}
	}
	return out
}

// Diff converts targets into residuals against the raw forecast channel:
// t' = t - p[..., rawIndex] at the same location. Predictors are never
// modified. A negative rawIndex passes targets through unchanged.
//
// Input/output: (leadtime, patch, y, x, channel).
func Diff(p, t Array, rawIndex int) Array {
	if rawIndex < 0 {
		return t
	}
	nc := p.Dims[len(p.Dims)-1]
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] -= p.Data[i*nc+rawIndex]
	}
	return out
}

// Normalize subtracts the per-channel mean and divides by the per-channel
// scale, broadcasting each (mean, scale) pair across all non-channel axes.
// Nil coefficients pass predictors through unchanged.
func Normalize(p Array, coeffs Coefficients) (Array, error) {
	if coeffs == nil {
		return p, nil
	}
	nc := p.Dims[len(p.Dims)-1]
	if len(coeffs) != nc {
		return Array{}, fmt.Errorf("%w: %d coefficient rows for %d channels",
			maelstrom.ErrDataFormat, len(coeffs), nc)
	}
	out := p.Clone()
	for i := range out.Data {
		c := coeffs[i%nc]
		out.Data[i] = (out.Data[i] - c[0]) / c[1]
	}
	return out, nil
}

// Denormalize is the inverse of Normalize: multiply by scale, add mean.
func Denormalize(p Array, coeffs Coefficients) (Array, error) {
	if coeffs == nil {
		return p, nil
	}
	nc := p.Dims[len(p.Dims)-1]
	if len(coeffs) != nc {
		return Array{}, fmt.Errorf("%w: %d coefficient rows for %d channels",
			maelstrom.ErrDataFormat, len(coeffs), nc)
	}
	out := p.Clone()
	for i := range out.Data {
		c := coeffs[i%nc]
		out.Data[i] = out.Data[i]*c[1] + c[0]
	}
	return out, nil
}

// Reorder moves the patch axis to the front so each patch becomes an
// independent sample with its full lead-time sequence intact.
//
// Input: (leadtime, patch, y, x, channel). Output: (patch, leadtime, y, x,
// channel).
func Reorder(a Array) Array {
	nl, np := a.Dims[0], a.Dims[1]
	block := a.Size() / (nl * np)
	out := Zeros(np, nl, a.Dims[2], a.Dims[3], a.Dims[4])
	for l := 0; l < nl; l++ {
		for p := 0; p < np; p++ {
			src := (l*np + p) * block
			dst := (p*nl + l) * block
			copy(out.Data[dst:dst+block], a.Data[src:src+block])
		}
	}
	return out
}

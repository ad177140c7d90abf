// Package grid holds the dense array type and the pure transform stages that
// turn raw gridded forecast fields into patch-decomposed, normalized training
// samples.
//
// Arrays are row-major float32 buffers with explicit dimensions, in the
// spirit of a flat batch buffer plus shape metadata. All stages are pure
// functions over (predictors, targets) pairs; scheduling them onto workers is
// the loader's job.
package grid

import "fmt"

// Array is a dense row-major float32 array.
type Array struct {
	Data []float32
	Dims []int
}

// Zeros returns a zero-filled array with the given dimensions.
func Zeros(dims ...int) Array {
	d := make([]int, len(dims))
	copy(d, dims)
	n := 1
	for _, v := range d {
		n *= v
	}
	return Array{Data: make([]float32, n), Dims: d}
}

// FromFlat wraps an existing flat buffer. The buffer length must equal the
// product of dims.
func FromFlat(data []float32, dims ...int) (Array, error) {
	d := make([]int, len(dims))
	copy(d, dims)
	n := 1
	for _, v := range d {
		n *= v
	}
	if len(data) != n {
		return Array{}, fmt.Errorf("flat buffer has %d values, dimensions %v need %d", len(data), dims, n)
	}
	return Array{Data: data, Dims: d}, nil
}

// Rank returns the number of dimensions.
func (a Array) Rank() int { return len(a.Dims) }

// Size returns the total number of elements.
func (a Array) Size() int {
	n := 1
	for _, v := range a.Dims {
		n *= v
	}
	return n
}

// Clone returns a deep copy.
func (a Array) Clone() Array {
	out := Array{Data: make([]float32, len(a.Data)), Dims: make([]int, len(a.Dims))}
	copy(out.Data, a.Data)
	copy(out.Dims, a.Dims)
	return out
}

// strides returns the row-major stride of each dimension.
func (a Array) strides() []int {
	s := make([]int, len(a.Dims))
	acc := 1
	for i := len(a.Dims) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= a.Dims[i]
	}
	return s
}

// At returns the element at the given multi-index.
func (a Array) At(idx ...int) float32 {
	return a.Data[a.offset(idx)]
}

// Set stores v at the given multi-index.
func (a Array) Set(v float32, idx ...int) {
	a.Data[a.offset(idx)] = v
}

func (a Array) offset(idx []int) int {
	if len(idx) != len(a.Dims) {
		panic(fmt.Sprintf("grid: index rank %d does not match array rank %d", len(idx), len(a.Dims)))
	}
	off := 0
	for i, s := range a.strides() {
		off += idx[i] * s
	}
	return off
}

// SliceLead returns a view of rows [lo, hi) along the leading dimension.
// The returned array shares the underlying buffer.
func (a Array) SliceLead(lo, hi int) Array {
	if a.Rank() == 0 || lo < 0 || hi > a.Dims[0] || lo > hi {
		panic(fmt.Sprintf("grid: slice [%d:%d) out of range for leading dimension %v", lo, hi, a.Dims))
	}
	block := a.Size() / a.Dims[0]
	dims := make([]int, len(a.Dims))
	copy(dims, a.Dims)
	dims[0] = hi - lo
	return Array{Data: a.Data[lo*block : hi*block], Dims: dims}
}

// ConcatLead concatenates arrays along the leading dimension. All arrays must
// agree on the trailing dimensions.
func ConcatLead(parts ...Array) (Array, error) {
	if len(parts) == 0 {
		return Array{}, fmt.Errorf("nothing to concatenate")
	}
	first := parts[0]
	total := 0
	for _, p := range parts {
		if p.Rank() != first.Rank() {
			return Array{}, fmt.Errorf("rank mismatch: %d vs %d", p.Rank(), first.Rank())
		}
		for i := 1; i < first.Rank(); i++ {
			if p.Dims[i] != first.Dims[i] {
				return Array{}, fmt.Errorf("trailing dimension mismatch: %v vs %v", p.Dims, first.Dims)
			}
		}
		total += p.Dims[0]
	}
	dims := make([]int, len(first.Dims))
	copy(dims, first.Dims)
	dims[0] = total
	out := Array{Data: make([]float32, 0, total*first.Size()/max(first.Dims[0], 1)), Dims: dims}
	for _, p := range parts {
		out.Data = append(out.Data, p.Data...)
	}
	return out, nil
}

func sameDims(a, b []int) bool {
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

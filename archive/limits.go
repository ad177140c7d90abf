package archive

import (
	"fmt"
	"slices"

	maelstrom "github.com/4castRenewables/maelstrom-train"
)

// Range is a half-open [Start, End) index interval.
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices covered.
func (r Range) Len() int { return r.End - r.Start }

// Limits restricts which parts of an archive are read. It is applied
// identically during metadata resolution and batch reads, so metadata-derived
// shapes always match what reads produce.
type Limits struct {
	// Predictors is an allow-list of predictor names, applied to both the
	// dynamic and the static predictor axis. Nil means no limiting.
	Predictors []string
	// Leadtimes lists the lead-time indices to keep. Nil means all.
	Leadtimes []int
	// X and Y restrict the spatial axes. Nil means the full axis.
	X *Range
	Y *Range
}

// selection is the per-file realization of Limits: concrete index sets on
// each axis.
type selection struct {
	dyn   []int
	stat  []int
	leads []int
	y     Range
	x     Range
}

// resolve turns Limits into concrete index sets for one file.
func (l Limits) resolve(f *File) (selection, error) {
	var s selection

	if l.Predictors == nil {
		s.dyn = seq(len(f.PredictorNames))
		s.stat = seq(len(f.StaticPredictorNames))
	} else {
		for i, name := range f.PredictorNames {
			if slices.Contains(l.Predictors, name) {
				s.dyn = append(s.dyn, i)
			}
		}
		for i, name := range f.StaticPredictorNames {
			if slices.Contains(l.Predictors, name) {
				s.stat = append(s.stat, i)
			}
		}
	}

	if l.Leadtimes == nil {
		s.leads = seq(f.NumLeadtimes())
	} else {
		for _, i := range l.Leadtimes {
			if i < 0 || i >= f.NumLeadtimes() {
				return selection{}, fmt.Errorf("%w: lead-time index %d outside axis of length %d",
					maelstrom.ErrDataFormat, i, f.NumLeadtimes())
			}
		}
		s.leads = l.Leadtimes
	}

	var err error
	if s.y, err = clampRange(l.Y, f.YSize, "y"); err != nil {
		return selection{}, err
	}
	if s.x, err = clampRange(l.X, f.XSize, "x"); err != nil {
		return selection{}, err
	}
	return s, nil
}

func clampRange(r *Range, size int, axis string) (Range, error) {
	if r == nil {
		return Range{0, size}, nil
	}
	if r.Start < 0 || r.End > size || r.Start >= r.End {
		return Range{}, fmt.Errorf("%w: %s range [%d:%d) outside axis of length %d",
			maelstrom.ErrDataFormat, axis, r.Start, r.End, size)
	}
	return *r, nil
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

package archive

import (
	"fmt"

	maelstrom "github.com/4castRenewables/maelstrom-train"
	"github.com/4castRenewables/maelstrom-train/grid"
)

// Metadata holds the dataset-wide shape facts derived from one representative
// archive file with the dimension limits applied.
type Metadata struct {
	XSize int
	YSize int
	// Leadtimes holds the selected lead-time coordinate values.
	Leadtimes []float32

	// PredictorNamesInput lists the dynamic then static predictor names after
	// limiting, in read order.
	PredictorNamesInput []string
	// PredictorNames appends the extra-feature derived names.
	PredictorNames []string
	// NumInputPredictors is the channel count produced by reads, before
	// feature extraction.
	NumInputPredictors int
	// NumPredictors is the declared output channel count. When a predictor
	// allow-list is configured this is the allow-list length; it describes the
	// declared output shape only and does not itself filter channels.
	NumPredictors int
	// NumTargets is always 1: the target mean field.
	NumTargets int
}

// NumLeadtimes returns the selected lead-time count.
func (m Metadata) NumLeadtimes() int { return len(m.Leadtimes) }

// Resolve opens exactly one archive file, applies the dimension limits, and
// derives the dataset-wide shapes. A patch size larger than either spatial
// extent is rejected.
func Resolve(path string, limits Limits, patchSize int, extras []grid.Feature) (Metadata, error) {
	f, err := Open(path)
	if err != nil {
		return Metadata{}, err
	}
	sel, err := limits.resolve(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolve metadata from %s: %w", path, err)
	}

	m := Metadata{
		XSize:      sel.x.Len(),
		YSize:      sel.y.Len(),
		NumTargets: 1,
	}
	for _, i := range sel.leads {
		m.Leadtimes = append(m.Leadtimes, f.Leadtimes[i])
	}
	for _, i := range sel.dyn {
		m.PredictorNamesInput = append(m.PredictorNamesInput, f.PredictorNames[i])
	}
	for _, i := range sel.stat {
		m.PredictorNamesInput = append(m.PredictorNamesInput, f.StaticPredictorNames[i])
	}
	m.NumInputPredictors = len(m.PredictorNamesInput)

	m.PredictorNames = append(m.PredictorNames, m.PredictorNamesInput...)
	for _, feat := range extras {
		m.PredictorNames = append(m.PredictorNames, feat.Name())
	}
	m.NumPredictors = m.NumInputPredictors + len(extras)
	if limits.Predictors != nil {
		m.NumPredictors = len(limits.Predictors)
	}

	if patchSize > 0 {
		if patchSize > m.XSize {
			return Metadata{}, fmt.Errorf("%w: patch size %d exceeds x axis length %d",
				maelstrom.ErrConfig, patchSize, m.XSize)
		}
		if patchSize > m.YSize {
			return Metadata{}, fmt.Errorf("%w: patch size %d exceeds y axis length %d",
				maelstrom.ErrConfig, patchSize, m.YSize)
		}
	}
	return m, nil
}

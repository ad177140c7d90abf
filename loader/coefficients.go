package loader

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	maelstrom "github.com/4castRenewables/maelstrom-train"
	"github.com/4castRenewables/maelstrom-train/archive"
	"github.com/4castRenewables/maelstrom-train/grid"
)

// buildCoefficients assembles the per-predictor (mean, scale) table. Row i
// always corresponds to meta.PredictorNames[i]; predictors absent from the
// source keep the no-op pair (0, 1).
//
// Analytic coefficients for the synthetic coordinate channels are merged into
// the source mapping first, so explicit entries in the source always win.
func buildCoefficients(sourcePath string, meta archive.Metadata, extras []grid.Feature) (grid.Coefficients, error) {
	if sourcePath == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read normalization source %s: %v", maelstrom.ErrIO, sourcePath, err)
	}
	var source map[string][]float32
	if err := yaml.Unmarshal(raw, &source); err != nil {
		return nil, fmt.Errorf("%w: parse normalization source %s: %v", maelstrom.ErrConfig, sourcePath, err)
	}

	merged := make(map[string][2]float32, len(source)+len(extras))
	for _, feat := range extras {
		merged[feat.Name()] = analyticCoefficients(feat, meta)
	}
	for name, pair := range source {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: normalization entry %q has %d values, expected [mean, scale]",
				maelstrom.ErrConfig, name, len(pair))
		}
		merged[name] = [2]float32{pair[0], pair[1]}
	}

	coeffs := make(grid.Coefficients, len(meta.PredictorNames))
	for i, name := range meta.PredictorNames {
		coeffs[i] = [2]float32{0, 1}
		if pair, ok := merged[name]; ok {
			coeffs[i] = pair
		}
		if coeffs[i][1] == 0 {
			return nil, fmt.Errorf("%w: normalization scale for %q is zero", maelstrom.ErrConfig, name)
		}
	}
	return coeffs, nil
}

// analyticCoefficients returns the mean and population standard deviation of
// the synthetic coordinate's integer range 0..N-1.
func analyticCoefficients(feat grid.Feature, meta archive.Metadata) [2]float32 {
	var n int
	switch feat.Type {
	case grid.FeatureX:
		n = meta.XSize
	case grid.FeatureY:
		n = meta.YSize
	case grid.FeatureLeadtime:
		n = meta.NumLeadtimes()
	}
	if n <= 1 {
		return [2]float32{0, 1}
	}
	mean := float64(n-1) / 2
	var ss float64
	for i := 0; i < n; i++ {
		d := float64(i) - mean
		ss += d * d
	}
	return [2]float32{float32(mean), float32(math.Sqrt(ss / float64(n)))}
}

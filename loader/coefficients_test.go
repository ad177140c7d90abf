package loader

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maelstrom "github.com/4castRenewables/maelstrom-train"
	"github.com/4castRenewables/maelstrom-train/archive"
	"github.com/4castRenewables/maelstrom-train/grid"
)

func writeCoeffSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coeffs.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestBuildCoefficientsNoSource(t *testing.T) {
	coeffs, err := buildCoefficients("", archive.Metadata{PredictorNames: []string{"a"}}, nil)
	require.NoError(t, err)
	assert.Nil(t, coeffs)
}

func TestBuildCoefficientsRowPerPredictor(t *testing.T) {
	path := writeCoeffSource(t, "air_temperature_2m: [273.15, 10]\n")
	meta := archive.Metadata{PredictorNames: []string{"air_temperature_2m", "precipitation"}}

	coeffs, err := buildCoefficients(path, meta, nil)
	require.NoError(t, err)
	require.Len(t, coeffs, 2)
	assert.Equal(t, [2]float32{273.15, 10}, coeffs[0])
	// Predictors absent from the source keep the no-op pair.
	assert.Equal(t, [2]float32{0, 1}, coeffs[1])
}

func TestBuildCoefficientsAnalyticExtras(t *testing.T) {
	path := writeCoeffSource(t, "air_temperature_2m: [0, 1]\n")
	meta := archive.Metadata{
		PredictorNames: []string{"air_temperature_2m", "x"},
		XSize:          4,
	}
	extras := []grid.Feature{{Type: grid.FeatureX}}

	coeffs, err := buildCoefficients(path, meta, extras)
	require.NoError(t, err)
	require.Len(t, coeffs, 2)

	// Mean and population standard deviation of 0..3.
	assert.InDelta(t, 1.5, float64(coeffs[1][0]), 1e-6)
	assert.InDelta(t, math.Sqrt(1.25), float64(coeffs[1][1]), 1e-6)
}

func TestBuildCoefficientsExplicitOverridesAnalytic(t *testing.T) {
	path := writeCoeffSource(t, "x: [5, 2]\n")
	meta := archive.Metadata{
		PredictorNames: []string{"x"},
		XSize:          100,
	}
	coeffs, err := buildCoefficients(path, meta, []grid.Feature{{Type: grid.FeatureX}})
	require.NoError(t, err)
	assert.Equal(t, [2]float32{5, 2}, coeffs[0])
}

func TestBuildCoefficientsZeroScale(t *testing.T) {
	path := writeCoeffSource(t, "a: [3, 0]\n")
	_, err := buildCoefficients(path, archive.Metadata{PredictorNames: []string{"a"}}, nil)
	assert.ErrorIs(t, err, maelstrom.ErrConfig)
}

func TestBuildCoefficientsMalformedEntry(t *testing.T) {
	path := writeCoeffSource(t, "a: [1, 2, 3]\n")
	_, err := buildCoefficients(path, archive.Metadata{PredictorNames: []string{"a"}}, nil)
	assert.ErrorIs(t, err, maelstrom.ErrConfig)
}

func TestBuildCoefficientsMissingSource(t *testing.T) {
	_, err := buildCoefficients(filepath.Join(t.TempDir(), "absent.yml"),
		archive.Metadata{PredictorNames: []string{"a"}}, nil)
	assert.ErrorIs(t, err, maelstrom.ErrIO)
}

func TestAnalyticCoefficientsDegenerateAxis(t *testing.T) {
	got := analyticCoefficients(grid.Feature{Type: grid.FeatureLeadtime},
		archive.Metadata{Leadtimes: []float32{0}})
	assert.Equal(t, [2]float32{0, 1}, got)
}

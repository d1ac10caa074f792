package decomp

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLambdaCandidates(t *testing.T) {
	l := lambdaCandidates(1e-1, 1e5, 20)
	require.Len(t, l, 20)
	assert.InDelta(t, 1e-1, l[0], 1e-10)
	assert.InDelta(t, 1e5, l[19], 1e-3)
	for i := 1; i < len(l); i++ {
		assert.Greater(t, l[i], l[i-1])
	}
}

func TestLCurveCornerFindsSharpCorner(t *testing.T) {
	// A synthetic L: vertical arm dropping to the corner, then a flat arm.
	var path []PathPoint
	for i := 0; i < 10; i++ {
		path = append(path, PathPoint{
			Lambda:       math.Pow(10, float64(i)),
			MisfitNorm:   1.0 + 0.01*float64(i),
			SolutionNorm: math.Pow(10, float64(9-i)),
		})
	}
	for i := 10; i < 20; i++ {
		path = append(path, PathPoint{
			Lambda:       math.Pow(10, float64(i)),
			MisfitNorm:   math.Pow(10, float64(i-9)),
			SolutionNorm: 0.09 - 0.001*float64(i-10),
		})
	}

	idx, found := lcurveCorner(path)
	assert.True(t, found)
	assert.InDelta(t, 10, idx, 1)
}

func TestLCurveCornerFallbackOnStraightLine(t *testing.T) {
	// Constant log-log slope has zero curvature everywhere: no corner.
	var path []PathPoint
	for i := 0; i < 15; i++ {
		path = append(path, PathPoint{
			Lambda:       math.Pow(10, float64(i)),
			MisfitNorm:   math.Pow(10, float64(i)),
			SolutionNorm: math.Pow(10, float64(-i)),
		})
	}
	idx, found := lcurveCorner(path)
	assert.False(t, found)
	assert.Equal(t, len(path)/2, idx)
}

func TestLCurveCornerIgnoresCurvatureNoise(t *testing.T) {
	// Jitter at float precision on a straight log-log path must not be
	// mistaken for a corner.
	var path []PathPoint
	for i := 0; i < 15; i++ {
		jit := 1 + 1e-13*float64(i%3)
		path = append(path, PathPoint{
			Lambda:       math.Pow(10, float64(i)),
			MisfitNorm:   math.Pow(10, float64(i)) * jit,
			SolutionNorm: math.Pow(10, float64(-i)),
		})
	}
	idx, found := lcurveCorner(path)
	assert.False(t, found)
	assert.Equal(t, len(path)/2, idx)
}

func TestLCurveCornerTinyPath(t *testing.T) {
	idx, found := lcurveCorner([]PathPoint{{Lambda: 1}, {Lambda: 2}})
	assert.False(t, found)
	assert.Equal(t, 1, idx)
}

func TestFitSpectrumFixedLambdaSkipsScan(t *testing.T) {
	k, spec := testProblem(t)
	res, err := FitSpectrum(context.Background(), k, spec, SolveOptions{Lambda: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Lambda)
	assert.Empty(t, res.Path)
	assert.True(t, res.CornerFound)
}

func TestFitSpectrumAutoSelectsFromPath(t *testing.T) {
	k, spec := testProblem(t)
	opts := SolveOptions{LambdaCount: 10, LambdaMin: 1e-4, LambdaMax: 1e3}
	res, err := FitSpectrum(context.Background(), k, spec, opts)
	require.NoError(t, err)
	require.Len(t, res.Path, 10)

	// The selected lambda must be one of the scanned candidates and the
	// recorded path point must match the result's norms.
	found := false
	for _, p := range res.Path {
		if p.Lambda == res.Lambda {
			found = true
			assert.Equal(t, res.MisfitNorm, p.MisfitNorm)
			assert.Equal(t, res.SolutionNorm, p.SolutionNorm)
		}
	}
	assert.True(t, found, "selected lambda not on the scanned path")
}

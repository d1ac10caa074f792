package decomp

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sip-data/debye.report/internal/testutil"
)

// testProblem builds the canonical round-trip scenario: a 20-term grid over
// 1e-4..1e2 s and a noiseless single-Debye spectrum at tau=1s.
func testProblem(t *testing.T) (*Kernel, *Spectrum) {
	t.Helper()
	freqs := testutil.Logspace(1e-3, 1e4, 25)
	g, err := NewTauGrid(GridConfig{TermsPerDecade: 3, TauMin: 1e-4, TauMax: 1e2}, nil)
	require.NoError(t, err)

	k := NewKernel(ModelResistivity, g, freqs)
	data := testutil.DebyeResistivity(freqs, 100.0, []float64{0.1}, []float64{1.0})
	return k, &Spectrum{Freqs: freqs, Data: data}
}

func TestSolveZeroDataReturnsZeroModel(t *testing.T) {
	k, spec := testProblem(t)
	zero := &Spectrum{Freqs: spec.Freqs, Data: make([]complex128, len(spec.Freqs))}

	res, err := Solve(context.Background(), k, zero, SolveOptions{}, 1.0)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, 0, res.MisfitNorm, 1e-12)
	for i, m := range res.M {
		assert.InDelta(t, 0, m, 1e-12, "m[%d]", i)
	}
}

func TestSolveRecoversSingleDebyeTerm(t *testing.T) {
	k, spec := testProblem(t)

	// Near-zero regularization: recovery should be essentially exact.
	res, err := Solve(context.Background(), k, spec, SolveOptions{}, 1e-6)
	require.NoError(t, err)
	require.True(t, res.Converged)

	p := ComputeIntegralParams(k, spec, res, nil)
	testutil.AssertClose(t, p.MTot, 0.1, 1e-4, "m_tot")
	testutil.AssertClose(t, res.Scale, 100.0, 1e-3, "rho0")
	assert.Less(t, p.RMS.AllNoErr, 1e-6)

	require.NotEmpty(t, p.Peaks)
	// Injected tau sits on a grid node; allow one grid step.
	peakIdx := p.Peaks[0].Index
	assert.InDelta(t, k.Grid.Index(1.0), peakIdx, 1)
}

func TestSolveEnforcesNonNegativity(t *testing.T) {
	k, spec := testProblem(t)
	noisy := &Spectrum{Freqs: spec.Freqs, Data: testutil.Perturb(spec.Data, 0.05, 0)}

	for _, lam := range []float64{1e-4, 1e-1, 1e2} {
		res, err := Solve(context.Background(), k, noisy, SolveOptions{}, lam)
		require.NoError(t, err)
		for i, m := range res.M {
			assert.GreaterOrEqual(t, m, 0.0, "lambda=%g m[%d]", lam, i)
		}
		for i, x := range res.X {
			assert.GreaterOrEqual(t, x, 0.0, "lambda=%g x[%d]", lam, i)
		}
	}
}

func TestSolveLambdaMonotonicity(t *testing.T) {
	k, spec := testProblem(t)
	noisy := &Spectrum{Freqs: spec.Freqs, Data: testutil.Perturb(spec.Data, 0.03, 0)}

	lambdas := lambdaCandidates(1e-3, 1e4, 12)
	var prevMisfit, prevSnorm float64
	for i, lam := range lambdas {
		res, err := Solve(context.Background(), k, noisy, SolveOptions{}, lam)
		require.NoError(t, err)
		if i > 0 {
			// Both arms of the L-curve are monotone up to numerical slack:
			// misfit grows with lambda, roughness shrinks.
			assert.GreaterOrEqual(t, res.MisfitNorm, prevMisfit*(1-1e-8),
				"misfit not monotone at lambda=%g", lam)
			assert.LessOrEqual(t, res.SolutionNorm, prevSnorm*(1+1e-8)+1e-12,
				"solution norm not monotone at lambda=%g", lam)
		}
		prevMisfit, prevSnorm = res.MisfitNorm, res.SolutionNorm
	}
}

func TestSolveWeightsFavourLowErrorData(t *testing.T) {
	k, spec := testProblem(t)
	errs := make([]complex128, len(spec.Freqs))
	for i := range errs {
		errs[i] = complex(0.01, 0.001)
	}
	weighted := &Spectrum{Freqs: spec.Freqs, Data: spec.Data, Errs: errs}

	res, err := Solve(context.Background(), k, weighted, SolveOptions{}, 1e-6)
	require.NoError(t, err)
	p := ComputeIntegralParams(k, weighted, res, nil)
	testutil.AssertClose(t, p.MTot, 0.1, 1e-3, "m_tot with weights")
}

func TestSolveShapeErrors(t *testing.T) {
	k, spec := testProblem(t)

	tests := []struct {
		name string
		spec *Spectrum
	}{
		{"length mismatch", &Spectrum{Freqs: spec.Freqs, Data: spec.Data[:3]}},
		{"non-monotonic freqs", &Spectrum{
			Freqs: []float64{1, 3, 2},
			Data:  make([]complex128, 3),
		}},
		{"negative error", &Spectrum{
			Freqs: spec.Freqs,
			Data:  spec.Data,
			Errs:  append([]complex128{complex(-1, 0)}, make([]complex128, len(spec.Freqs)-1)...),
		}},
		{"wrong frequency count for kernel", &Spectrum{
			Freqs: spec.Freqs[:5],
			Data:  spec.Data[:5],
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Solve(context.Background(), k, tc.spec, SolveOptions{}, 1.0)
			var se *ShapeError
			require.ErrorAs(t, err, &se)
		})
	}
}

func TestSolveHonoursContextCancellation(t *testing.T) {
	k, spec := testProblem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Solve(ctx, k, spec, SolveOptions{}, 1e-3)
	require.ErrorIs(t, err, context.Canceled)
}

func cNaN() complex128 {
	return complex(math.NaN(), math.NaN())
}

func TestSpectrumFilterNaN(t *testing.T) {
	s := &Spectrum{
		Freqs: []float64{1, 2, 4, 8},
		Data:  []complex128{1 + 1i, cNaN(), 3 + 3i, 4 + 4i},
		Errs:  []complex128{1, 1, cNaN(), 1},
	}
	f := s.FilterNaN()
	assert.Equal(t, []float64{1, 8}, f.Freqs)
	assert.Len(t, f.Data, 2)
	assert.Len(t, f.Errs, 2)
	require.NoError(t, f.Validate())
}

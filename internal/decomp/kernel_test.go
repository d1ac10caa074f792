package decomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sip-data/debye.report/internal/testutil"
)

func TestKernelDimensions(t *testing.T) {
	freqs := testutil.Logspace(1e-2, 1e3, 12)
	g, err := NewTauGrid(GridConfig{TermsPerDecade: 5, TauMin: 1e-4, TauMax: 1e1}, nil)
	require.NoError(t, err)

	k := NewKernel(ModelResistivity, g, freqs)
	r, c := k.Matrix().Dims()
	assert.Equal(t, 2*len(freqs), r)
	assert.Equal(t, g.N()+1, c)
	assert.Equal(t, g.N()+1, k.NumParams())
}

func TestKernelForwardMatchesClosedFormResistivity(t *testing.T) {
	freqs := testutil.Logspace(1e-3, 1e4, 30)
	g := &TauGrid{Taus: []float64{1e-2, 1e0, 1e2}}
	k := NewKernel(ModelResistivity, g, freqs)

	rho0 := 50.0
	ms := []float64{0.05, 0.1, 0.02}
	want := testutil.DebyeResistivity(freqs, rho0, ms, g.Taus)
	got := k.ForwardComplex(rho0, ms)

	for j := range freqs {
		assert.InDelta(t, real(want[j]), real(got[j]), 1e-9)
		assert.InDelta(t, imag(want[j]), imag(got[j]), 1e-9)
		// SIP resistivity convention: non-positive imaginary part.
		assert.LessOrEqual(t, imag(got[j]), 0.0)
	}
}

func TestKernelForwardMatchesClosedFormConductivity(t *testing.T) {
	freqs := testutil.Logspace(1e-3, 1e4, 30)
	g := &TauGrid{Taus: []float64{1e-1, 1e1}}
	k := NewKernel(ModelConductivity, g, freqs)

	sigmaInf := 10.0
	ms := []float64{0.08, 0.03}
	want := testutil.DebyeConductivity(freqs, sigmaInf, ms, g.Taus)
	got := k.ForwardComplex(sigmaInf, ms)

	for j := range freqs {
		assert.InDelta(t, real(want[j]), real(got[j]), 1e-9)
		assert.InDelta(t, imag(want[j]), imag(got[j]), 1e-9)
		// Conductivity convention: non-negative imaginary part.
		assert.GreaterOrEqual(t, imag(got[j]), 0.0)
	}
}

func TestKernelForwardZeroChargeabilityIsFlat(t *testing.T) {
	freqs := testutil.Logspace(1e-2, 1e2, 10)
	g := &TauGrid{Taus: []float64{1e-1, 1e0, 1e1}}
	k := NewKernel(ModelResistivity, g, freqs)

	x := mat.NewVecDense(k.NumParams(), nil)
	x.SetVec(0, 42.0)
	out := k.Forward(x)
	for j := 0; j < len(freqs); j++ {
		assert.Equal(t, 42.0, out.AtVec(j))
		assert.Equal(t, 0.0, out.AtVec(len(freqs)+j))
	}
}

func TestKernelDeterministic(t *testing.T) {
	freqs := testutil.Logspace(1e-1, 1e2, 8)
	g := &TauGrid{Taus: []float64{1e-2, 1e0}}
	a := NewKernel(ModelResistivity, g, freqs)
	b := NewKernel(ModelResistivity, g, freqs)
	if !mat.EqualApprox(a.Matrix(), b.Matrix(), 0) {
		t.Fatal("kernel construction is not deterministic")
	}
}

package decomp

import (
	"gonum.org/v1/gonum/mat"

	"github.com/sip-data/debye.report/internal/units"
)

// ModelType selects the parameterization of the Debye decomposition.
type ModelType string

const (
	// ModelResistivity fits complex resistivity spectra:
	//   rho(w) = rho0 * (1 - sum_i m_i * (1 - 1/(1+iw*tau_i)))
	ModelResistivity ModelType = "resistivity"
	// ModelConductivity fits complex conductivity spectra:
	//   sigma(w) = sigma_inf * (1 - sum_i m_i / (1+iw*tau_i))
	ModelConductivity ModelType = "conductivity"
)

// Kernel maps the linearized parameter vector x = [s, s*m_1, ..., s*m_N]
// (s is rho0 or sigma_inf depending on the model) to the stacked response
// [Re(d); Im(d)] at the kernel's frequencies. Writing the unknowns as the
// scale times the chargeabilities keeps the forward model strictly linear,
// so one constrained least-squares path serves both model types; the
// physical m_i are recovered afterwards by dividing through x[0].
//
// A Kernel is immutable after construction and safe for concurrent use.
type Kernel struct {
	Model ModelType
	Grid  *TauGrid
	Freqs []float64

	k *mat.Dense // 2F x (N+1)
}

// NewKernel builds the Debye basis matrix for the given grid and frequency
// vector. Construction is deterministic and allocation is the only side
// effect.
func NewKernel(model ModelType, grid *TauGrid, freqs []float64) *Kernel {
	nf := len(freqs)
	n := grid.N()
	k := mat.NewDense(2*nf, n+1, nil)

	for j, f := range freqs {
		w := units.Omega(f)
		// Scale column: d = x0 * 1 + ... in the real part only.
		k.Set(j, 0, 1)
		k.Set(nf+j, 0, 0)
		for i, tau := range grid.Taus {
			wt := w * tau
			den := 1 + wt*wt
			switch model {
			case ModelConductivity:
				// -sigma_inf*m_i / (1+iw*tau): Re 1/den, Im -wt/den,
				// negated.
				k.Set(j, 1+i, -1/den)
				k.Set(nf+j, 1+i, wt/den)
			default:
				// rho0*m_i * (1/(1+iw*tau) - 1): Re -wt^2/den, Im -wt/den.
				k.Set(j, 1+i, -wt*wt/den)
				k.Set(nf+j, 1+i, -wt/den)
			}
		}
	}

	return &Kernel{Model: model, Grid: grid, Freqs: freqs, k: k}
}

// NumParams returns the width of the parameter vector (N chargeabilities
// plus the scale nuisance term).
func (k *Kernel) NumParams() int { return k.Grid.N() + 1 }

// Rows returns the stacked response length 2F.
func (k *Kernel) Rows() int { return 2 * len(k.Freqs) }

// Matrix exposes the kernel as a read-only gonum matrix.
func (k *Kernel) Matrix() mat.Matrix { return k.k }

// Forward computes the stacked model response K*x for a parameter vector.
func (k *Kernel) Forward(x *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(k.Rows(), nil)
	out.MulVec(k.k, x)
	return out
}

// ForwardComplex computes the model response as a complex spectrum for a
// scale s and physical chargeabilities m (len N). Used by the synthetic
// generator and the report plots.
func (k *Kernel) ForwardComplex(s float64, m []float64) []complex128 {
	x := mat.NewVecDense(k.NumParams(), nil)
	x.SetVec(0, s)
	for i, mi := range m {
		x.SetVec(1+i, s*mi)
	}
	stacked := k.Forward(x)
	nf := len(k.Freqs)
	out := make([]complex128, nf)
	for j := 0; j < nf; j++ {
		out[j] = complex(stacked.AtVec(j), stacked.AtVec(nf+j))
	}
	return out
}

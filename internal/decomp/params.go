package decomp

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/sip-data/debye.report/internal/units"
)

// Peak is one local maximum of the RTD, reported in ascending tau order.
type Peak struct {
	Index int     `json:"index"`
	Tau   float64 `json:"tau"`
	M     float64 `json:"m"`
}

// TauPercentile is a cumulative relaxation time: the tau at which the
// cumulative chargeability first reaches Fraction of m_tot. Interp is the
// grid interval that was interpolated over; two percentiles sharing an
// interval indicate the RTD is spike-like at that scale.
type TauPercentile struct {
	Fraction float64 `json:"fraction"`
	Tau      float64 `json:"tau"`
	Defined  bool    `json:"defined"`
	Interp   int     `json:"-"`
}

// RMSBundle holds the root-mean-square misfit variants: real part ("part1")
// and imaginary part ("part2"), each plain and error-weighted, plus both
// halves combined.
type RMSBundle struct {
	ReNoErr  float64 `json:"rms_re_noerr"`
	ImNoErr  float64 `json:"rms_im_noerr"`
	ReErr    float64 `json:"rms_re_err"`
	ImErr    float64 `json:"rms_im_err"`
	AllNoErr float64 `json:"rms_all_noerr"`
	AllErr   float64 `json:"rms_all_err"`
}

// IntegralParams bundles the scalar statistics derived from one finalized
// RTD. All fields are pure functions of the fit result, the tau grid, and
// the spectrum; nothing upstream is mutated.
//
// When the RTD is degenerate (m_tot == 0) every tau statistic is flagged
// undefined rather than reported as NaN; the RMS values remain valid.
type IntegralParams struct {
	MTot  float64 `json:"m_tot"`
	MTotN float64 `json:"m_tot_n"`

	// Scale is rho0 for the resistivity model, sigma_inf for the
	// conductivity model. Sigma0 is only set for the conductivity model:
	// sigma0 = sigma_inf * (1 - m_tot).
	Scale  float64 `json:"scale"`
	Sigma0 float64 `json:"sigma0,omitempty"`

	TauPercentiles []TauPercentile `json:"tau_percentiles"`

	TauArithmetic float64 `json:"tau_arithmetic"`
	TauGeometric  float64 `json:"tau_geometric"`
	// TauLogMean is the m-weighted mean of log10(tau); TauGeometric is its
	// linear-scale counterpart 10^TauLogMean.
	TauLogMean float64 `json:"tau_log_mean"`

	Peaks []Peak `json:"peaks"`

	// UTau = tau_60 / tau_10, the non-uniformity of the RTD. Undefined
	// when either percentile is undefined or both resolve within the same
	// grid step (spike-like RTD).
	UTau        float64 `json:"u_tau"`
	UTauDefined bool    `json:"u_tau_defined"`

	// DecadeLoadings sums chargeability per tau decade, ascending.
	DecadeLoadings []DecadeLoading `json:"decade_loadings"`

	RMS RMSBundle `json:"rms"`

	Degenerate bool `json:"degenerate"`
}

// DecadeLoading is the chargeability summed over one tau decade.
type DecadeLoading struct {
	Decade int     `json:"decade"` // tau in [10^Decade, 10^(Decade+1))
	MSum   float64 `json:"m_sum"`
}

// Tau50 returns the median relaxation time if it was requested and is
// defined, else (0, false).
func (p *IntegralParams) Tau50() (float64, bool) {
	return p.TauAt(0.5)
}

// TauAt looks up the percentile computed for the given fraction.
func (p *IntegralParams) TauAt(fraction float64) (float64, bool) {
	for _, tp := range p.TauPercentiles {
		if tp.Fraction == fraction {
			return tp.Tau, tp.Defined
		}
	}
	return 0, false
}

// ComputeIntegralParams derives the statistics bundle from a finalized fit.
// fractions lists the requested cumulative percentiles as values in (0,1);
// nil selects the default {0.1, 0.5, 0.6} (0.1 and 0.6 feed U_tau).
func ComputeIntegralParams(k *Kernel, spec *Spectrum, fit *FitResult, fractions []float64) *IntegralParams {
	if fractions == nil {
		fractions = []float64{0.1, 0.5, 0.6}
	}
	grid := k.Grid
	m := fit.M
	mTot := floats.Sum(m)

	p := &IntegralParams{
		MTot:       mTot,
		Scale:      fit.Scale,
		Degenerate: mTot <= 0,
	}
	if k.Model == ModelConductivity {
		p.Sigma0 = fit.Scale * (1 - mTot)
		if p.Sigma0 != 0 {
			p.MTotN = mTot / p.Sigma0
		}
	} else if fit.Scale != 0 {
		p.MTotN = mTot / fit.Scale
	}

	p.TauPercentiles = tauPercentiles(grid, m, mTot, fractions)
	p.UTau, p.UTauDefined = uniformity(p.TauPercentiles)

	if !p.Degenerate {
		var wTau, wLog float64
		for i, mi := range m {
			if mi <= 0 {
				continue
			}
			wTau += mi * grid.Taus[i]
			wLog += mi * math.Log10(grid.Taus[i])
		}
		p.TauArithmetic = wTau / mTot
		p.TauLogMean = wLog / mTot
		p.TauGeometric = math.Pow(10, p.TauLogMean)
	}

	p.Peaks = detectPeaks(grid, m)
	p.DecadeLoadings = decadeLoadings(grid, m)
	p.RMS = computeRMS(spec, fit.Residual)
	return p
}

// tauPercentiles walks the cumulative chargeability and interpolates each
// requested threshold linearly in log10(tau) between the straddling grid
// points.
func tauPercentiles(grid *TauGrid, m []float64, mTot float64, fractions []float64) []TauPercentile {
	out := make([]TauPercentile, len(fractions))
	for i, f := range fractions {
		out[i] = TauPercentile{Fraction: f}
	}
	if mTot <= 0 {
		return out
	}

	cum := make([]float64, len(m))
	var acc float64
	for i, mi := range m {
		acc += mi
		cum[i] = acc
	}

	for i, f := range fractions {
		target := f * mTot
		idx := -1
		for j, c := range cum {
			if c >= target {
				idx = j
				break
			}
		}
		if idx < 0 {
			// Accumulated rounding left the last cumulative value a hair
			// below m_tot.
			idx = len(cum) - 1
		}
		tp := &out[i]
		tp.Defined = true
		tp.Interp = idx
		if idx == 0 {
			tp.Tau = grid.Taus[0]
			continue
		}
		prev := cum[idx-1]
		span := cum[idx] - prev
		if span <= 0 {
			tp.Tau = grid.Taus[idx]
			continue
		}
		t := (target - prev) / span
		logTau := math.Log10(grid.Taus[idx-1]) + t*(math.Log10(grid.Taus[idx])-math.Log10(grid.Taus[idx-1]))
		tp.Tau = math.Pow(10, logTau)
	}
	return out
}

// uniformity computes U_tau = tau_60/tau_10. A spike-like RTD resolves both
// percentiles inside one grid step; that case is flagged undefined instead
// of reporting a ratio made entirely of interpolation.
func uniformity(tps []TauPercentile) (float64, bool) {
	var t10, t60 *TauPercentile
	for i := range tps {
		switch tps[i].Fraction {
		case 0.1:
			t10 = &tps[i]
		case 0.6:
			t60 = &tps[i]
		}
	}
	if t10 == nil || t60 == nil || !t10.Defined || !t60.Defined {
		return 0, false
	}
	if t10.Interp == t60.Interp {
		return 0, false
	}
	if t10.Tau == 0 {
		return 0, false
	}
	return t60.Tau / t10.Tau, true
}

// detectPeaks reports local maxima of the RTD in ascending tau order.
// Plateaus count once, at their center. Endpoints are never peaks: a
// maximum at the grid edge is a truncation artefact, not a relaxation
// process. The number of spurious peaks is directly controlled by the
// smoothing strength upstream; see SolveOptions.SmoothOrder.
func detectPeaks(grid *TauGrid, m []float64) []Peak {
	var peaks []Peak
	n := len(m)
	i := 0
	for i < n {
		j := i
		for j+1 < n && m[j+1] == m[i] {
			j++
		}
		leftUp := i > 0 && m[i] > m[i-1]
		rightDown := j < n-1 && m[i] > m[j+1]
		if leftUp && rightDown && m[i] > 0 {
			mid := (i + j) / 2
			peaks = append(peaks, Peak{Index: mid, Tau: grid.Taus[mid], M: m[i]})
		}
		i = j + 1
	}
	return peaks
}

func decadeLoadings(grid *TauGrid, m []float64) []DecadeLoading {
	var out []DecadeLoading
	for i, mi := range m {
		d := units.Decade(grid.Taus[i])
		if len(out) == 0 || out[len(out)-1].Decade != d {
			out = append(out, DecadeLoading{Decade: d})
		}
		out[len(out)-1].MSum += mi
	}
	return out
}

// computeRMS evaluates the four misfit variants (plus combined) from the
// unweighted stacked residual. Error weighting divides each residual
// component by its error estimate before squaring; components without a
// positive error estimate contribute unweighted, matching the solver's
// weight convention.
func computeRMS(spec *Spectrum, residual []float64) RMSBundle {
	nf := len(residual) / 2
	errAt := func(i int) float64 {
		if spec.Errs == nil {
			return 1
		}
		var e float64
		if i < nf {
			e = real(spec.Errs[i])
		} else {
			e = imag(spec.Errs[i-nf])
		}
		if e <= 0 {
			return 1
		}
		return e
	}

	var reSq, imSq, reWSq, imWSq float64
	for i := 0; i < nf; i++ {
		r := residual[i]
		reSq += r * r
		rw := r / errAt(i)
		reWSq += rw * rw
	}
	for i := nf; i < 2*nf; i++ {
		r := residual[i]
		imSq += r * r
		rw := r / errAt(i)
		imWSq += rw * rw
	}

	fn := float64(nf)
	return RMSBundle{
		ReNoErr:  math.Sqrt(reSq / fn),
		ImNoErr:  math.Sqrt(imSq / fn),
		ReErr:    math.Sqrt(reWSq / fn),
		ImErr:    math.Sqrt(imWSq / fn),
		AllNoErr: math.Sqrt((reSq + imSq) / (2 * fn)),
		AllErr:   math.Sqrt((reWSq + imWSq) / (2 * fn)),
	}
}

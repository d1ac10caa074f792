package decomp

import "math"

// Spectrum holds one measured complex spectrum: frequencies in Hz (strictly
// increasing), the complex response (resistivity or conductivity, matching
// the model type used for the fit), and per-datum complex error estimates.
// A Spectrum is immutable once validated.
type Spectrum struct {
	Freqs []float64
	Data  []complex128
	Errs  []complex128

	// Label identifies the spectrum in batch output (file row, station id).
	Label string
}

// Validate checks the shape invariants. Errs may be nil (unweighted fit)
// but when present must match the data length and have non-negative
// components.
func (s *Spectrum) Validate() error {
	if len(s.Freqs) == 0 {
		return shapeErrorf("empty frequency vector")
	}
	if len(s.Data) != len(s.Freqs) {
		return shapeErrorf("data length %d does not match frequency length %d",
			len(s.Data), len(s.Freqs))
	}
	if s.Errs != nil && len(s.Errs) != len(s.Freqs) {
		return shapeErrorf("error length %d does not match frequency length %d",
			len(s.Errs), len(s.Freqs))
	}
	for i, f := range s.Freqs {
		if f <= 0 || math.IsNaN(f) {
			return shapeErrorf("frequency %d is not positive: %g", i, f)
		}
		if i > 0 && f <= s.Freqs[i-1] {
			return shapeErrorf("frequencies not strictly increasing at index %d (%g after %g)",
				i, f, s.Freqs[i-1])
		}
	}
	for i, e := range s.Errs {
		if real(e) < 0 || imag(e) < 0 {
			return shapeErrorf("negative error estimate at index %d", i)
		}
	}
	return nil
}

// FilterNaN returns a copy of the spectrum with every frequency dropped
// whose data (or error) carries a NaN in either component. Instrument
// exports routinely pad unusable frequencies with NaN rows.
func (s *Spectrum) FilterNaN() *Spectrum {
	out := &Spectrum{Label: s.Label}
	for i := range s.Freqs {
		if isNaNC(s.Data[i]) {
			continue
		}
		if s.Errs != nil && isNaNC(s.Errs[i]) {
			continue
		}
		out.Freqs = append(out.Freqs, s.Freqs[i])
		out.Data = append(out.Data, s.Data[i])
		if s.Errs != nil {
			out.Errs = append(out.Errs, s.Errs[i])
		}
	}
	return out
}

// Scale returns a copy with data and errors divided by factor. Used for
// magnitude normalization before fitting; see FitResult.Denormalize for the
// inverse applied to results.
func (s *Spectrum) Scale(factor float64) *Spectrum {
	out := &Spectrum{
		Freqs: append([]float64(nil), s.Freqs...),
		Data:  make([]complex128, len(s.Data)),
		Label: s.Label,
	}
	c := complex(factor, 0)
	for i, d := range s.Data {
		out.Data[i] = d / c
	}
	if s.Errs != nil {
		out.Errs = make([]complex128, len(s.Errs))
		for i, e := range s.Errs {
			out.Errs[i] = e / c
		}
	}
	return out
}

// stackedData returns the 2F-vector [Re(d); Im(d)].
func (s *Spectrum) stackedData() []float64 {
	nf := len(s.Freqs)
	d := make([]float64, 2*nf)
	for i, v := range s.Data {
		d[i] = real(v)
		d[nf+i] = imag(v)
	}
	return d
}

// stackedWeights returns the 2F diagonal of W. Components with a zero or
// missing error estimate get unit weight so that error-free synthetic data
// still fits cleanly.
func (s *Spectrum) stackedWeights() []float64 {
	nf := len(s.Freqs)
	w := make([]float64, 2*nf)
	for i := range w {
		w[i] = 1
	}
	if s.Errs == nil {
		return w
	}
	for i, e := range s.Errs {
		if re := real(e); re > 0 {
			w[i] = 1 / re
		}
		if im := imag(e); im > 0 {
			w[nf+i] = 1 / im
		}
	}
	return w
}

func isNaNC(c complex128) bool {
	return math.IsNaN(real(c)) || math.IsNaN(imag(c))
}

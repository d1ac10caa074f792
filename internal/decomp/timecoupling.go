package decomp

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// FitSequence fits an ordered time sequence of spectra sharing one kernel.
// With a positive opts.TimeLambda the spectra are solved as one joint
// constrained least-squares problem whose unknown vector stacks every
// spectrum's parameters, with an additional first-difference penalty
// between the RTDs of temporally adjacent spectra. With coupling disabled,
// or a single-element sequence, each spectrum is fitted independently via
// FitSpectrum.
//
// The joint system is
//
//	A = [ blockdiag(W_s K)        ]      b = [ W_s d_s ]
//	    [ lambda * blockdiag(L)   ]          [ 0       ]
//	    [ timeLambda * D_time     ]          [ 0       ]
//
// where D_time takes m-component differences between neighbours (the scale
// nuisance terms stay decoupled in time, like they are on the tau axis).
// One RTD per input spectrum is returned, in input order.
func FitSequence(ctx context.Context, k *Kernel, seq []*Spectrum, opts SolveOptions) ([]*FitResult, error) {
	opts = opts.withDefaults()

	if len(seq) == 0 {
		return nil, shapeErrorf("empty spectrum sequence")
	}
	if len(seq) == 1 || opts.TimeLambda <= 0 {
		out := make([]*FitResult, len(seq))
		for i, spec := range seq {
			res, err := FitSpectrum(ctx, k, spec, opts)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	}

	for i, spec := range seq {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if len(spec.Freqs) != len(k.Freqs) {
			return nil, shapeErrorf("sequence spectrum %d has %d frequencies but kernel was built for %d",
				i, len(spec.Freqs), len(k.Freqs))
		}
		for j, f := range spec.Freqs {
			if f != k.Freqs[j] {
				return nil, shapeErrorf("sequence spectrum %d frequency %d (%g) differs from kernel frequency (%g); a coupled sequence must share one frequency set",
					i, j, f, k.Freqs[j])
			}
		}
	}

	if opts.Lambda > 0 {
		results, err := solveCoupled(ctx, k, seq, opts, opts.Lambda)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			r.CornerFound = true
		}
		return results, nil
	}

	// Shared-lambda scan with a joint L-curve over the whole sequence.
	lambdas := lambdaCandidates(opts.LambdaMin, opts.LambdaMax, opts.LambdaCount)
	all := make([][]*FitResult, len(lambdas))
	path := make([]PathPoint, len(lambdas))
	for i, lam := range lambdas {
		results, err := solveCoupled(ctx, k, seq, opts, lam)
		if err != nil {
			return nil, err
		}
		all[i] = results
		var misfit, snorm float64
		for _, r := range results {
			misfit += r.MisfitNorm * r.MisfitNorm
			snorm += r.SolutionNorm * r.SolutionNorm
		}
		path[i] = PathPoint{Lambda: lam, MisfitNorm: math.Sqrt(misfit), SolutionNorm: math.Sqrt(snorm)}
	}

	idx, found := lcurveCorner(path)
	final := all[idx]
	for _, r := range final {
		// Each result carries its own copy: callers rescale per spectrum
		// and must not compound their factors through a shared slice.
		r.Path = append([]PathPoint(nil), path...)
		r.CornerFound = found
	}
	return final, nil
}

// solveCoupled assembles and solves the joint system at one lambda, then
// decouples the solution into per-spectrum results.
func solveCoupled(ctx context.Context, k *Kernel, seq []*Spectrum, opts SolveOptions, lambda float64) ([]*FitResult, error) {
	s := len(seq)
	np := k.NumParams()
	nm := np - 1 // chargeabilities per spectrum
	rows := k.Rows()

	l := smoothingMatrix(opts.SmoothOrder, np)
	nreg, _ := l.Dims()

	totalRows := s*rows + s*nreg + (s-1)*nm
	totalCols := s * np
	a := mat.NewDense(totalRows, totalCols, nil)
	b := mat.NewVecDense(totalRows, nil)

	// Data blocks.
	for si, spec := range seq {
		d := spec.stackedData()
		w := spec.stackedWeights()
		r0, c0 := si*rows, si*np
		for i := 0; i < rows; i++ {
			for j := 0; j < np; j++ {
				a.Set(r0+i, c0+j, w[i]*k.k.At(i, j))
			}
			b.SetVec(r0+i, w[i]*d[i])
		}
	}

	// Tau-axis smoothing blocks.
	regBase := s * rows
	for si := 0; si < s; si++ {
		r0, c0 := regBase+si*nreg, si*np
		for i := 0; i < nreg; i++ {
			for j := 0; j < np; j++ {
				a.Set(r0+i, c0+j, lambda*l.At(i, j))
			}
		}
	}

	// Time-coupling rows: for each adjacent pair, m_i(t+1) - m_i(t).
	timeBase := regBase + s*nreg
	for si := 0; si < s-1; si++ {
		r0 := timeBase + si*nm
		for i := 0; i < nm; i++ {
			a.Set(r0+i, si*np+1+i, -opts.TimeLambda)
			a.Set(r0+i, (si+1)*np+1+i, opts.TimeLambda)
		}
	}

	// The joint problem grows with the sequence length, so scale the
	// iteration cap with it.
	x, iters, converged, err := nnls(ctx, a, b, opts.MaxIterations*s, opts.Tolerance)
	if err != nil {
		return nil, err
	}

	out := make([]*FitResult, s)
	for si, spec := range seq {
		xs := make([]float64, np)
		copy(xs, x[si*np:(si+1)*np])
		res := newFitResult(k, spec, l, xs, lambda, iters, converged)
		res.Lambda = lambda
		out[si] = res
	}
	return out, nil
}

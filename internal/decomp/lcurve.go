package decomp

import (
	"context"
	"math"
)

// lambdaCandidates returns count log-spaced values in [min, max], ascending.
func lambdaCandidates(min, max float64, count int) []float64 {
	if count < 2 {
		return []float64{min}
	}
	out := make([]float64, count)
	logMin := math.Log10(min)
	step := (math.Log10(max) - logMin) / float64(count-1)
	for i := range out {
		out[i] = math.Pow(10, logMin+float64(i)*step)
	}
	return out
}

// lcurveCorner picks the index of maximum curvature on the log-log L-curve
// (misfit norm on x, solution norm on y). Curvature is estimated with
// central finite differences over the path parameter; this is the classical
// Hansen corner criterion. Returns found=false when no point has positive,
// finite curvature contrast, in which case callers fall back to the
// midpoint of the scanned range.
func lcurveCorner(path []PathPoint) (idx int, found bool) {
	n := len(path)
	if n < 3 {
		return n / 2, false
	}

	// Work in log space; clamp zeros so degenerate arms do not poison the
	// derivatives.
	const tiny = 1e-300
	lx := make([]float64, n)
	ly := make([]float64, n)
	for i, p := range path {
		lx[i] = math.Log(math.Max(p.MisfitNorm, tiny))
		ly[i] = math.Log(math.Max(p.SolutionNorm, tiny))
	}

	// A genuine corner has log-space curvature of order one. Rounding noise
	// on a straight path produces curvatures many orders smaller, so demand
	// a minimal contrast before declaring a corner.
	const minCurvature = 1e-6
	bestIdx, bestK := -1, minCurvature
	for i := 1; i < n-1; i++ {
		x1 := (lx[i+1] - lx[i-1]) / 2
		y1 := (ly[i+1] - ly[i-1]) / 2
		x2 := lx[i+1] - 2*lx[i] + lx[i-1]
		y2 := ly[i+1] - 2*ly[i] + ly[i-1]
		den := math.Pow(x1*x1+y1*y1, 1.5)
		if den == 0 {
			continue
		}
		// Sign convention: a corner of the L (convex toward the origin)
		// has positive curvature with x increasing along the path.
		k := (x1*y2 - y1*x2) / den
		if math.IsNaN(k) || math.IsInf(k, 0) {
			continue
		}
		if k > bestK {
			bestIdx, bestK = i, k
		}
	}
	if bestIdx < 0 {
		return n / 2, false
	}
	return bestIdx, true
}

// FitSpectrum fits one spectrum, selecting the regularization parameter
// automatically unless opts.Lambda is fixed. Automatic selection scans
// opts.LambdaCount log-spaced candidates, records the regularization path,
// and takes the L-curve corner; if no corner is detectable the midpoint
// candidate is used and the result flagged (CornerFound=false).
func FitSpectrum(ctx context.Context, k *Kernel, spec *Spectrum, opts SolveOptions) (*FitResult, error) {
	opts = opts.withDefaults()

	if opts.Lambda > 0 {
		res, err := Solve(ctx, k, spec, opts, opts.Lambda)
		if err != nil {
			return nil, err
		}
		// No corner was searched for; a fixed lambda is by definition not
		// a heuristic fallback.
		res.CornerFound = true
		return res, nil
	}

	lambdas := lambdaCandidates(opts.LambdaMin, opts.LambdaMax, opts.LambdaCount)
	results := make([]*FitResult, len(lambdas))
	path := make([]PathPoint, len(lambdas))
	for i, lam := range lambdas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := Solve(ctx, k, spec, opts, lam)
		if err != nil {
			return nil, err
		}
		results[i] = res
		path[i] = PathPoint{Lambda: lam, MisfitNorm: res.MisfitNorm, SolutionNorm: res.SolutionNorm}
	}

	idx, found := lcurveCorner(path)
	final := results[idx]
	final.Path = path
	final.CornerFound = found
	return final, nil
}

package decomp

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SolveOptions collects the knobs of a decomposition run. The zero value is
// usable: defaults are filled in by withDefaults.
type SolveOptions struct {
	Model ModelType

	// SmoothOrder selects the roughness operator over the tau axis: 1 for
	// first differences (default), 2 for second differences. Stronger
	// smoothing suppresses spurious RTD peaks at the cost of resolution.
	SmoothOrder int

	// Lambda fixes the regularization parameter when positive; the L-curve
	// scan is skipped entirely. Zero requests automatic selection.
	Lambda float64

	// LambdaCount log-spaced candidates in [LambdaMin, LambdaMax] are
	// scanned during automatic selection.
	LambdaCount int
	LambdaMin   float64
	LambdaMax   float64

	// TimeLambda weights the first-difference coupling between temporally
	// adjacent RTDs in FitSequence. Zero disables coupling.
	TimeLambda float64

	// MaxIterations caps the active-set iterations of one constrained
	// solve. Hitting the cap is not an error; the result is flagged.
	MaxIterations int

	// Tolerance is the relative optimality tolerance of the constrained
	// solver.
	Tolerance float64
}

func (o SolveOptions) withDefaults() SolveOptions {
	if o.Model == "" {
		o.Model = ModelResistivity
	}
	if o.SmoothOrder != 2 {
		o.SmoothOrder = 1
	}
	if o.LambdaCount <= 0 {
		o.LambdaCount = 20
	}
	if o.LambdaMin <= 0 {
		o.LambdaMin = 1e-1
	}
	if o.LambdaMax <= o.LambdaMin {
		o.LambdaMax = 1e5
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 200
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-10
	}
	return o
}

// PathPoint is one sample of the regularization path.
type PathPoint struct {
	Lambda       float64 `json:"lambda"`
	MisfitNorm   float64 `json:"misfit_norm"`
	SolutionNorm float64 `json:"solution_norm"`
}

// FitResult is the outcome of fitting one spectrum (or one spectrum of a
// coupled sequence). M holds the physical chargeabilities aligned with the
// tau grid; Scale is rho0 (resistivity model) or sigma_inf (conductivity
// model).
type FitResult struct {
	M     []float64
	Scale float64

	// X is the linearized parameter vector [scale, scale*m_i...].
	X []float64

	Lambda       float64
	MisfitNorm   float64 // ||W(Kx-d)||
	SolutionNorm float64 // ||Lx||
	Residual     []float64 // unweighted stacked d - Kx

	// Path is the scanned regularization path, ascending lambda. Empty
	// when a fixed lambda was supplied.
	Path []PathPoint

	// Converged is false when the constrained solver hit its iteration
	// cap; the best iterate found is still returned.
	Converged bool
	// CornerFound is false when the L-curve had no usable corner and the
	// midpoint fallback chose Lambda, or when lambda was fixed by the
	// caller (no corner was searched for).
	CornerFound bool

	Iterations int
}

// Denormalize undoes a magnitude normalization applied to the data before
// the fit: the scale parameter and residual shrink by the factor while the
// chargeability ratios are untouched.
func (r *FitResult) Denormalize(factor float64) {
	if factor == 0 || factor == 1 {
		return
	}
	r.Scale *= factor
	for i := range r.X {
		r.X[i] *= factor
	}
	for i := range r.Residual {
		r.Residual[i] *= factor
	}
	r.MisfitNorm *= factor
	r.SolutionNorm *= factor
	for i := range r.Path {
		r.Path[i].MisfitNorm *= factor
		r.Path[i].SolutionNorm *= factor
	}
}

// smoothingMatrix builds the roughness operator L over the chargeability
// columns. The scale column is decoupled (zero column) so regularization
// never biases rho0/sigma_inf.
func smoothingMatrix(order, nParams int) *mat.Dense {
	n := nParams - 1 // chargeability count
	var rows int
	if order == 2 {
		rows = n - 2
	} else {
		rows = n - 1
	}
	if rows < 1 {
		rows = 0
	}
	l := mat.NewDense(max(rows, 1), nParams, nil)
	if rows == 0 {
		return l
	}
	for r := 0; r < rows; r++ {
		if order == 2 {
			l.Set(r, 1+r, 1)
			l.Set(r, 2+r, -2)
			l.Set(r, 3+r, 1)
		} else {
			l.Set(r, 1+r, -1)
			l.Set(r, 2+r, 1)
		}
	}
	return l
}

// Solve fits one spectrum at a fixed regularization parameter. The
// non-negativity constraint on every component of x makes this a
// constrained least-squares problem; it is solved with an active-set
// (Lawson-Hanson) iteration on the Tikhonov-augmented system
//
//	A = [W*K; lambda*L],  b = [W*d; 0].
//
// Solve never mutates the kernel or spectrum and is safe to call
// concurrently with shared inputs.
func Solve(ctx context.Context, k *Kernel, spec *Spectrum, opts SolveOptions, lambda float64) (*FitResult, error) {
	opts = opts.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(spec.Freqs) != len(k.Freqs) {
		return nil, shapeErrorf("spectrum has %d frequencies but kernel was built for %d",
			len(spec.Freqs), len(k.Freqs))
	}

	np := k.NumParams()
	rows := k.Rows()
	l := smoothingMatrix(opts.SmoothOrder, np)
	nreg, _ := l.Dims()

	d := spec.stackedData()
	w := spec.stackedWeights()

	a := mat.NewDense(rows+nreg, np, nil)
	b := mat.NewVecDense(rows+nreg, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < np; j++ {
			a.Set(i, j, w[i]*k.k.At(i, j))
		}
		b.SetVec(i, w[i]*d[i])
	}
	for i := 0; i < nreg; i++ {
		for j := 0; j < np; j++ {
			a.Set(rows+i, j, lambda*l.At(i, j))
		}
	}

	x, iters, converged, err := nnls(ctx, a, b, opts.MaxIterations, opts.Tolerance)
	if err != nil {
		return nil, err
	}

	return newFitResult(k, spec, l, x, lambda, iters, converged), nil
}

func newFitResult(k *Kernel, spec *Spectrum, l *mat.Dense, x []float64, lambda float64, iters int, converged bool) *FitResult {
	np := k.NumParams()
	xv := mat.NewVecDense(np, x)

	// Unweighted residual d - Kx.
	model := k.Forward(xv)
	d := spec.stackedData()
	w := spec.stackedWeights()
	res := make([]float64, len(d))
	var misfit float64
	for i := range d {
		res[i] = d[i] - model.AtVec(i)
		wr := w[i] * res[i]
		misfit += wr * wr
	}

	// Solution (roughness) norm ||Lx||.
	nreg, _ := l.Dims()
	var snorm float64
	lv := mat.NewVecDense(nreg, nil)
	lv.MulVec(l, xv)
	for i := 0; i < nreg; i++ {
		snorm += lv.AtVec(i) * lv.AtVec(i)
	}

	m := make([]float64, np-1)
	scale := x[0]
	if scale != 0 {
		for i := range m {
			m[i] = x[1+i] / scale
		}
	}

	return &FitResult{
		M:            m,
		Scale:        scale,
		X:            x,
		Lambda:       lambda,
		MisfitNorm:   math.Sqrt(misfit),
		SolutionNorm: math.Sqrt(snorm),
		Residual:     res,
		Converged:    converged,
		Iterations:   iters,
	}
}

// nnls solves min ||Ax-b|| subject to x >= 0 with the Lawson-Hanson
// active-set method. The passive-set subproblems are unconstrained least
// squares handled by gonum's QR. Returns the best iterate and whether the
// optimality condition was met within maxIter outer iterations.
func nnls(ctx context.Context, a *mat.Dense, b *mat.VecDense, maxIter int, tol float64) ([]float64, int, bool, error) {
	m, n := a.Dims()
	x := make([]float64, n)
	passive := make([]bool, n)

	// Workspaces.
	resid := mat.NewVecDense(m, nil)
	grad := mat.NewVecDense(n, nil)
	xv := mat.NewVecDense(n, x)

	// Absolute optimality threshold scaled by the gradient at x=0.
	grad.MulVec(a.T(), b)
	gradScale := mat.Norm(grad, math.Inf(1))
	if gradScale == 0 {
		// b is orthogonal to the column space (or zero): x=0 is optimal.
		return x, 0, true, nil
	}
	thresh := tol * gradScale

	iters := 0
	for ; iters < maxIter; iters++ {
		if err := ctx.Err(); err != nil {
			return x, iters, false, err
		}

		// Gradient of 1/2||Ax-b||^2 is -A^T(b-Ax); we track w = A^T(b-Ax).
		resid.MulVec(a, xv)
		resid.SubVec(b, resid)
		grad.MulVec(a.T(), resid)

		// Most violated KKT multiplier among active (zero) variables.
		best, bestW := -1, thresh
		for j := 0; j < n; j++ {
			if !passive[j] && grad.AtVec(j) > bestW {
				best, bestW = j, grad.AtVec(j)
			}
		}
		if best < 0 {
			return x, iters, true, nil
		}
		passive[best] = true

		// Inner loop: restore feasibility of the passive-set LS solution.
		for {
			z, err := solvePassive(a, b, passive)
			if err != nil {
				return x, iters, false, err
			}

			// All passive components positive: accept.
			feasible := true
			for j := 0; j < n; j++ {
				if passive[j] && z[j] <= 0 {
					feasible = false
					break
				}
			}
			if feasible {
				copy(x, z)
				break
			}

			// Step from x toward z until the first passive component hits
			// zero, then drop it from the passive set.
			alpha := math.Inf(1)
			for j := 0; j < n; j++ {
				if passive[j] && z[j] <= 0 {
					if step := x[j] / (x[j] - z[j]); step < alpha {
						alpha = step
					}
				}
			}
			if math.IsInf(alpha, 1) || math.IsNaN(alpha) {
				alpha = 0
			}
			for j := 0; j < n; j++ {
				if passive[j] {
					x[j] += alpha * (z[j] - x[j])
					if x[j] <= 1e-14 {
						x[j] = 0
						passive[j] = false
					}
				}
			}
		}
	}

	return x, iters, false, nil
}

// solvePassive solves the unconstrained least-squares problem restricted to
// the passive columns, returning a full-width vector with zeros elsewhere.
func solvePassive(a *mat.Dense, b *mat.VecDense, passive []bool) ([]float64, error) {
	m, n := a.Dims()
	cols := make([]int, 0, n)
	for j := 0; j < n; j++ {
		if passive[j] {
			cols = append(cols, j)
		}
	}
	z := make([]float64, n)
	if len(cols) == 0 {
		return z, nil
	}

	sub := mat.NewDense(m, len(cols), nil)
	for i := 0; i < m; i++ {
		for jj, j := range cols {
			sub.Set(i, jj, a.At(i, j))
		}
	}
	var sol mat.VecDense
	if err := sol.SolveVec(sub, b); err != nil {
		return nil, err
	}
	for jj, j := range cols {
		z[j] = sol.AtVec(jj)
	}
	return z, nil
}

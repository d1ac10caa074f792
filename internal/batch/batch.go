// Package batch fans a set of independent spectra (or time-coupled
// spectrum sequences) out over a bounded worker pool. Units are
// embarrassingly parallel: workers share only the read-only tau grid and
// cached kernels. A malformed spectrum fails its own unit and nothing
// else.
package batch

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sip-data/debye.report/internal/decomp"
	"github.com/sip-data/debye.report/internal/metrics"
	"github.com/sip-data/debye.report/internal/monitoring"
)

// Job is one unit of work: a single spectrum, or an ordered sequence fitted
// jointly when time coupling is enabled.
type Job struct {
	Index    int
	Sequence []*decomp.Spectrum
}

// Outcome is the result of one job. Err is set when the unit failed
// (typically a shape error); Results and Params are index-aligned with the
// job's sequence otherwise.
type Outcome struct {
	Index   int
	Spectra []*decomp.Spectrum
	Results []*decomp.FitResult
	Params  []*decomp.IntegralParams
	Err     error
}

// Runner drives jobs through the solver with a fixed worker count.
type Runner struct {
	Workers     int
	Grid        *decomp.TauGrid
	Opts        decomp.SolveOptions
	Percentiles []float64

	// NormMag, when positive, scales each spectrum so its lowest-frequency
	// magnitude equals this value before fitting; results are scaled back
	// afterwards.
	NormMag float64

	kernels kernelCache
}

// Run processes all jobs and returns outcomes sorted by job index. It
// blocks until every unit finishes or ctx is cancelled; cancelled units
// report ctx's error in their outcome.
func (r *Runner) Run(ctx context.Context, jobs []Job) []Outcome {
	if r.Opts.Model == "" {
		r.Opts.Model = decomp.ModelResistivity
	}
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(jobs) && len(jobs) > 0 {
		workers = len(jobs)
	}

	jobCh := make(chan Job)
	outCh := make(chan Outcome)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				outCh <- r.runJob(ctx, job)
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(outCh)
	}()

	outcomes := make([]Outcome, 0, len(jobs))
	for out := range outCh {
		outcomes = append(outcomes, out)
	}
	// Cancelled before dispatch: synthesize outcomes so callers always get
	// one per job.
	seen := make(map[int]bool, len(outcomes))
	for _, o := range outcomes {
		seen[o.Index] = true
	}
	for _, job := range jobs {
		if !seen[job.Index] {
			outcomes = append(outcomes, Outcome{Index: job.Index, Err: ctx.Err()})
		}
	}

	sortOutcomes(outcomes)
	return outcomes
}

func (r *Runner) runJob(ctx context.Context, job Job) Outcome {
	start := time.Now()
	out := Outcome{Index: job.Index}

	// NaN rows are dropped per spectrum before validation; instrument
	// exports pad unusable frequencies that way. The filtered spectra keep
	// physical units; fitting runs on scaled copies so the stats below
	// always see matching units.
	specs := make([]*decomp.Spectrum, len(job.Sequence))
	scaled := make([]*decomp.Spectrum, len(job.Sequence))
	factors := make([]float64, len(job.Sequence))
	for i, s := range job.Sequence {
		f := s.FilterNaN()
		if err := f.Validate(); err != nil {
			out.Err = fmt.Errorf("spectrum %q: %w", s.Label, err)
			metrics.ObserveFit(time.Since(start), metrics.OutcomeError, false, false)
			return out
		}
		specs[i] = f
		factors[i] = 1
		if r.NormMag > 0 {
			if mag := cmplxAbs(f.Data[0]); mag > 0 {
				factors[i] = mag / r.NormMag
				f = f.Scale(factors[i])
			}
		}
		scaled[i] = f
	}
	out.Spectra = specs

	results, err := r.fit(ctx, scaled)
	if err != nil {
		out.Err = err
		metrics.ObserveFit(time.Since(start), metrics.OutcomeError, false, false)
		return out
	}

	out.Results = results
	out.Params = make([]*decomp.IntegralParams, len(results))
	converged, cornerFound := true, true
	for i, res := range results {
		res.Denormalize(factors[i])
		k := r.kernels.get(r.Opts.Model, r.Grid, specs[i].Freqs)
		out.Params[i] = decomp.ComputeIntegralParams(k, specs[i], res, r.Percentiles)
		converged = converged && res.Converged
		cornerFound = cornerFound && res.CornerFound
		if !res.Converged {
			monitoring.Logf("spectrum %q: solver hit iteration cap, returning best iterate", specs[i].Label)
		}
		if !res.CornerFound && len(res.Path) > 0 {
			monitoring.Logf("spectrum %q: no L-curve corner, lambda %g chosen heuristically", specs[i].Label, res.Lambda)
		}
	}
	metrics.ObserveFit(time.Since(start), metrics.OutcomeOK, converged, cornerFound)
	return out
}

func (r *Runner) fit(ctx context.Context, specs []*decomp.Spectrum) ([]*decomp.FitResult, error) {
	if len(specs) > 1 && r.Opts.TimeLambda > 0 {
		k := r.kernels.get(r.Opts.Model, r.Grid, specs[0].Freqs)
		return decomp.FitSequence(ctx, k, specs, r.Opts)
	}
	results := make([]*decomp.FitResult, len(specs))
	for i, s := range specs {
		k := r.kernels.get(r.Opts.Model, r.Grid, s.Freqs)
		res, err := decomp.FitSpectrum(ctx, k, s, r.Opts)
		if err != nil {
			return nil, fmt.Errorf("spectrum %q: %w", s.Label, err)
		}
		results[i] = res
	}
	return results, nil
}

// kernelCache shares kernels between jobs with identical frequency sets.
// NaN filtering makes per-spectrum frequency sets diverge, so the cache is
// keyed on the full vector.
type kernelCache struct {
	mu sync.Mutex
	m  map[string]*decomp.Kernel
}

func (c *kernelCache) get(model decomp.ModelType, grid *decomp.TauGrid, freqs []float64) *decomp.Kernel {
	key := fmt.Sprintf("%s/%x", model, freqKey(freqs))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]*decomp.Kernel)
	}
	if k, ok := c.m[key]; ok {
		return k
	}
	k := decomp.NewKernel(model, grid, freqs)
	c.m[key] = k
	return k
}

func freqKey(freqs []float64) []byte {
	out := make([]byte, 0, 8*len(freqs))
	for _, f := range freqs {
		bits := math.Float64bits(f)
		for s := 0; s < 64; s += 8 {
			out = append(out, byte(bits>>s))
		}
	}
	return out
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func sortOutcomes(outs []Outcome) {
	sort.Slice(outs, func(i, j int) bool { return outs[i].Index < outs[j].Index })
}

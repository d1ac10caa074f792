package main

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/sip-data/debye.report/internal/batch"
	"github.com/sip-data/debye.report/internal/decomp"
	"github.com/sip-data/debye.report/internal/fsutil"
)

// ResultWriter writes the plain-text result tree through a FileSystem so
// tests can capture output in memory.
type ResultWriter struct {
	FS fsutil.FileSystem
}

// NewResultWriter returns a writer backed by fs, defaulting to the real
// filesystem when fs is nil.
func NewResultWriter(fs fsutil.FileSystem) *ResultWriter {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &ResultWriter{FS: fs}
}

// WriteResults writes the result tree under outDir:
//
//	f.dat             frequencies, one per line
//	tau.dat           relaxation time grid, one per line
//	lambdas.dat       chosen lambda per spectrum
//	rtd.dat           one row per spectrum: chargeabilities on the tau grid
//	forward.dat       one row per spectrum: fitted response, Re then Im columns
//	stats_and_rms/    one file per integral parameter, one row per spectrum
//
// Failed spectra keep their rows, filled with nan, so row indices stay
// aligned with the input file. Jobs supply the row count for outcomes that
// failed before producing results.
func (w *ResultWriter) WriteResults(outDir string, freqs []float64, grid *decomp.TauGrid, kernel *decomp.Kernel, jobs []batch.Job, outcomes []batch.Outcome) error {
	if err := w.FS.MkdirAll(filepath.Join(outDir, "stats_and_rms"), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := w.writeColumn(filepath.Join(outDir, "f.dat"), freqs); err != nil {
		return err
	}
	if err := w.writeColumn(filepath.Join(outDir, "tau.dat"), grid.Taus); err != nil {
		return err
	}

	var (
		lambdas  []float64
		rtdRows  [][]float64
		fwdRows  [][]float64
		statCols = map[string][]float64{}
	)
	stat := func(name string, v float64) {
		statCols[name] = append(statCols[name], v)
	}

	jobLen := make(map[int]int, len(jobs))
	for _, job := range jobs {
		jobLen[job.Index] = len(job.Sequence)
	}

	for _, out := range outcomes {
		for i := 0; i < jobLen[out.Index]; i++ {
			if out.Err != nil || out.Results == nil {
				lambdas = append(lambdas, math.NaN())
				rtdRows = append(rtdRows, nanRow(grid.N()))
				fwdRows = append(fwdRows, nanRow(2*len(freqs)))
				for _, name := range statNames {
					stat(name, math.NaN())
				}
				continue
			}

			fit := out.Results[i]
			p := out.Params[i]
			lambdas = append(lambdas, fit.Lambda)
			rtdRows = append(rtdRows, fit.M)

			model := kernel.ForwardComplex(fit.Scale, fit.M)
			fwd := make([]float64, 2*len(model))
			for j, c := range model {
				fwd[j] = real(c)
				fwd[len(model)+j] = imag(c)
			}
			fwdRows = append(fwdRows, fwd)

			stat("m_tot", p.MTot)
			stat("m_tot_n", p.MTotN)
			stat("rho0", p.Scale)
			stat("tau_50", percentileOrNaN(p, 0.5))
			stat("tau_mean_arith", p.TauArithmetic)
			stat("tau_mean_geom", p.TauGeometric)
			stat("tau_mean_log", p.TauLogMean)
			stat("tau_peak1", firstPeakOrNaN(p))
			stat("u_tau", uTauOrNaN(p))
			stat("rms_re_noerr", p.RMS.ReNoErr)
			stat("rms_im_noerr", p.RMS.ImNoErr)
			stat("rms_re_err", p.RMS.ReErr)
			stat("rms_im_err", p.RMS.ImErr)
			stat("rms_all_noerr", p.RMS.AllNoErr)
			stat("rms_all_err", p.RMS.AllErr)
		}
	}

	if err := w.writeColumn(filepath.Join(outDir, "lambdas.dat"), lambdas); err != nil {
		return err
	}
	if err := w.writeRows(filepath.Join(outDir, "rtd.dat"), rtdRows); err != nil {
		return err
	}
	if err := w.writeRows(filepath.Join(outDir, "forward.dat"), fwdRows); err != nil {
		return err
	}
	for _, name := range statNames {
		if err := w.writeColumn(filepath.Join(outDir, "stats_and_rms", name+".dat"), statCols[name]); err != nil {
			return err
		}
	}
	return nil
}

var statNames = []string{
	"m_tot", "m_tot_n", "rho0",
	"tau_50", "tau_mean_arith", "tau_mean_geom", "tau_mean_log",
	"tau_peak1", "u_tau",
	"rms_re_noerr", "rms_im_noerr", "rms_re_err", "rms_im_err",
	"rms_all_noerr", "rms_all_err",
}

func percentileOrNaN(p *decomp.IntegralParams, fraction float64) float64 {
	for _, tp := range p.TauPercentiles {
		if tp.Fraction == fraction && tp.Defined {
			return tp.Tau
		}
	}
	return math.NaN()
}

func firstPeakOrNaN(p *decomp.IntegralParams) float64 {
	if len(p.Peaks) == 0 {
		return math.NaN()
	}
	return p.Peaks[0].Tau
}

func uTauOrNaN(p *decomp.IntegralParams) float64 {
	if !p.UTauDefined {
		return math.NaN()
	}
	return p.UTau
}

func nanRow(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = math.NaN()
	}
	return row
}

func (w *ResultWriter) writeColumn(path string, values []float64) error {
	rows := make([][]float64, len(values))
	for i, v := range values {
		rows[i] = []float64{v}
	}
	return w.writeRows(path, rows)
}

func (w *ResultWriter) writeRows(path string, rows [][]float64) error {
	var b strings.Builder
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%.10g", v)
		}
		b.WriteByte('\n')
	}
	if err := w.FS.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

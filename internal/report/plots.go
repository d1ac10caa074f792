// Package report renders fit results as PNG plots and interactive HTML pages.
package report

import (
	"fmt"
	"image/color"
	"math/cmplx"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sip-data/debye.report/internal/decomp"
)

var (
	dataColor  = color.RGBA{R: 0x21, G: 0x96, B: 0xf3, A: 255}
	fitColor   = color.RGBA{R: 0xf4, G: 0x43, B: 0x36, A: 255}
	pointColor = color.RGBA{R: 0x4c, G: 0xaf, B: 0x50, A: 255}
)

// SaveLCurvePlot writes the regularization path as a log-log PNG with the
// selected lambda marked. Paths shorter than two points are skipped.
func SaveLCurvePlot(path []decomp.PathPoint, chosen float64, file string) error {
	if len(path) < 2 {
		return nil
	}

	p := plot.New()
	p.Title.Text = "L-curve"
	p.X.Label.Text = "residual norm"
	p.Y.Label.Text = "solution seminorm"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	pts := make(plotter.XYs, 0, len(path))
	var cornerPts plotter.XYs
	for _, pp := range path {
		if pp.MisfitNorm <= 0 || pp.SolutionNorm <= 0 {
			continue
		}
		xy := plotter.XY{X: pp.MisfitNorm, Y: pp.SolutionNorm}
		pts = append(pts, xy)
		if pp.Lambda == chosen {
			cornerPts = append(cornerPts, xy)
		}
	}
	if len(pts) < 2 {
		return nil
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = dataColor
	line.Width = vg.Points(1)
	p.Add(line)

	if len(cornerPts) > 0 {
		corner, err := plotter.NewScatter(cornerPts)
		if err != nil {
			return err
		}
		corner.Color = fitColor
		corner.Radius = vg.Points(4)
		p.Add(corner)
		p.Legend.Add(fmt.Sprintf("lambda=%.3g", chosen), corner)
	}
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save l-curve plot: %w", err)
	}
	return nil
}

// SaveRTDPlot writes the relaxation time distribution as a PNG with a
// logarithmic tau axis.
func SaveRTDPlot(grid *decomp.TauGrid, m []float64, file string) error {
	if len(m) != len(grid.Taus) {
		return fmt.Errorf("rtd length %d does not match grid size %d", len(m), len(grid.Taus))
	}

	p := plot.New()
	p.Title.Text = "Relaxation time distribution"
	p.X.Label.Text = "tau (s)"
	p.Y.Label.Text = "chargeability m"
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}

	pts := make(plotter.XYs, len(m))
	for i, mi := range m {
		pts[i] = plotter.XY{X: grid.Taus[i], Y: mi}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = dataColor
	line.Width = vg.Points(1.5)
	p.Add(line)

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.Color = pointColor
	scatter.Radius = vg.Points(2)
	p.Add(scatter)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, file); err != nil {
		return fmt.Errorf("save rtd plot: %w", err)
	}
	return nil
}

// SaveSpectrumPlot writes a two-panel style overlay (magnitude and negative
// imaginary part on separate files would be noisy, so both series go on one
// log-log plot) of measured data against the fitted forward response.
func SaveSpectrumPlot(k *decomp.Kernel, spec *decomp.Spectrum, fit *decomp.FitResult, file string) error {
	model := k.ForwardComplex(fit.Scale, fit.M)

	p := plot.New()
	p.Title.Text = "Spectrum fit"
	if spec.Label != "" {
		p.Title.Text = "Spectrum fit: " + spec.Label
	}
	p.X.Label.Text = "frequency (Hz)"
	p.Y.Label.Text = "magnitude / -imag"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	magData := make(plotter.XYs, 0, len(spec.Freqs))
	magFit := make(plotter.XYs, 0, len(spec.Freqs))
	imagData := make(plotter.XYs, 0, len(spec.Freqs))
	imagFit := make(plotter.XYs, 0, len(spec.Freqs))
	for i, f := range spec.Freqs {
		if v := cmplx.Abs(spec.Data[i]); v > 0 {
			magData = append(magData, plotter.XY{X: f, Y: v})
		}
		if v := cmplx.Abs(model[i]); v > 0 {
			magFit = append(magFit, plotter.XY{X: f, Y: v})
		}
		if v := -imag(spec.Data[i]); v > 0 {
			imagData = append(imagData, plotter.XY{X: f, Y: v})
		}
		if v := -imag(model[i]); v > 0 {
			imagFit = append(imagFit, plotter.XY{X: f, Y: v})
		}
	}

	series := []struct {
		name  string
		pts   plotter.XYs
		col   color.RGBA
		width vg.Length
	}{
		{"|data|", magData, dataColor, vg.Points(1)},
		{"|fit|", magFit, fitColor, vg.Points(1)},
		{"-imag data", imagData, pointColor, vg.Points(1)},
		{"-imag fit", imagFit, color.RGBA{R: 0xff, G: 0x98, B: 0x00, A: 255}, vg.Points(1)},
	}
	for _, s := range series {
		if len(s.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.col
		line.Width = s.width
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(10*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save spectrum plot: %w", err)
	}
	return nil
}

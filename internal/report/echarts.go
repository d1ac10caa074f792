package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sip-data/debye.report/internal/decomp"
	"github.com/sip-data/debye.report/internal/units"
)

// Item bundles everything the HTML report shows for one fitted spectrum.
type Item struct {
	Label    string
	Grid     *decomp.TauGrid
	Spectrum *decomp.Spectrum
	Fit      *decomp.FitResult
	Params   *decomp.IntegralParams
}

// RenderHTML writes a self-contained interactive page for one run: an RTD
// chart and an L-curve chart per spectrum.
func RenderHTML(w io.Writer, title string, items []Item) error {
	page := components.NewPage()

	for i, it := range items {
		label := it.Label
		if label == "" {
			label = fmt.Sprintf("spectrum %d", i)
		}
		page.AddCharts(rtdChart(title, label, it))
		if len(it.Fit.Path) > 1 {
			page.AddCharts(lcurveChart(title, label, it.Fit))
		}
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report page: %w", err)
	}
	return nil
}

func rtdChart(pageTitle, label string, it Item) *charts.Line {
	line := charts.NewLine()
	subtitle := fmt.Sprintf("lambda=%.3g m_tot=%.4g", it.Fit.Lambda, it.Params.MTot)
	if !it.Fit.Converged {
		subtitle += " (not converged)"
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pageTitle, Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "RTD: " + label, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tau (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m"}),
	)

	x := make([]string, len(it.Grid.Taus))
	y := make([]opts.LineData, len(it.Fit.M))
	for i, tau := range it.Grid.Taus {
		x[i] = units.FormatTau(tau)
		y[i] = opts.LineData{Value: it.Fit.M[i]}
	}
	line.SetXAxis(x).AddSeries("m", y)
	return line
}

func lcurveChart(pageTitle, label string, fit *decomp.FitResult) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pageTitle, Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "L-curve: " + label,
			Subtitle: fmt.Sprintf("chosen lambda=%.3g corner_found=%v", fit.Lambda, fit.CornerFound),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lambda"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "norm"}),
	)

	x := make([]string, len(fit.Path))
	misfit := make([]opts.LineData, len(fit.Path))
	snorm := make([]opts.LineData, len(fit.Path))
	for i, p := range fit.Path {
		x[i] = fmt.Sprintf("%.3g", p.Lambda)
		misfit[i] = opts.LineData{Value: p.MisfitNorm}
		snorm[i] = opts.LineData{Value: p.SolutionNorm}
	}
	line.SetXAxis(x).
		AddSeries("misfit norm", misfit).
		AddSeries("solution seminorm", snorm)
	return line
}

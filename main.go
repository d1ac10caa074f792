// Command debye-report fits Debye decompositions to complex resistivity or
// conductivity spectra: it loads an ASCII data file, inverts every spectrum
// through the regularized solver, writes a plain-text result tree, and can
// persist, plot, and serve the results.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sip-data/debye.report/api"
	"github.com/sip-data/debye.report/internal/batch"
	"github.com/sip-data/debye.report/internal/config"
	"github.com/sip-data/debye.report/internal/db"
	"github.com/sip-data/debye.report/internal/decomp"
	"github.com/sip-data/debye.report/internal/metrics"
	"github.com/sip-data/debye.report/internal/report"
	"github.com/sip-data/debye.report/internal/version"
)

var (
	freqFile   = flag.String("f", "frequencies.dat", "Frequency file, one Hz value per line")
	dataFile   = flag.String("d", "data.dat", "Data file, one spectrum per row")
	errFile    = flag.String("e", "", "Error file matching the data layout (optional)")
	dataFormat = flag.String("format", "rmag_rpha", "Data format: rmag_rpha, cre_cim or cre_cmim")
	outDir     = flag.String("o", "results", "Output directory")
	configPath = flag.String("config", "", "JSON inversion config (optional)")

	termsPerDecade = flag.Int("n", 0, "Debye terms per tau decade (default 10)")
	tauStrategy    = flag.String("tau-strategy", "", "Tau range strategy: data or data_ext")
	fixedLambda    = flag.Float64("lambda", 0, "Fixed regularization lambda; skips the L-curve scan")
	lambdaCount    = flag.Int("lambda-count", 0, "Number of L-curve lambda candidates (default 20)")
	timeLambda     = flag.Float64("time-lambda", 0, "Time-coupling strength; fits all spectra jointly when positive")
	normMag        = flag.Float64("norm", 0, "Normalize each spectrum's DC magnitude to this value before fitting")
	workers        = flag.Int("c", 0, "Worker count (default GOMAXPROCS)")

	dbPath        = flag.String("db", "", "SQLite database to persist results (optional)")
	migrationsDir = flag.String("migrations", "db/migrations", "Migrations directory for the result database")
	writePlots    = flag.Bool("plot", false, "Write PNG plots per spectrum")
	writeHTML     = flag.Bool("html", false, "Write an interactive report.html")
	serve         = flag.Bool("serve", false, "Serve stored results over HTTP after the run (requires -db)")
	listen        = flag.String("listen", ":8080", "Listen address for -serve")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("debye-report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := buildConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	format := DataFormat(*dataFormat)
	model, err := format.Model()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Model != nil {
		model = decomp.ModelType(*cfg.Model)
	}

	freqs, err := LoadFrequencies(*freqFile)
	if err != nil {
		log.Fatalf("load frequencies: %v", err)
	}
	specs, err := LoadSpectra(*dataFile, freqs, format)
	if err != nil {
		log.Fatalf("load data: %v", err)
	}
	if *errFile != "" {
		if err := LoadErrors(*errFile, specs, format); err != nil {
			log.Fatalf("load errors: %v", err)
		}
	}
	log.Printf("loaded %d spectra with %d frequencies", len(specs), len(freqs))

	grid, err := decomp.NewTauGrid(cfg.GridConfig(), freqs)
	if err != nil {
		log.Fatalf("build tau grid: %v", err)
	}

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		log.Fatalf("register metrics: %v", err)
	}

	opts := cfg.SolveOptions()
	opts.Model = model
	runner := &batch.Runner{
		Workers:     cfgInt(cfg.Workers, 0),
		Grid:        grid,
		Opts:        opts,
		Percentiles: cfg.Percentiles(),
		NormMag:     cfgFloat(cfg.NormMag, 0),
	}

	jobs := buildJobs(specs, opts.TimeLambda)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	outcomes := runner.Run(ctx, jobs)
	log.Printf("fitted %d jobs in %s", len(jobs), time.Since(start).Round(time.Millisecond))

	failed := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
			log.Printf("job %d failed: %v", out.Index, out.Err)
		}
	}
	if failed > 0 {
		log.Printf("%d of %d jobs failed", failed, len(jobs))
	}

	kernel := decomp.NewKernel(model, grid, freqs)
	writer := NewResultWriter(nil)
	if err := writer.WriteResults(*outDir, freqs, grid, kernel, jobs, outcomes); err != nil {
		log.Fatalf("write results: %v", err)
	}

	if *writePlots {
		if err := writePlotFiles(*outDir, grid, kernel, outcomes); err != nil {
			log.Fatalf("write plots: %v", err)
		}
	}
	if *writeHTML {
		if err := writeHTMLReport(*outDir, grid, outcomes); err != nil {
			log.Fatalf("write html report: %v", err)
		}
	}

	if *dbPath != "" {
		store, err := persistRun(cfg, model, grid, outcomes)
		if err != nil {
			log.Fatalf("persist results: %v", err)
		}
		if *serve {
			serveResults(ctx, store, registry)
		}
		store.Close()
	} else if *serve {
		log.Fatal("-serve requires -db")
	}
}

// buildConfig merges the optional config file with command line overrides.
// A flag left at its zero value does not override the file.
func buildConfig() (*config.InversionConfig, error) {
	cfg := &config.InversionConfig{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *termsPerDecade > 0 {
		cfg.TermsPerDecade = termsPerDecade
	}
	if *tauStrategy != "" {
		cfg.TauStrategy = tauStrategy
	}
	if *fixedLambda > 0 {
		cfg.FixedLambda = fixedLambda
	}
	if *lambdaCount > 0 {
		cfg.LambdaCount = lambdaCount
	}
	if *timeLambda > 0 {
		cfg.TimeLambda = timeLambda
	}
	if *normMag > 0 {
		cfg.NormMag = normMag
	}
	if *workers > 0 {
		cfg.Workers = workers
	}
	return cfg, cfg.Validate()
}

// buildJobs groups the spectra: one joint job when time coupling is on,
// otherwise one job per spectrum.
func buildJobs(specs []*decomp.Spectrum, timeLambda float64) []batch.Job {
	if timeLambda > 0 && len(specs) > 1 {
		return []batch.Job{{Index: 0, Sequence: specs}}
	}
	jobs := make([]batch.Job, len(specs))
	for i, s := range specs {
		jobs[i] = batch.Job{Index: i, Sequence: []*decomp.Spectrum{s}}
	}
	return jobs
}

func writePlotFiles(outDir string, grid *decomp.TauGrid, kernel *decomp.Kernel, outcomes []batch.Outcome) error {
	plotDir := filepath.Join(outDir, "plots")
	if err := os.MkdirAll(plotDir, 0755); err != nil {
		return err
	}
	row := 0
	for _, out := range outcomes {
		for i := range out.Spectra {
			if out.Err != nil {
				continue
			}
			fit := out.Results[i]
			prefix := filepath.Join(plotDir, fmt.Sprintf("spectrum_%03d", row))
			if err := report.SaveRTDPlot(grid, fit.M, prefix+"_rtd.png"); err != nil {
				return err
			}
			if err := report.SaveLCurvePlot(fit.Path, fit.Lambda, prefix+"_lcurve.png"); err != nil {
				return err
			}
			if err := report.SaveSpectrumPlot(kernel, out.Spectra[i], fit, prefix+"_fit.png"); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func writeHTMLReport(outDir string, grid *decomp.TauGrid, outcomes []batch.Outcome) error {
	var items []report.Item
	for _, out := range outcomes {
		if out.Err != nil {
			continue
		}
		for i := range out.Spectra {
			items = append(items, report.Item{
				Label:    out.Spectra[i].Label,
				Grid:     grid,
				Spectrum: out.Spectra[i],
				Fit:      out.Results[i],
				Params:   out.Params[i],
			})
		}
	}

	f, err := os.Create(filepath.Join(outDir, "report.html"))
	if err != nil {
		return err
	}
	defer f.Close()
	return report.RenderHTML(f, "Debye decomposition report", items)
}

func persistRun(cfg *config.InversionConfig, model decomp.ModelType, grid *decomp.TauGrid, outcomes []batch.Outcome) (*db.Store, error) {
	store, err := db.Open(*dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.MigrateUp(*migrationsDir); err != nil {
		store.Close()
		return nil, err
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	runID := uuid.NewString()
	if err := store.InsertRun(runID, string(model), string(cfgJSON), version.Version); err != nil {
		store.Close()
		return nil, err
	}

	row := 0
	for _, out := range outcomes {
		if out.Err != nil {
			continue
		}
		for i := range out.Spectra {
			err := store.InsertSpectrumResult(runID, row, out.Spectra[i].Label, grid, out.Results[i], out.Params[i])
			if err != nil {
				store.Close()
				return nil, err
			}
			row++
		}
	}
	log.Printf("stored run %s (%d spectra)", runID, row)
	return store, nil
}

// serveResults blocks until ctx is cancelled, then shuts the server down.
func serveResults(ctx context.Context, store *db.Store, registry *prometheus.Registry) {
	mux := api.NewServer(store, registry).ServeMux()
	server := &http.Server{Addr: *listen, Handler: mux}

	go func() {
		log.Printf("serving results on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}

func cfgInt(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func cfgFloat(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

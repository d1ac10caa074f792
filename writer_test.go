package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sip-data/debye.report/internal/batch"
	"github.com/sip-data/debye.report/internal/decomp"
	"github.com/sip-data/debye.report/internal/fsutil"
	"github.com/sip-data/debye.report/internal/testutil"
)

func readColumn(t *testing.T, path string) []float64 {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []float64
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func writerFixture(t *testing.T) ([]float64, *decomp.TauGrid, *decomp.Kernel, []batch.Job, []batch.Outcome) {
	t.Helper()
	freqs := testutil.Logspace(1e-1, 1e2, 8)
	grid, err := decomp.NewTauGrid(decomp.GridConfig{TermsPerDecade: 1, TauMin: 1e-3, TauMax: 1e1}, freqs)
	require.NoError(t, err)
	kernel := decomp.NewKernel(decomp.ModelResistivity, grid, freqs)

	spec := &decomp.Spectrum{
		Freqs: freqs,
		Data:  testutil.DebyeResistivity(freqs, 100, []float64{0.1}, []float64{1.0}),
		Label: "0",
	}
	m := make([]float64, grid.N())
	m[grid.Index(1.0)] = 0.1
	fit := &decomp.FitResult{
		M:         m,
		Scale:     100,
		Lambda:    3.2,
		Residual:  make([]float64, 2*len(freqs)),
		Converged: true,
	}
	params := &decomp.IntegralParams{
		MTot:  0.1,
		MTotN: 0.001,
		Scale: 100,
		TauPercentiles: []decomp.TauPercentile{
			{Fraction: 0.5, Tau: 1.0, Defined: true},
		},
		UTauDefined: false,
	}

	jobs := []batch.Job{
		{Index: 0, Sequence: []*decomp.Spectrum{spec}},
		{Index: 1, Sequence: []*decomp.Spectrum{spec}},
	}
	outcomes := []batch.Outcome{
		{Index: 0, Spectra: jobs[0].Sequence, Results: []*decomp.FitResult{fit}, Params: []*decomp.IntegralParams{params}},
		{Index: 1, Err: errors.New("bad spectrum")},
	}
	return freqs, grid, kernel, jobs, outcomes
}

func TestWriteResultsLayout(t *testing.T) {
	freqs, grid, kernel, jobs, outcomes := writerFixture(t)
	dir := t.TempDir()
	require.NoError(t, NewResultWriter(nil).WriteResults(dir, freqs, grid, kernel, jobs, outcomes))

	assert.Equal(t, freqs, readColumn(t, filepath.Join(dir, "f.dat")))
	assert.Equal(t, grid.Taus, readColumn(t, filepath.Join(dir, "tau.dat")))

	lambdas := readColumn(t, filepath.Join(dir, "lambdas.dat"))
	require.Len(t, lambdas, 2)
	assert.Equal(t, 3.2, lambdas[0])
	assert.True(t, math.IsNaN(lambdas[1]))
}

func TestWriteResultsFailedRowsAreNaN(t *testing.T) {
	freqs, grid, kernel, jobs, outcomes := writerFixture(t)
	dir := t.TempDir()
	require.NoError(t, NewResultWriter(nil).WriteResults(dir, freqs, grid, kernel, jobs, outcomes))

	raw, err := os.ReadFile(filepath.Join(dir, "rtd.dat"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, strings.Fields(lines[0]), grid.N())
	for _, field := range strings.Fields(lines[1]) {
		v, err := strconv.ParseFloat(field, 64)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(v))
	}
}

func TestWriteResultsStats(t *testing.T) {
	freqs, grid, kernel, jobs, outcomes := writerFixture(t)
	dir := t.TempDir()
	require.NoError(t, NewResultWriter(nil).WriteResults(dir, freqs, grid, kernel, jobs, outcomes))

	mtot := readColumn(t, filepath.Join(dir, "stats_and_rms", "m_tot.dat"))
	require.Len(t, mtot, 2)
	assert.Equal(t, 0.1, mtot[0])
	assert.True(t, math.IsNaN(mtot[1]))

	tau50 := readColumn(t, filepath.Join(dir, "stats_and_rms", "tau_50.dat"))
	assert.Equal(t, 1.0, tau50[0])

	// U_tau was undefined for the fitted spectrum, so both rows are nan.
	utau := readColumn(t, filepath.Join(dir, "stats_and_rms", "u_tau.dat"))
	assert.True(t, math.IsNaN(utau[0]))
	assert.True(t, math.IsNaN(utau[1]))
}

func TestWriteResultsForwardResponse(t *testing.T) {
	freqs, grid, kernel, jobs, outcomes := writerFixture(t)
	dir := t.TempDir()
	require.NoError(t, NewResultWriter(nil).WriteResults(dir, freqs, grid, kernel, jobs, outcomes))

	raw, err := os.ReadFile(filepath.Join(dir, "forward.dat"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	fields := strings.Fields(lines[0])
	require.Len(t, fields, 2*len(freqs))

	fit := outcomes[0].Results[0]
	model := kernel.ForwardComplex(fit.Scale, fit.M)
	re0, err := strconv.ParseFloat(fields[0], 64)
	require.NoError(t, err)
	assert.InDelta(t, real(model[0]), re0, 1e-6)
}

func TestBuildJobs(t *testing.T) {
	specs := []*decomp.Spectrum{{Label: "a"}, {Label: "b"}, {Label: "c"}}

	jobs := buildJobs(specs, 0)
	require.Len(t, jobs, 3)
	assert.Equal(t, "b", jobs[1].Sequence[0].Label)

	jobs = buildJobs(specs, 5)
	require.Len(t, jobs, 1)
	assert.Len(t, jobs[0].Sequence, 3)
}

func TestWriteResultsToMemory(t *testing.T) {
	freqs, grid, kernel, jobs, outcomes := writerFixture(t)
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, NewResultWriter(mem).WriteResults("out", freqs, grid, kernel, jobs, outcomes))

	files := mem.Files()
	assert.Contains(t, files, "out/f.dat")
	assert.Contains(t, files, "out/tau.dat")
	assert.Contains(t, files, "out/stats_and_rms/m_tot.dat")

	data, err := mem.ReadFile("out/lambdas.dat")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sip-data/debye.report/internal/decomp"
)

const testMigrationsDir = "../../db/migrations"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.MigrateUp(testMigrationsDir))
	return s
}

func testFit() (*decomp.TauGrid, *decomp.FitResult) {
	grid := &decomp.TauGrid{Taus: []float64{0.001, 0.01, 0.1, 1.0}}
	fit := &decomp.FitResult{
		M:           []float64{0, 0.05, 0.1, 0},
		Scale:       100,
		Lambda:      10,
		MisfitNorm:  0.5,
		Residual:    make([]float64, 12),
		Converged:   true,
		CornerFound: true,
		Path: []decomp.PathPoint{
			{Lambda: 1, MisfitNorm: 0.1, SolutionNorm: 2},
			{Lambda: 10, MisfitNorm: 0.5, SolutionNorm: 0.5},
		},
	}
	return grid, fit
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MigrateUp(testMigrationsDir))

	version, dirty, err := s.MigrateVersion(testMigrationsDir)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(3), version)
}

func TestInsertAndListRuns(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.InsertRun("run-a", "resistivity", `{"terms_per_decade":10}`, "1.0.0"))
	require.NoError(t, s.InsertRun("run-b", "conductivity", "", "1.0.0"))

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)

	r, err := s.GetRun("run-a")
	require.NoError(t, err)
	assert.Equal(t, "resistivity", r.Model)
	assert.Equal(t, `{"terms_per_decade":10}`, r.ConfigJSON)
	assert.Equal(t, 0, r.Spectra)
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun("nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestInsertSpectrumResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertRun("run-a", "resistivity", "", "dev"))

	grid, fit := testFit()
	params := &decomp.IntegralParams{MTot: 0.15, Scale: 100}
	require.NoError(t, s.InsertSpectrumResult("run-a", 0, "site-1", grid, fit, params))

	spectra, err := s.SpectraForRun("run-a")
	require.NoError(t, err)
	require.Len(t, spectra, 1)
	assert.Equal(t, "site-1", spectra[0].Label)
	assert.Equal(t, 6, spectra[0].FreqCount)
	assert.Equal(t, 10.0, spectra[0].Lambda)
	assert.True(t, spectra[0].Converged)
	assert.Contains(t, spectra[0].ParamsJSON, `"m_tot":0.15`)

	taus, ms, err := s.RTDForSpectrum("run-a", 0)
	require.NoError(t, err)
	assert.Equal(t, grid.Taus, taus)
	assert.Equal(t, fit.M, ms)

	path, err := s.PathForSpectrum("run-a", 0)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, fit.Path, path)
}

func TestInsertSpectrumResultDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertRun("run-a", "resistivity", "", "dev"))

	grid, fit := testFit()
	params := &decomp.IntegralParams{}
	require.NoError(t, s.InsertSpectrumResult("run-a", 0, "", grid, fit, params))
	assert.Error(t, s.InsertSpectrumResult("run-a", 0, "", grid, fit, params))

	// The failed insert must not leave partial RTD rows behind.
	taus, _, err := s.RTDForSpectrum("run-a", 0)
	require.NoError(t, err)
	assert.Len(t, taus, len(grid.Taus))
}

func TestMigrateDownRemovesLatest(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MigrateDown(testMigrationsDir))

	version, dirty, err := s.MigrateVersion(testMigrationsDir)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	_, err = s.Exec(`INSERT INTO rtd (run_id, spectrum_idx, tau_idx, tau, m) VALUES ('x', 0, 0, 1, 1)`)
	assert.Error(t, err)
}

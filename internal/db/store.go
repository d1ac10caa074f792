// Package db persists decomposition runs to SQLite: run metadata, the
// per-spectrum fit summaries, the full RTDs, and the scanned regularization
// paths for diagnostic plotting.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sip-data/debye.report/internal/decomp"
)

// Store wraps the SQLite handle.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" in tests.
// Run MigrateUp before first use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; serialising through a single connection
	// avoids SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)
	return &Store{db}, nil
}

// Run is the stored metadata of one decomposition run.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Model      string    `json:"model"`
	ConfigJSON string    `json:"config,omitempty"`
	AppVersion string    `json:"app_version"`
	Spectra    int       `json:"spectra"`
}

// SpectrumResult is the stored per-spectrum summary row.
type SpectrumResult struct {
	RunID       string  `json:"run_id"`
	Index       int     `json:"index"`
	Label       string  `json:"label"`
	FreqCount   int     `json:"freq_count"`
	Lambda      float64 `json:"lambda"`
	Converged   bool    `json:"converged"`
	CornerFound bool    `json:"corner_found"`
	Scale       float64 `json:"scale"`
	ParamsJSON  string  `json:"params"`
}

// InsertRun records run metadata.
func (s *Store) InsertRun(id, model, configJSON, appVersion string) error {
	_, err := s.Exec(
		`INSERT INTO runs (run_id, model, config_json, app_version) VALUES (?, ?, ?, ?)`,
		id, model, configJSON, appVersion,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", id, err)
	}
	return nil
}

// InsertSpectrumResult stores one fitted spectrum: the summary row, the RTD
// aligned with the tau grid, and the regularization path (when scanned),
// all in one transaction.
func (s *Store) InsertSpectrumResult(runID string, idx int, label string, grid *decomp.TauGrid, fit *decomp.FitResult, params *decomp.IntegralParams) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal integral params: %w", err)
	}

	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO spectra
			(run_id, spectrum_idx, label, freq_count, lambda, converged, corner_found, scale, params_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, idx, label, len(fit.Residual)/2, fit.Lambda,
		fit.Converged, fit.CornerFound, fit.Scale, string(paramsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert spectrum %d: %w", idx, err)
	}

	for i, m := range fit.M {
		if _, err := tx.Exec(
			`INSERT INTO rtd (run_id, spectrum_idx, tau_idx, tau, m) VALUES (?, ?, ?, ?, ?)`,
			runID, idx, i, grid.Taus[i], m,
		); err != nil {
			return fmt.Errorf("insert rtd point %d: %w", i, err)
		}
	}

	for _, p := range fit.Path {
		if _, err := tx.Exec(
			`INSERT INTO lcurve (run_id, spectrum_idx, lambda, misfit_norm, solution_norm) VALUES (?, ?, ?, ?, ?)`,
			runID, idx, p.Lambda, p.MisfitNorm, p.SolutionNorm,
		); err != nil {
			return fmt.Errorf("insert lcurve point: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns returns stored runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.Query(`
		SELECT r.run_id, r.created_at, r.model, r.app_version, COUNT(sp.spectrum_idx)
		FROM runs r
		LEFT JOIN spectra sp ON sp.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Model, &r.AppVersion, &r.Spectra); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun fetches one run's metadata, or sql.ErrNoRows.
func (s *Store) GetRun(id string) (*Run, error) {
	var r Run
	err := s.QueryRow(`
		SELECT r.run_id, r.created_at, r.model, r.config_json, r.app_version,
			(SELECT COUNT(*) FROM spectra sp WHERE sp.run_id = r.run_id)
		FROM runs r WHERE r.run_id = ?`, id).
		Scan(&r.ID, &r.CreatedAt, &r.Model, &r.ConfigJSON, &r.AppVersion, &r.Spectra)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SpectraForRun returns the per-spectrum summaries in spectrum order.
func (s *Store) SpectraForRun(runID string) ([]SpectrumResult, error) {
	rows, err := s.Query(`
		SELECT run_id, spectrum_idx, label, freq_count, lambda, converged, corner_found, scale, params_json
		FROM spectra WHERE run_id = ? ORDER BY spectrum_idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query spectra for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []SpectrumResult
	for rows.Next() {
		var sr SpectrumResult
		if err := rows.Scan(&sr.RunID, &sr.Index, &sr.Label, &sr.FreqCount,
			&sr.Lambda, &sr.Converged, &sr.CornerFound, &sr.Scale, &sr.ParamsJSON); err != nil {
			return nil, fmt.Errorf("scan spectrum row: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// RTDForSpectrum returns the stored RTD as parallel tau/m slices.
func (s *Store) RTDForSpectrum(runID string, idx int) (taus, ms []float64, err error) {
	rows, err := s.Query(`
		SELECT tau, m FROM rtd
		WHERE run_id = ? AND spectrum_idx = ? ORDER BY tau_idx`, runID, idx)
	if err != nil {
		return nil, nil, fmt.Errorf("query rtd: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tau, m float64
		if err := rows.Scan(&tau, &m); err != nil {
			return nil, nil, fmt.Errorf("scan rtd point: %w", err)
		}
		taus = append(taus, tau)
		ms = append(ms, m)
	}
	return taus, ms, rows.Err()
}

// PathForSpectrum returns the stored regularization path, ascending lambda.
func (s *Store) PathForSpectrum(runID string, idx int) ([]decomp.PathPoint, error) {
	rows, err := s.Query(`
		SELECT lambda, misfit_norm, solution_norm FROM lcurve
		WHERE run_id = ? AND spectrum_idx = ? ORDER BY lambda`, runID, idx)
	if err != nil {
		return nil, fmt.Errorf("query lcurve: %w", err)
	}
	defer rows.Close()

	var out []decomp.PathPoint
	for rows.Next() {
		var p decomp.PathPoint
		if err := rows.Scan(&p.Lambda, &p.MisfitNorm, &p.SolutionNorm); err != nil {
			return nil, fmt.Errorf("scan lcurve point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Package config loads inversion settings from a JSON file. The schema
// uses pointer fields so a partial config is safe: omitted fields keep
// their defaults, and command-line flags can override individual values on
// top of the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sip-data/debye.report/internal/decomp"
)

// MaxConfigFileSize guards against accidentally pointing the loader at a
// data file.
const MaxConfigFileSize = 1 << 20

// InversionConfig is the on-disk run configuration.
type InversionConfig struct {
	// Model is "resistivity" (default) or "conductivity".
	Model *string `json:"model,omitempty"`

	// Grid construction.
	TermsPerDecade *int     `json:"terms_per_decade,omitempty"`
	TauStrategy    *string  `json:"tau_strategy,omitempty"` // "data" or "data_ext"
	TauMin         *float64 `json:"tau_min,omitempty"`
	TauMax         *float64 `json:"tau_max,omitempty"`

	// Regularization.
	FixedLambda *float64 `json:"fixed_lambda,omitempty"`
	LambdaCount *int     `json:"lambda_count,omitempty"`
	LambdaMin   *float64 `json:"lambda_min,omitempty"`
	LambdaMax   *float64 `json:"lambda_max,omitempty"`
	TimeLambda  *float64 `json:"time_lambda,omitempty"`
	SmoothOrder *int     `json:"smooth_order,omitempty"`

	// Solver.
	MaxIterations *int     `json:"max_iterations,omitempty"`
	Tolerance     *float64 `json:"tolerance,omitempty"`

	// Post-processing. Percentiles are fractions in (0,1); 0.1 and 0.6 are
	// always added so U_tau stays computable.
	TauPercentiles []float64 `json:"tau_percentiles,omitempty"`

	// NormMag normalizes each spectrum's DC magnitude to this value before
	// fitting (0 disables).
	NormMag *float64 `json:"norm_mag,omitempty"`

	// Workers bounds the batch worker pool (0 means GOMAXPROCS).
	Workers *int `json:"workers,omitempty"`
}

// Load reads and validates a JSON config file.
func Load(path string) (*InversionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg InversionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the solver cannot work with.
func (c *InversionConfig) Validate() error {
	if c.Model != nil {
		switch decomp.ModelType(*c.Model) {
		case decomp.ModelResistivity, decomp.ModelConductivity:
		default:
			return fmt.Errorf("unknown model %q", *c.Model)
		}
	}
	if c.TauStrategy != nil {
		switch decomp.TauStrategy(*c.TauStrategy) {
		case decomp.TauFromData, decomp.TauFromDataExtended:
		default:
			return fmt.Errorf("unknown tau strategy %q", *c.TauStrategy)
		}
	}
	if c.TermsPerDecade != nil && *c.TermsPerDecade <= 0 {
		return fmt.Errorf("terms_per_decade must be positive, got %d", *c.TermsPerDecade)
	}
	if c.SmoothOrder != nil && *c.SmoothOrder != 1 && *c.SmoothOrder != 2 {
		return fmt.Errorf("smooth_order must be 1 or 2, got %d", *c.SmoothOrder)
	}
	for _, f := range c.TauPercentiles {
		if f <= 0 || f >= 1 {
			return fmt.Errorf("tau percentile %g outside (0,1)", f)
		}
	}
	if c.LambdaMin != nil && c.LambdaMax != nil && *c.LambdaMax <= *c.LambdaMin {
		return fmt.Errorf("lambda_max (%g) must exceed lambda_min (%g)", *c.LambdaMax, *c.LambdaMin)
	}
	return nil
}

// GridConfig maps the file settings onto the solver's grid configuration.
func (c *InversionConfig) GridConfig() decomp.GridConfig {
	g := decomp.DefaultGridConfig()
	if c.TermsPerDecade != nil {
		g.TermsPerDecade = *c.TermsPerDecade
	}
	if c.TauStrategy != nil {
		g.Strategy = decomp.TauStrategy(*c.TauStrategy)
	}
	if c.TauMin != nil {
		g.TauMin = *c.TauMin
	}
	if c.TauMax != nil {
		g.TauMax = *c.TauMax
	}
	return g
}

// SolveOptions maps the file settings onto the solver options.
func (c *InversionConfig) SolveOptions() decomp.SolveOptions {
	var o decomp.SolveOptions
	o.Model = decomp.ModelResistivity
	if c.Model != nil {
		o.Model = decomp.ModelType(*c.Model)
	}
	if c.FixedLambda != nil {
		o.Lambda = *c.FixedLambda
	}
	if c.LambdaCount != nil {
		o.LambdaCount = *c.LambdaCount
	}
	if c.LambdaMin != nil {
		o.LambdaMin = *c.LambdaMin
	}
	if c.LambdaMax != nil {
		o.LambdaMax = *c.LambdaMax
	}
	if c.TimeLambda != nil {
		o.TimeLambda = *c.TimeLambda
	}
	if c.SmoothOrder != nil {
		o.SmoothOrder = *c.SmoothOrder
	}
	if c.MaxIterations != nil {
		o.MaxIterations = *c.MaxIterations
	}
	if c.Tolerance != nil {
		o.Tolerance = *c.Tolerance
	}
	return o
}

// Percentiles returns the requested cumulative fractions with the U_tau
// anchors (0.1, 0.6) and the median merged in, sorted ascending.
func (c *InversionConfig) Percentiles() []float64 {
	want := map[float64]bool{0.1: true, 0.5: true, 0.6: true}
	for _, f := range c.TauPercentiles {
		want[f] = true
	}
	out := make([]float64, 0, len(want))
	for f := range want {
		out = append(out, f)
	}
	sort.Float64s(out)
	return out
}

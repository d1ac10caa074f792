package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sip-data/debye.report/internal/decomp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inversion.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `{"terms_per_decade": 5, "model": "conductivity"}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	g := cfg.GridConfig()
	assert.Equal(t, 5, g.TermsPerDecade)
	assert.Equal(t, decomp.TauFromDataExtended, g.Strategy)

	o := cfg.SolveOptions()
	assert.Equal(t, decomp.ModelConductivity, o.Model)
	assert.Zero(t, o.Lambda, "no fixed lambda unless configured")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad model", `{"model": "magnetism"}`},
		{"bad strategy", `{"tau_strategy": "guess"}`},
		{"bad smooth order", `{"smooth_order": 3}`},
		{"bad percentile", `{"tau_percentiles": [1.5]}`},
		{"inverted lambda range", `{"lambda_min": 10, "lambda_max": 1}`},
		{"negative terms", `{"terms_per_decade": -1}`},
		{"not json", `terms_per_decade: 5`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inversion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestPercentilesAlwaysIncludeUniformityAnchors(t *testing.T) {
	cfg := &InversionConfig{TauPercentiles: []float64{0.9, 0.1}}
	got := cfg.Percentiles()
	assert.Equal(t, []float64{0.1, 0.5, 0.6, 0.9}, got)
}

func TestSolveOptionsMapping(t *testing.T) {
	lam := 2.5
	tl := 7.0
	order := 2
	cfg := &InversionConfig{FixedLambda: &lam, TimeLambda: &tl, SmoothOrder: &order}
	o := cfg.SolveOptions()
	assert.Equal(t, 2.5, o.Lambda)
	assert.Equal(t, 7.0, o.TimeLambda)
	assert.Equal(t, 2, o.SmoothOrder)
}

func TestGridConfigRoundTrip(t *testing.T) {
	path := writeConfig(t, `{"terms_per_decade": 4, "tau_strategy": "data", "tau_min": 1e-4, "tau_max": 10}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := decomp.GridConfig{
		TermsPerDecade: 4,
		Strategy:       decomp.TauFromData,
		TauMin:         1e-4,
		TauMax:         10,
	}
	if diff := cmp.Diff(want, cfg.GridConfig()); diff != "" {
		t.Errorf("grid config mismatch (-want +got):\n%s", diff)
	}
}

package decomp

import (
	"math"

	"github.com/sip-data/debye.report/internal/units"
)

// TauStrategy selects how the relaxation-time range is derived from the
// measured frequency range.
type TauStrategy string

const (
	// TauFromData spans exactly the range implied by the data frequencies,
	// tau = 1/(2*pi*f).
	TauFromData TauStrategy = "data"
	// TauFromDataExtended extends the data-implied range by one frequency
	// decade on each side. This is the default: chargeability loaded onto
	// the edge taus would otherwise alias into the visible range.
	TauFromDataExtended TauStrategy = "data_ext"
)

// GridConfig controls relaxation-time grid construction.
type GridConfig struct {
	// TermsPerDecade is the number of Debye terms per tau decade.
	TermsPerDecade int
	Strategy       TauStrategy

	// TauMin/TauMax override the frequency-derived bounds when both are
	// positive.
	TauMin float64
	TauMax float64
}

// DefaultGridConfig mirrors the historical defaults: ten terms per decade
// over the extended data range.
func DefaultGridConfig() GridConfig {
	return GridConfig{TermsPerDecade: 10, Strategy: TauFromDataExtended}
}

// TauGrid is a fixed, log-spaced grid of relaxation times shared by every
// spectrum of a run. It is never mutated after construction; concurrent
// reads are safe.
type TauGrid struct {
	Taus []float64 // ascending, seconds
}

// NewTauGrid builds the grid for the given frequency vector. Frequencies
// must be positive and ascending (see Spectrum.Validate).
func NewTauGrid(cfg GridConfig, freqs []float64) (*TauGrid, error) {
	if cfg.TermsPerDecade <= 0 {
		cfg.TermsPerDecade = 10
	}
	tauMin, tauMax := cfg.TauMin, cfg.TauMax
	if tauMin <= 0 || tauMax <= 0 {
		if len(freqs) < 2 {
			return nil, shapeErrorf("need at least two frequencies to derive a tau range, got %d", len(freqs))
		}
		fMin, fMax := freqs[0], freqs[len(freqs)-1]
		if fMin <= 0 || fMax <= fMin {
			return nil, shapeErrorf("invalid frequency range [%g, %g]", fMin, fMax)
		}
		tauMin = units.FreqToTau(fMax)
		tauMax = units.FreqToTau(fMin)
		if cfg.Strategy != TauFromData {
			tauMin /= 10
			tauMax *= 10
		}
	}
	if tauMax <= tauMin {
		return nil, shapeErrorf("tau range inverted: [%g, %g]", tauMin, tauMax)
	}

	decades := math.Log10(tauMax / tauMin)
	n := int(math.Ceil(decades*float64(cfg.TermsPerDecade))) + 1
	if n < 2 {
		n = 2
	}

	g := &TauGrid{Taus: make([]float64, n)}
	logMin := math.Log10(tauMin)
	step := decades / float64(n-1)
	for i := range g.Taus {
		g.Taus[i] = math.Pow(10, logMin+float64(i)*step)
	}
	// Pin the endpoints to the exact bounds; the pow/log round trip can
	// drift in the last ulp.
	g.Taus[0] = tauMin
	g.Taus[n-1] = tauMax
	return g, nil
}

// N returns the number of relaxation times.
func (g *TauGrid) N() int { return len(g.Taus) }

// Index returns the grid index whose tau is nearest (in log space) to the
// given value, clamped to the grid.
func (g *TauGrid) Index(tau float64) int {
	if tau <= g.Taus[0] {
		return 0
	}
	if tau >= g.Taus[len(g.Taus)-1] {
		return len(g.Taus) - 1
	}
	lt := math.Log10(tau)
	best, bestDist := 0, math.Inf(1)
	for i, t := range g.Taus {
		if d := math.Abs(math.Log10(t) - lt); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

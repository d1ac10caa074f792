// Package units converts between the frequency- and time-domain quantities
// used throughout the decomposition: measurement frequencies in Hz, angular
// frequencies in rad/s, and relaxation times in seconds.
package units

import (
	"fmt"
	"math"
)

// Omega converts a frequency in Hz to an angular frequency in rad/s.
func Omega(freqHz float64) float64 {
	return 2 * math.Pi * freqHz
}

// Omegas converts a frequency vector to angular frequencies.
func Omegas(freqsHz []float64) []float64 {
	out := make([]float64, len(freqsHz))
	for i, f := range freqsHz {
		out[i] = Omega(f)
	}
	return out
}

// FreqToTau returns the relaxation time whose characteristic angular
// frequency matches f, tau = 1/(2*pi*f).
func FreqToTau(freqHz float64) float64 {
	return 1 / (2 * math.Pi * freqHz)
}

// TauToFreq is the inverse of FreqToTau.
func TauToFreq(tau float64) float64 {
	return 1 / (2 * math.Pi * tau)
}

// FormatTau renders a relaxation time with a unit suited to its magnitude,
// for log lines and report labels.
func FormatTau(tau float64) string {
	switch {
	case tau <= 0 || math.IsNaN(tau):
		return fmt.Sprintf("%g s", tau)
	case tau < 1e-6:
		return fmt.Sprintf("%.3g ns", tau*1e9)
	case tau < 1e-3:
		return fmt.Sprintf("%.3g us", tau*1e6)
	case tau < 1:
		return fmt.Sprintf("%.3g ms", tau*1e3)
	default:
		return fmt.Sprintf("%.3g s", tau)
	}
}

// Decade returns the integer decade of v, e.g. Decade(0.02) == -2.
func Decade(v float64) int {
	return int(math.Floor(math.Log10(v)))
}

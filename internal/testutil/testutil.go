// Package testutil provides shared numeric test helpers: log-spaced axes
// and closed-form Debye spectra computed independently of the production
// kernel, so round-trip tests have a ground truth that cannot share bugs
// with the code under test.
package testutil

import (
	"math"
	"testing"
)

// Logspace returns n log-spaced values from lo to hi inclusive.
func Logspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	llo := math.Log10(lo)
	step := (math.Log10(hi) - llo) / float64(n-1)
	for i := range out {
		out[i] = math.Pow(10, llo+float64(i)*step)
	}
	return out
}

// DebyeResistivity evaluates the closed-form complex resistivity of a
// superposition of Debye terms:
//
//	rho(w) = rho0 * (1 - sum_i m_i * (1 - 1/(1+iw*tau_i)))
func DebyeResistivity(freqs []float64, rho0 float64, ms, taus []float64) []complex128 {
	out := make([]complex128, len(freqs))
	for j, f := range freqs {
		w := 2 * math.Pi * f
		sum := complex(0, 0)
		for i, m := range ms {
			iwt := complex(0, w*taus[i])
			sum += complex(m, 0) * (1 - 1/(1+iwt))
		}
		out[j] = complex(rho0, 0) * (1 - sum)
	}
	return out
}

// DebyeConductivity evaluates the conductivity-model dual:
//
//	sigma(w) = sigma_inf * (1 - sum_i m_i / (1+iw*tau_i))
func DebyeConductivity(freqs []float64, sigmaInf float64, ms, taus []float64) []complex128 {
	out := make([]complex128, len(freqs))
	for j, f := range freqs {
		w := 2 * math.Pi * f
		sum := complex(0, 0)
		for i, m := range ms {
			iwt := complex(0, w*taus[i])
			sum += complex(m, 0) / (1 + iwt)
		}
		out[j] = complex(sigmaInf, 0) * (1 - sum)
	}
	return out
}

// Perturb adds a deterministic, bounded pseudo-noise to a spectrum so tests
// get reproducible "noisy" data without a seeded RNG. amp scales the
// perturbation relative to each component's magnitude; phase shifts the
// pattern so two spectra can carry different noise.
func Perturb(data []complex128, amp, phase float64) []complex128 {
	out := make([]complex128, len(data))
	for i, d := range data {
		t := float64(i) + phase
		re := real(d) * (1 + amp*math.Sin(3.7*t))
		im := imag(d) * (1 + amp*math.Cos(2.3*t))
		out[i] = complex(re, im)
	}
	return out
}

// AssertClose fails the test when |got-want| exceeds tol.
func AssertClose(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Fatalf("%s: got %g, want %g (tol %g)", msg, got, want, tol)
	}
}

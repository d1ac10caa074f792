// Package decomp implements the Debye decomposition of complex electrical
// resistivity/conductivity spectra: a Tikhonov-regularized, non-negative
// least-squares inversion that recovers a relaxation time distribution
// (RTD) over a fixed log-spaced tau grid, with automatic L-curve selection
// of the regularization parameter, optional time-coupled joint fitting of
// spectrum sequences, and extraction of the integral RTD parameters
// (chargeability totals, cumulative relaxation times, peaks, RMS misfits).
//
// The package performs no I/O; loaders and writers live with the callers.
package decomp

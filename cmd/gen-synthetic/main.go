// Command gen-synthetic writes a synthetic SIP dataset for testing the
// decomposition pipeline: a frequency file and a data file of noisy Debye
// spectra with known relaxation terms.
//
// Usage:
//
//	go run ./cmd/gen-synthetic [flags]
//
// Flags:
//
//	-o        Output directory (default: synthetic)
//	-spectra  Number of spectra to generate (default: 5)
//	-fmin     Lowest frequency in Hz (default: 1e-3)
//	-fmax     Highest frequency in Hz (default: 1e4)
//	-nf       Number of frequencies (default: 25)
//	-rho0     DC resistivity in ohm m (default: 100)
//	-terms    Relaxation terms as tau:m pairs (default: 1.0:0.05,0.01:0.05)
//	-noise    Relative noise amplitude (default: 0.01)
//	-seed     Random seed (default: 1)
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sip-data/debye.report/internal/testutil"
)

func main() {
	outDir := flag.String("o", "synthetic", "Output directory")
	nSpectra := flag.Int("spectra", 5, "Number of spectra to generate")
	fMin := flag.Float64("fmin", 1e-3, "Lowest frequency in Hz")
	fMax := flag.Float64("fmax", 1e4, "Highest frequency in Hz")
	nf := flag.Int("nf", 25, "Number of frequencies")
	rho0 := flag.Float64("rho0", 100, "DC resistivity in ohm m")
	terms := flag.String("terms", "1.0:0.05,0.01:0.05", "Relaxation terms as tau:m pairs")
	noise := flag.Float64("noise", 0.01, "Relative noise amplitude")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	taus, ms, err := parseTerms(*terms)
	if err != nil {
		log.Fatalf("parse -terms: %v", err)
	}
	if *nf < 2 || *fMin <= 0 || *fMax <= *fMin {
		log.Fatal("need -nf >= 2 and 0 < -fmin < -fmax")
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	freqs := testutil.Logspace(*fMin, *fMax, *nf)
	rng := rand.New(rand.NewSource(*seed))

	var fb, db strings.Builder
	for _, f := range freqs {
		fmt.Fprintf(&fb, "%.10g\n", f)
	}

	for s := 0; s < *nSpectra; s++ {
		data := testutil.DebyeResistivity(freqs, *rho0, ms, taus)

		// Row layout: F magnitudes (ohm m), then F phases (mrad).
		mags := make([]float64, *nf)
		phas := make([]float64, *nf)
		for j, c := range data {
			mag := cmplx.Abs(c) * (1 + *noise*rng.NormFloat64())
			pha := math.Atan2(imag(c), real(c)) + *noise*0.01*rng.NormFloat64()
			mags[j] = mag
			phas[j] = pha * 1000
		}
		for j := 0; j < *nf; j++ {
			fmt.Fprintf(&db, "%.10g ", mags[j])
		}
		for j := 0; j < *nf; j++ {
			fmt.Fprintf(&db, "%.10g", phas[j])
			if j < *nf-1 {
				db.WriteByte(' ')
			}
		}
		db.WriteByte('\n')
	}

	if err := os.WriteFile(filepath.Join(*outDir, "frequencies.dat"), []byte(fb.String()), 0644); err != nil {
		log.Fatalf("write frequencies: %v", err)
	}
	if err := os.WriteFile(filepath.Join(*outDir, "data.dat"), []byte(db.String()), 0644); err != nil {
		log.Fatalf("write data: %v", err)
	}
	log.Printf("wrote %d spectra with %d frequencies to %s", *nSpectra, *nf, *outDir)
}

// parseTerms parses "tau:m,tau:m" pairs.
func parseTerms(s string) (taus, ms []float64, err error) {
	for _, pair := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(pair), ":")
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("bad term %q, want tau:m", pair)
		}
		tau, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("bad tau in %q: %w", pair, err)
		}
		m, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("bad m in %q: %w", pair, err)
		}
		if tau <= 0 || m <= 0 || m >= 1 {
			return nil, nil, fmt.Errorf("term %q out of range: need tau > 0 and 0 < m < 1", pair)
		}
		taus = append(taus, tau)
		ms = append(ms, m)
	}
	if len(taus) == 0 {
		return nil, nil, fmt.Errorf("no terms")
	}
	return taus, ms, nil
}

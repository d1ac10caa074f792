package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sip-data/debye.report/internal/decomp"
)

// DataFormat names the column layout of an input data file. Each spectrum is
// one row of 2F whitespace-separated values: the F real-part columns followed
// by the F imaginary-part columns in the format's native quantities.
type DataFormat string

const (
	// FormatRMagRPha holds resistivity magnitude (ohm m) then phase (mrad).
	FormatRMagRPha DataFormat = "rmag_rpha"
	// FormatCReCIm holds real then imaginary complex conductivity (S/m).
	FormatCReCIm DataFormat = "cre_cim"
	// FormatCReCMIm holds real then negated imaginary conductivity.
	FormatCReCMIm DataFormat = "cre_cmim"
)

// Model returns the model type the format's quantities belong to.
func (f DataFormat) Model() (decomp.ModelType, error) {
	switch f {
	case FormatRMagRPha:
		return decomp.ModelResistivity, nil
	case FormatCReCIm, FormatCReCMIm:
		return decomp.ModelConductivity, nil
	default:
		return "", fmt.Errorf("unknown data format %q", f)
	}
}

// LoadFrequencies reads one frequency (Hz) per line, ascending.
func LoadFrequencies(path string) ([]float64, error) {
	rows, err := loadRows(path)
	if err != nil {
		return nil, err
	}
	var freqs []float64
	for i, row := range rows {
		if len(row) != 1 {
			return nil, fmt.Errorf("%s: row %d: expected one frequency per line, got %d values", path, i+1, len(row))
		}
		freqs = append(freqs, row[0])
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%s: no frequencies", path)
	}
	return freqs, nil
}

// LoadSpectra reads one spectrum per row and converts it to complex values
// in the format's model domain.
func LoadSpectra(path string, freqs []float64, format DataFormat) ([]*decomp.Spectrum, error) {
	rows, err := loadRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}

	specs := make([]*decomp.Spectrum, 0, len(rows))
	for i, row := range rows {
		data, err := rowToComplex(row, len(freqs), format)
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+1, err)
		}
		specs = append(specs, &decomp.Spectrum{
			Freqs: freqs,
			Data:  data,
			Label: fmt.Sprintf("%d", i),
		})
	}
	return specs, nil
}

// LoadErrors reads per-datum standard deviations, one row per spectrum in
// the same layout as the data file, and attaches them to specs. Magnitude
// and phase errors of rmag_rpha are propagated to the complex components to
// first order.
func LoadErrors(path string, specs []*decomp.Spectrum, format DataFormat) error {
	rows, err := loadRows(path)
	if err != nil {
		return err
	}
	if len(rows) != len(specs) {
		return fmt.Errorf("%s: %d error rows for %d spectra", path, len(rows), len(specs))
	}

	for i, row := range rows {
		spec := specs[i]
		nf := len(spec.Freqs)
		if len(row) != 2*nf {
			return fmt.Errorf("%s: row %d: expected %d values, got %d", path, i+1, 2*nf, len(row))
		}
		errs := make([]complex128, nf)
		for j := 0; j < nf; j++ {
			switch format {
			case FormatRMagRPha:
				// First-order propagation from (mag, phase) errors.
				mag, pha := realParts(spec.Data[j])
				dm, dp := row[j], row[nf+j]/1000.0
				sin, cos := math.Sincos(pha)
				dRe := math.Hypot(cos*dm, mag*sin*dp)
				dIm := math.Hypot(sin*dm, mag*cos*dp)
				errs[j] = complex(dRe, dIm)
			default:
				errs[j] = complex(math.Abs(row[j]), math.Abs(row[nf+j]))
			}
		}
		spec.Errs = errs
	}
	return nil
}

// realParts recovers (magnitude, phase) from a stored complex datum.
func realParts(c complex128) (mag, pha float64) {
	mag = math.Hypot(real(c), imag(c))
	pha = math.Atan2(imag(c), real(c))
	return mag, pha
}

func rowToComplex(row []float64, nf int, format DataFormat) ([]complex128, error) {
	if len(row) != 2*nf {
		return nil, fmt.Errorf("expected %d values for %d frequencies, got %d", 2*nf, nf, len(row))
	}
	data := make([]complex128, nf)
	for j := 0; j < nf; j++ {
		a, b := row[j], row[nf+j]
		switch format {
		case FormatRMagRPha:
			// Phase arrives in mrad.
			pha := b / 1000.0
			data[j] = complex(a*math.Cos(pha), a*math.Sin(pha))
		case FormatCReCIm:
			data[j] = complex(a, b)
		case FormatCReCMIm:
			data[j] = complex(a, -b)
		default:
			return nil, fmt.Errorf("unknown data format %q", format)
		}
	}
	return data, nil
}

// loadRows parses a whitespace-separated numeric file. Blank lines and lines
// starting with # are skipped; "nan" parses to NaN.
func loadRows(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows [][]float64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: line %d: parse %q: %w", path, lineNo, field, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

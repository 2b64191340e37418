package emgauss

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// missing-value sentinels recognized in CSV input
var naTokens = map[string]bool{
	"":    true,
	"NA":  true,
	"NaN": true,
	"nan": true,
	".":   true,
}

// LoadCSVMatrix reads a header row plus N rows of P real values into a dense
// matrix, mapping missing-value sentinels to NaN. Returns the matrix and the
// column names from the header.
func LoadCSVMatrix(path string) (*mat.Dense, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, nil, fmt.Errorf("empty header in %s", path)
	}
	p := len(header)

	var (
		data []float64
		row  int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", row+2, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != p {
			return nil, nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, p, len(record))
		}

		for j, s := range record {
			if naTokens[s] {
				data = append(data, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("parse float at row %d col %d (%q): %w", row+2, j+1, s, err)
			}
			data = append(data, v)
		}
		row++
	}
	if row == 0 {
		return nil, nil, fmt.Errorf("no data rows in %s", path)
	}
	return mat.NewDense(row, p, data), header, nil
}

// WriteMatrixCSV writes m with an optional header of column names. When
// names does not match the column count, Var1..VarP placeholders are used.
func WriteMatrixCSV(path string, m mat.Matrix, names []string) error {
	rows, cols := m.Dims()

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := make([]string, cols)
	for j := 0; j < cols; j++ {
		if len(names) == cols {
			header[j] = names[j]
		} else {
			header[j] = fmt.Sprintf("Var%d", j+1)
		}
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'f', 6, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// Summary writes a formatted report of the fit to w.
func (r *FitResult) Summary(w io.Writer, names []string) {
	p := len(r.Mu)

	fmt.Fprintln(w, "      EM Gaussian Fit Summary      ")
	fmt.Fprintf(w, "Variables (P):  %d\n", p)
	fmt.Fprintf(w, "Iterations:     %d\n", r.Iterations)
	fmt.Fprintf(w, "Converged:      %t\n", r.Converged)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Mean estimates:")
	for j := 0; j < p; j++ {
		name := fmt.Sprintf("Var%d", j+1)
		if len(names) == p {
			name = names[j]
		}
		fmt.Fprintf(w, "  %-20s %12.6f\n", name, r.Mu[j])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Covariance matrix S:")
	fmt.Fprintf(w, "%v\n\n", mat.Formatted(r.Sigma, mat.Prefix("  ")))

	fmt.Fprintln(w, "Precision matrix K:")
	fmt.Fprintf(w, "%v\n", mat.Formatted(r.Precision, mat.Prefix("  ")))
}

// Summary writes the selection grid, per-value criterion and partial
// correlations to w.
func (s *Selection) Summary(w io.Writer) {
	fmt.Fprintln(w, "      Tuning-Parameter Selection      ")
	fmt.Fprintf(w, "%-4s %12s %16s\n", "", "rho", "criterion")
	for i, rho := range s.Grid {
		marker := ""
		if i == s.SelectedIndex {
			marker = "*"
		}
		fmt.Fprintf(w, "%-4s %12.6f %16.6f\n", marker, rho, s.Criterion[i])
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Selected rho:   %g\n", s.Grid[s.SelectedIndex])
	fmt.Fprintf(w, "Converged:      %t\n", s.Best.Converged)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Partial correlations:")
	fmt.Fprintf(w, "%v\n", mat.Formatted(s.PartialCorr, mat.Prefix("  ")))
}

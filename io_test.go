package emgauss

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLoadCSVMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	csv := "x,y,z\n1.5,NA,3\n,2,NaN\n4,5,6\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	d, names, err := LoadCSVMatrix(path)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z"}, names)

	n, p := d.Dims()
	require.Equal(t, 3, n)
	require.Equal(t, 3, p)

	require.Equal(t, 1.5, d.At(0, 0))
	require.True(t, math.IsNaN(d.At(0, 1)))
	require.True(t, math.IsNaN(d.At(1, 0)))
	require.True(t, math.IsNaN(d.At(1, 2)))
	require.Equal(t, 6.0, d.At(2, 2))
}

func TestLoadCSVMatrixBadCell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,oops\n"), 0o644))
	_, _, err := LoadCSVMatrix(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "row 2")
}

func TestWriteMatrixCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	m := mat.NewDense(2, 2, []float64{1.25, -0.5, 0.75, 2})
	require.NoError(t, WriteMatrixCSV(path, m, []string{"a", "b"}))

	got, names, err := LoadCSVMatrix(path)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)
	require.True(t, mat.EqualApprox(m, got, 1e-6))
}

func TestFitResultSummary(t *testing.T) {
	d := synthGaussian(30, []float64{1, -1}, arSigma(2, 0.4), 40)
	res, err := Fit(d, DefaultFitConfig())
	require.NoError(t, err)

	var sb strings.Builder
	res.Summary(&sb, []string{"height", "weight"})
	out := sb.String()
	require.Contains(t, out, "height")
	require.Contains(t, out, "Converged:      true")
	require.Contains(t, out, "Precision matrix K:")
}

func TestSelectionSummaryMarksWinner(t *testing.T) {
	d := synthGaussian(50, make([]float64, 3), arSigma(3, 0.4), 41)
	d = punchHoles(d, 0.1, 42)

	fitCfg := DefaultFitConfig()
	fitCfg.Solver = GlassoSolver{}
	fitCfg.Tol = 1e-4

	cfg := DefaultSelectConfig()
	cfg.Grid = []float64{0, 0.1}

	sel, err := SelectEBIC(d, fitCfg, cfg)
	require.NoError(t, err)

	var sb strings.Builder
	sel.Summary(&sb)
	require.Contains(t, sb.String(), "Selected rho:")
	require.Contains(t, sb.String(), "*")
}

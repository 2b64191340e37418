package emgauss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// startFixture has observed column means (2, 3), one incomplete row.
func startFixture() *mat.Dense {
	return mat.NewDense(3, 2, []float64{
		1, 2,
		2, math.NaN(),
		3, 4,
	})
}

func TestStartDiag(t *testing.T) {
	mu, sigma, err := resolveStart(startFixture(), StartSpec{Strategy: StartDiag})
	require.NoError(t, err)
	require.Equal(t, []float64{2, 3}, mu)
	require.InDelta(t, 1.0, sigma.At(0, 0), 1e-12) // var of {1,2,3}
	require.InDelta(t, 2.0, sigma.At(1, 1), 1e-12) // var of {2,4}
	require.Equal(t, 0.0, sigma.At(0, 1))
}

func TestStartPairwise(t *testing.T) {
	mu, sigma, err := resolveStart(startFixture(), StartSpec{Strategy: StartPairwise})
	require.NoError(t, err)
	require.Equal(t, []float64{2, 3}, mu)
	require.InDelta(t, 1.0, sigma.At(0, 0), 1e-12)
	require.InDelta(t, 2.0, sigma.At(1, 1), 1e-12)
	// Overlapping rows are (1,2) and (3,4) with pair means (2,3).
	require.InDelta(t, 2.0, sigma.At(0, 1), 1e-12)
}

func TestStartListwise(t *testing.T) {
	mu, sigma, err := resolveStart(startFixture(), StartSpec{Strategy: StartListwise})
	require.NoError(t, err)
	require.Equal(t, []float64{2, 3}, mu)
	require.InDelta(t, 2.0, sigma.At(0, 0), 1e-12)
	require.InDelta(t, 2.0, sigma.At(1, 1), 1e-12)
	require.InDelta(t, 2.0, sigma.At(0, 1), 1e-12)
}

func TestStartListwiseInsufficient(t *testing.T) {
	d := mat.NewDense(2, 2, []float64{
		1, 2,
		2, math.NaN(),
	})
	_, _, err := resolveStart(d, StartSpec{Strategy: StartListwise})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestStartFull(t *testing.T) {
	mu, sigma, err := resolveStart(startFixture(), StartSpec{Strategy: StartFull})
	require.NoError(t, err)
	require.Equal(t, []float64{2, 3}, mu)
	// Mean-imputed matrix is (1,2),(2,3),(3,4).
	require.InDelta(t, 1.0, sigma.At(0, 0), 1e-12)
	require.InDelta(t, 1.0, sigma.At(1, 1), 1e-12)
	require.InDelta(t, 1.0, sigma.At(0, 1), 1e-12)
}

func TestStartExplicitValues(t *testing.T) {
	want := mat.NewSymDense(2, []float64{3, 1, 1, 2})
	mu, sigma, err := resolveStart(startFixture(), StartSpec{
		Mu:    []float64{5, 6},
		Sigma: want,
	})
	require.NoError(t, err)
	require.Equal(t, []float64{5, 6}, mu)
	require.True(t, mat.EqualApprox(want, sigma, 0))

	// The copy protects the caller's matrices from later mutation.
	sigma.SetSym(0, 0, 99)
	require.Equal(t, 3.0, want.At(0, 0))
}

func TestStartExplicitDimensionMismatch(t *testing.T) {
	_, _, err := resolveStart(startFixture(), StartSpec{
		Mu:    []float64{1},
		Sigma: mat.NewSymDense(1, []float64{1}),
	})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestStartUnknownStrategy(t *testing.T) {
	_, _, err := resolveStart(startFixture(), StartSpec{Strategy: "bogus"})
	require.Error(t, err)
}

func TestStartColumnWithNoObservations(t *testing.T) {
	d := mat.NewDense(2, 2, []float64{
		1, math.NaN(),
		2, math.NaN(),
	})
	_, _, err := resolveStart(d, StartSpec{Strategy: StartDiag})
	require.ErrorIs(t, err, ErrInsufficientData)
}

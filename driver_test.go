package emgauss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFitCompleteDataMatchesSampleMoments(t *testing.T) {
	// With no missing values the E-step is a no-op and EM lands on the
	// ordinary sample mean and (1/N-scaled) sample covariance in one cycle.
	d := mat.NewDense(4, 2, []float64{
		1, 2,
		2, 1,
		3, 4,
		4, 3,
	})

	res, err := Fit(d, DefaultFitConfig())
	require.NoError(t, err)
	require.True(t, res.Converged)

	require.InDelta(t, 2.5, res.Mu[0], 1e-12)
	require.InDelta(t, 2.5, res.Mu[1], 1e-12)
	require.InDelta(t, 1.25, res.Sigma.At(0, 0), 1e-12)
	require.InDelta(t, 1.25, res.Sigma.At(1, 1), 1e-12)
	require.InDelta(t, 0.75, res.Sigma.At(0, 1), 1e-12)
}

func TestFitSigmaPrecisionProduct(t *testing.T) {
	d := synthGaussian(80, []float64{1, 0, -1, 2}, arSigma(4, 0.5), 5)
	d = punchHoles(d, 0.1, 6)

	res, err := Fit(d, DefaultFitConfig())
	require.NoError(t, err)

	p := len(res.Mu)
	var prod mat.Dense
	prod.Mul(res.Sigma, res.Precision)
	eye := mat.NewDiagDense(p, nil)
	for i := 0; i < p; i++ {
		eye.SetDiag(i, 1)
	}
	require.True(t, mat.EqualApprox(&prod, eye, 1e-8), "S*K must be the identity")
}

func TestFitIdempotenceFromConvergedStart(t *testing.T) {
	d := synthGaussian(100, make([]float64, 3), arSigma(3, 0.4), 7)
	d = punchHoles(d, 0.15, 8)

	first, err := Fit(d, DefaultFitConfig())
	require.NoError(t, err)
	require.True(t, first.Converged)

	// One more cycle from the converged state must stay inside tolerance.
	cfg := DefaultFitConfig()
	cfg.MaxIter = 1
	cfg.Start = StartSpec{Mu: first.Mu, Sigma: first.Sigma}
	again, err := Fit(d, cfg)
	require.NoError(t, err)
	require.True(t, again.Converged)
	require.Equal(t, 1, again.Iterations)
}

func TestFitMaxIterZero(t *testing.T) {
	d := synthGaussian(10, make([]float64, 2), arSigma(2, 0.3), 9)

	cfg := DefaultFitConfig()
	cfg.MaxIter = 0
	res, err := Fit(d, cfg)
	require.NoError(t, err)
	require.False(t, res.Converged)
	require.Equal(t, 0, res.Iterations)
	require.NotNil(t, res.Sigma)
	require.NotNil(t, res.Precision)
	require.Len(t, res.Params, 2+3)
}

func TestFitMissingDataConverges(t *testing.T) {
	d := synthGaussian(100, []float64{0, 1, -1, 0.5, 2}, arSigma(5, 0.5), 10)
	d = punchHoles(d, 0.1, 11)

	res, err := Fit(d, DefaultFitConfig())
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.True(t, isPositiveDefinite(res.Sigma))
	require.True(t, isPositiveDefinite(res.Precision))
	for j := 0; j < 5; j++ {
		require.Greater(t, res.Precision.At(j, j), 0.0)
	}
}

func TestFitRegularizedPrecisionIsSparser(t *testing.T) {
	d := synthGaussian(100, make([]float64, 4), arSigma(4, 0.5), 12)
	d = punchHoles(d, 0.1, 13)

	plain, err := Fit(d, DefaultFitConfig())
	require.NoError(t, err)

	cfg := DefaultFitConfig()
	cfg.Solver = GlassoSolver{}
	cfg.Rho = 0.5
	cfg.Tol = 1e-4
	reg, err := Fit(d, cfg)
	require.NoError(t, err)
	require.Less(t, maxAbsOffDiag(reg.Precision), maxAbsOffDiag(plain.Precision))
}

func TestFitRejectsFullyMissingRow(t *testing.T) {
	d := mat.NewDense(3, 2, []float64{
		1, 2,
		math.NaN(), math.NaN(),
		3, 4,
	})
	_, err := Fit(d, DefaultFitConfig())
	require.ErrorIs(t, err, ErrEmptyRow)
}

func TestFitRejectsNegativeRho(t *testing.T) {
	d := synthGaussian(10, make([]float64, 2), arSigma(2, 0.3), 14)
	cfg := DefaultFitConfig()
	cfg.Rho = -0.1
	_, err := Fit(d, cfg)
	require.ErrorIs(t, err, ErrInvalidGridValue)
}

func TestFlattenParamsLayout(t *testing.T) {
	mu := []float64{1, 2}
	prec := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	got := flattenParams(mu, prec)
	require.Equal(t, []float64{1, 2, 4, 1, 3}, got)
}

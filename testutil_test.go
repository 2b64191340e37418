package emgauss

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// arSigma builds the AR(1)-style covariance Sigma[i][j] = r^|i-j|, a
// convenient positive-definite target for synthetic draws.
func arSigma(p int, r float64) *mat.SymDense {
	sigma := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			sigma.SetSym(i, j, math.Pow(r, float64(j-i)))
		}
	}
	return sigma
}

// synthGaussian draws n rows from N(mu, sigma) with a fixed seed, using the
// Cholesky factor of sigma.
func synthGaussian(n int, mu []float64, sigma *mat.SymDense, seed int64) *mat.Dense {
	p := sigma.SymmetricDim()
	var chol mat.Cholesky
	if !chol.Factorize(sigma) {
		panic("synthGaussian: sigma not positive-definite")
	}
	l := mat.NewTriDense(p, mat.Lower, nil)
	chol.LTo(l)

	rng := rand.New(rand.NewSource(seed))
	d := mat.NewDense(n, p, nil)
	z := make([]float64, p)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			z[j] = rng.NormFloat64()
		}
		for j := 0; j < p; j++ {
			v := mu[j]
			for k := 0; k <= j; k++ {
				v += l.At(j, k) * z[k]
			}
			d.Set(i, j, v)
		}
	}
	return d
}

// punchHoles returns a copy of d with roughly frac of the cells set to NaN,
// never leaving a row with zero observed values.
func punchHoles(d *mat.Dense, frac float64, seed int64) *mat.Dense {
	out := mat.DenseCopyOf(d)
	rng := rand.New(rand.NewSource(seed))
	n, p := out.Dims()
	for i := 0; i < n; i++ {
		missed := 0
		for j := 0; j < p; j++ {
			if rng.Float64() < frac && missed < p-1 {
				out.Set(i, j, math.NaN())
				missed++
			}
		}
	}
	return out
}

func isPositiveDefinite(a *mat.SymDense) bool {
	var chol mat.Cholesky
	return chol.Factorize(a)
}

func maxAbsOffDiag(a *mat.SymDense) float64 {
	p := a.SymmetricDim()
	max := 0.0
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			if v := math.Abs(a.At(i, j)); v > max {
				max = v
			}
		}
	}
	return max
}

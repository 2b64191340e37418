package emgauss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NegLogLik evaluates the missing-data Gaussian negative log-likelihood of d
// under mean mu and precision prec. Each row contributes only the marginal
// density of its observed variables,
//
//	0.5 * [ logdet S[o,o] + (x[o]-mu[o])' S[o,o]^-1 (x[o]-mu[o]) + |o| log 2pi ],
//
// where S is the inverse of prec. This is the standard likelihood under the
// missing-at-random assumption, and doubles as the cross-validation scoring
// function on held-out rows.
func NegLogLik(d *mat.Dense, mu []float64, prec *mat.SymDense) (float64, error) {
	sigma, err := invertSym(prec)
	if err != nil {
		return 0, fmt.Errorf("precision: %w", err)
	}

	n, _ := d.Dims()
	log2pi := math.Log(2 * math.Pi)

	total := 0.0
	for i := 0; i < n; i++ {
		obs, _ := rowPattern(d, i)
		if len(obs) == 0 {
			continue
		}

		soo := subSym(sigma, obs)
		var chol mat.Cholesky
		if !chol.Factorize(soo) {
			return 0, fmt.Errorf("row %d: observed-block covariance: %w", i, ErrSingularMatrix)
		}

		diff := mat.NewVecDense(len(obs), nil)
		for b, j := range obs {
			diff.SetVec(b, d.At(i, j)-mu[j])
		}
		var sol mat.VecDense
		if err := chol.SolveVecTo(&sol, diff); err != nil {
			return 0, fmt.Errorf("row %d: observed-block solve: %w", i, ErrSingularMatrix)
		}

		quad := mat.Dot(diff, &sol)
		total += 0.5 * (chol.LogDet() + quad + float64(len(obs))*log2pi)
	}
	return total, nil
}

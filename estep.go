package emgauss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// rowPattern partitions the columns of row i into observed and missing index
// sets. The two sets never overlap and their union is always {0..P-1}.
func rowPattern(d *mat.Dense, i int) (obs, mis []int) {
	_, p := d.Dims()
	for j := 0; j < p; j++ {
		if math.IsNaN(d.At(i, j)) {
			mis = append(mis, j)
		} else {
			obs = append(obs, j)
		}
	}
	return obs, mis
}

// subSym extracts the symmetric submatrix of a indexed by idx in both
// dimensions.
func subSym(a *mat.SymDense, idx []int) *mat.SymDense {
	out := mat.NewSymDense(len(idx), nil)
	for r, i := range idx {
		for c := r; c < len(idx); c++ {
			out.SetSym(r, c, a.At(i, idx[c]))
		}
	}
	return out
}

// invertSym inverts a symmetric positive-definite matrix via its Cholesky
// factorization.
func invertSym(a *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, ErrSingularMatrix
	}
	inv := mat.NewSymDense(a.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularMatrix, err)
	}
	return inv, nil
}

// imputeMissing is the first part of the E-step. It returns a completed copy
// of d where every missing entry of row i is replaced by its conditional
// mean given the observed entries,
//
//	mu[mis] - K[mis,mis]^-1 K[mis,obs] (x[obs] - mu[obs]),
//
// under the current mean mu and precision prec. The input matrix is never
// modified. Rows without missing entries pass through unchanged.
func imputeMissing(d *mat.Dense, mu []float64, prec *mat.SymDense) (*mat.Dense, error) {
	out := mat.DenseCopyOf(d)
	n, _ := d.Dims()

	for i := 0; i < n; i++ {
		obs, mis := rowPattern(d, i)
		if len(mis) == 0 {
			continue
		}

		kmm := subSym(prec, mis)
		var chol mat.Cholesky
		if !chol.Factorize(kmm) {
			return nil, fmt.Errorf("row %d: missing-block precision: %w", i, ErrSingularMatrix)
		}

		// rhs = K[mis,obs] (x[obs] - mu[obs]); empty obs leaves rhs at zero
		// so the imputation degenerates to the unconditional mean.
		diff := make([]float64, len(obs))
		for b, j := range obs {
			diff[b] = d.At(i, j) - mu[j]
		}
		rhs := mat.NewVecDense(len(mis), nil)
		for a, j := range mis {
			s := 0.0
			for b, k := range obs {
				s += prec.At(j, k) * diff[b]
			}
			rhs.SetVec(a, s)
		}

		var sol mat.VecDense
		if err := chol.SolveVecTo(&sol, rhs); err != nil {
			return nil, fmt.Errorf("row %d: missing-block solve: %w", i, ErrSingularMatrix)
		}
		for a, j := range mis {
			out.Set(i, j, mu[j]-sol.AtVec(a))
		}
	}
	return out, nil
}

// addConditionalVariance is the second part of the E-step. For each row of d
// with missing entries it adds K[mis,mis]^-1 into the [mis,mis] block of the
// second-moment accumulator t2. The missingness pattern comes from d itself,
// which must be the pre-imputation matrix. Corrections from rows with
// overlapping missing sets accumulate on top of each other. This accounts for
// the conditional variance of the imputed values; without it the covariance
// estimate would be biased toward zero.
func addConditionalVariance(d *mat.Dense, prec *mat.SymDense, t2 *mat.Dense) error {
	n, _ := d.Dims()
	for i := 0; i < n; i++ {
		_, mis := rowPattern(d, i)
		if len(mis) == 0 {
			continue
		}

		kmm := subSym(prec, mis)
		var chol mat.Cholesky
		if !chol.Factorize(kmm) {
			return fmt.Errorf("row %d: missing-block precision: %w", i, ErrSingularMatrix)
		}
		cond := mat.NewSymDense(len(mis), nil)
		if err := chol.InverseTo(cond); err != nil {
			return fmt.Errorf("row %d: missing-block inverse: %w", i, ErrSingularMatrix)
		}

		for a, j := range mis {
			for b, k := range mis {
				t2.Set(j, k, t2.At(j, k)+cond.At(a, b))
			}
		}
	}
	return nil
}

// validateData rejects inputs the engine cannot handle: empty matrices and
// rows with no observed values.
func validateData(d *mat.Dense) error {
	n, p := d.Dims()
	if n == 0 || p == 0 {
		return fmt.Errorf("%w: empty data matrix", ErrInsufficientData)
	}
	for i := 0; i < n; i++ {
		obs, _ := rowPattern(d, i)
		if len(obs) == 0 {
			return fmt.Errorf("row %d: %w", i, ErrEmptyRow)
		}
	}
	return nil
}

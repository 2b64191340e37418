package emgauss

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// emCycle runs one full EM cycle: impute missing entries under the current
// estimate, rebuild the sufficient statistics T1 and T2 from scratch, and
// derive the updated mean, covariance and precision. It is a pure function of
// (d, mu, prec); no state carries over between cycles.
func emCycle(d *mat.Dense, mu []float64, prec *mat.SymDense, solver Solver, rho float64, penalizeDiagonal bool) ([]float64, *mat.SymDense, *mat.SymDense, error) {
	n, p := d.Dims()

	dimp, err := imputeMissing(d, mu, prec)
	if err != nil {
		return nil, nil, nil, err
	}

	// T1: column sums of the completed matrix.
	t1 := make([]float64, p)
	for i := 0; i < n; i++ {
		floats.Add(t1, dimp.RawRowView(i))
	}

	// T2: completed-data outer products plus the conditional-variance
	// corrections on the missing-missing blocks.
	t2 := mat.NewDense(p, p, nil)
	t2.Mul(dimp.T(), dimp)
	if err := addConditionalVariance(d, prec, t2); err != nil {
		return nil, nil, nil, err
	}

	newMu := make([]float64, p)
	for j := 0; j < p; j++ {
		newMu[j] = t1[j] / float64(n)
	}

	// S = T2/N - mu mu'. T2 can pick up tiny floating-point asymmetry from
	// the matrix product, so the off-diagonal pairs are averaged before
	// storing.
	newSigma := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := (t2.At(i, j)+t2.At(j, i))/2/float64(n) - newMu[i]*newMu[j]
			newSigma.SetSym(i, j, v)
		}
	}

	newPrec, err := solver.Solve(newSigma, rho, penalizeDiagonal)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("m-step: %w", err)
	}

	// Under regularization the solver's precision is the estimate; report a
	// covariance consistent with it rather than the raw moment matrix.
	if rho > 0 {
		newSigma, err = invertSym(newPrec)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("m-step: regularized precision: %w", err)
		}
	}

	return newMu, newSigma, newPrec, nil
}

package emgauss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Fit estimates the mean and covariance/precision of a multivariate normal
// from data with missing entries (NaN) by running EM cycles until the maximum
// absolute change in the flattened parameter vector drops below cfg.Tol or
// cfg.MaxIter is reached. A numerical failure in any cycle aborts the fit
// with an error wrapping ErrSingularMatrix; non-convergence is reported
// through the Converged flag, not as an error.
func Fit(d *mat.Dense, cfg FitConfig) (*FitResult, error) {
	if err := validateData(d); err != nil {
		return nil, err
	}
	if cfg.Rho < 0 || math.IsNaN(cfg.Rho) || math.IsInf(cfg.Rho, 0) {
		return nil, fmt.Errorf("rho %v: %w", cfg.Rho, ErrInvalidGridValue)
	}
	if cfg.Solver == nil {
		cfg.Solver = ExactSolver{}
	}
	if cfg.Tol <= 0 {
		cfg.Tol = DefaultFitConfig().Tol
	}

	mu, sigma, err := resolveStart(d, cfg.Start)
	if err != nil {
		return nil, err
	}
	prec, err := invertSym(sigma)
	if err != nil {
		return nil, fmt.Errorf("starting covariance: %w", err)
	}

	res := &FitResult{
		Mu:        mu,
		Sigma:     sigma,
		Precision: prec,
		Params:    flattenParams(mu, prec),
	}

	// MaxIter 0 is legal: the starting state is the terminal state.
	for iter := 1; iter <= cfg.MaxIter; iter++ {
		newMu, newSigma, newPrec, err := emCycle(d, res.Mu, res.Precision, cfg.Solver, cfg.Rho, cfg.PenalizeDiagonal)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iter, err)
		}

		newParams := flattenParams(newMu, newPrec)
		delta := floats.Distance(res.Params, newParams, math.Inf(1))

		res.Mu = newMu
		res.Sigma = newSigma
		res.Precision = newPrec
		res.Params = newParams
		res.Iterations = iter

		if delta < cfg.Tol {
			res.Converged = true
			break
		}
	}
	return res, nil
}

// flattenParams stacks the mean vector and the row-stacked lower triangle of
// the precision matrix into the vector used for convergence checks.
func flattenParams(mu []float64, prec *mat.SymDense) []float64 {
	p := len(mu)
	out := make([]float64, 0, p+p*(p+1)/2)
	out = append(out, mu...)
	for i := 0; i < p; i++ {
		for j := 0; j <= i; j++ {
			out = append(out, prec.At(i, j))
		}
	}
	return out
}

package emgauss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Solver produces a symmetric positive-definite precision estimate from a
// covariance estimate at the M-step. Implementations must treat rho == 0 as
// no regularization.
type Solver interface {
	Solve(s *mat.SymDense, rho float64, penalizeDiagonal bool) (*mat.SymDense, error)
}

// ExactSolver is the unregularized variant: a plain matrix inverse. The rho
// and penalizeDiagonal arguments are ignored.
type ExactSolver struct{}

func (ExactSolver) Solve(s *mat.SymDense, _ float64, _ bool) (*mat.SymDense, error) {
	prec, err := invertSym(s)
	if err != nil {
		return nil, fmt.Errorf("covariance: %w", err)
	}
	return prec, nil
}

// softThreshold is the L1 proximal operator.
func softThreshold(z, lambda float64) float64 {
	switch {
	case z > lambda:
		return z - lambda
	case z < -lambda:
		return z + lambda
	default:
		return 0
	}
}

// GlassoSolver estimates a sparse precision matrix by blockwise coordinate
// descent on the graphical-lasso objective: each column of the working
// covariance W is updated by solving an L1-penalized regression with
// soft-thresholding, and the precision is recovered from the final W and the
// regression coefficients.
type GlassoSolver struct {
	// MaxIter bounds both the outer column sweeps and the inner coordinate
	// descent. Zero means 100.
	MaxIter int
	// Tol is the outer convergence tolerance, scaled by the mean absolute
	// off-diagonal entry of s. Zero means 1e-4.
	Tol float64
}

func (g GlassoSolver) Solve(s *mat.SymDense, rho float64, penalizeDiagonal bool) (*mat.SymDense, error) {
	if rho == 0 {
		return ExactSolver{}.Solve(s, 0, false)
	}

	p := s.SymmetricDim()
	maxIter := g.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}
	tol := g.Tol
	if tol <= 0 {
		tol = 1e-4
	}

	// Tolerance scaled by the average absolute off-diagonal of s, so
	// convergence is relative to the problem's magnitude.
	offMean := 0.0
	if p > 1 {
		for i := 0; i < p; i++ {
			for j := i + 1; j < p; j++ {
				offMean += math.Abs(s.At(i, j))
			}
		}
		offMean /= float64(p*(p-1)) / 2
	}
	thresh := tol * offMean
	if thresh == 0 {
		thresh = tol
	}
	innerTol := thresh / 10

	w := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			w.Set(i, j, s.At(i, j))
		}
		if penalizeDiagonal {
			w.Set(i, i, s.At(i, i)+rho)
		}
	}

	// beta.At(k, j) is the coefficient of variable k in the column-j lasso;
	// warm-started across sweeps.
	beta := mat.NewDense(p, p, nil)

	for sweep := 0; sweep < maxIter; sweep++ {
		maxShift := 0.0
		for j := 0; j < p; j++ {
			for inner := 0; inner < maxIter; inner++ {
				innerMax := 0.0
				for k := 0; k < p; k++ {
					if k == j {
						continue
					}
					sum := 0.0
					for l := 0; l < p; l++ {
						if l == j || l == k {
							continue
						}
						sum += w.At(k, l) * beta.At(l, j)
					}
					old := beta.At(k, j)
					nb := softThreshold(s.At(k, j)-sum, rho) / w.At(k, k)
					beta.Set(k, j, nb)
					if d := math.Abs(nb - old); d > innerMax {
						innerMax = d
					}
				}
				if innerMax < innerTol {
					break
				}
			}

			// w12 = W11 * beta
			for k := 0; k < p; k++ {
				if k == j {
					continue
				}
				v := 0.0
				for l := 0; l < p; l++ {
					if l == j {
						continue
					}
					v += w.At(k, l) * beta.At(l, j)
				}
				if d := math.Abs(v - w.At(k, j)); d > maxShift {
					maxShift = d
				}
				w.Set(k, j, v)
				w.Set(j, k, v)
			}
		}
		if maxShift < thresh {
			break
		}
	}

	// Recover the precision columnwise: k_jj = 1/(w_jj - w12'beta_j),
	// k_kj = -beta_kj * k_jj. The two estimates of each off-diagonal pair
	// are averaged into the symmetric result.
	kd := mat.NewDense(p, p, nil)
	for j := 0; j < p; j++ {
		dot := 0.0
		for k := 0; k < p; k++ {
			if k != j {
				dot += w.At(k, j) * beta.At(k, j)
			}
		}
		denom := w.At(j, j) - dot
		if denom <= 0 {
			return nil, fmt.Errorf("glasso: nonpositive conditional variance in column %d: %w", j, ErrSingularMatrix)
		}
		kjj := 1 / denom
		kd.Set(j, j, kjj)
		for k := 0; k < p; k++ {
			if k != j {
				kd.Set(k, j, -beta.At(k, j)*kjj)
			}
		}
	}

	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			out.SetSym(i, j, (kd.At(i, j)+kd.At(j, i))/2)
		}
	}
	return out, nil
}

// ISTASolver minimizes the same penalized log-determinant objective by
// proximal gradient descent: a gradient step on -logdet K + tr(SK) followed
// by elementwise soft-thresholding, with backtracking on the step size to
// keep every iterate positive-definite. Interchangeable with GlassoSolver.
type ISTASolver struct {
	// MaxIter bounds the gradient iterations. Zero means 500.
	MaxIter int
	// Tol is the convergence tolerance on the maximum absolute change of
	// the iterate. Zero means 1e-5.
	Tol float64
	// Step is the initial gradient step size. Zero means 1.
	Step float64
}

func (g ISTASolver) Solve(s *mat.SymDense, rho float64, penalizeDiagonal bool) (*mat.SymDense, error) {
	if rho == 0 {
		return ExactSolver{}.Solve(s, 0, false)
	}

	p := s.SymmetricDim()
	maxIter := g.MaxIter
	if maxIter <= 0 {
		maxIter = 500
	}
	tol := g.Tol
	if tol <= 0 {
		tol = 1e-5
	}
	step := g.Step
	if step <= 0 {
		step = 1
	}

	// Start from the inverse of diag(S), which is always positive-definite
	// for valid variances.
	k := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		v := s.At(i, i)
		if v <= 0 {
			return nil, fmt.Errorf("ista: nonpositive variance in column %d: %w", i, ErrSingularMatrix)
		}
		k.SetSym(i, i, 1/v)
	}

	for iter := 0; iter < maxIter; iter++ {
		kinv, err := invertSym(k)
		if err != nil {
			return nil, fmt.Errorf("ista: iterate inverse: %w", err)
		}

		// Backtrack until the proximal step stays positive-definite.
		t := step
		var next *mat.SymDense
		for {
			cand := mat.NewSymDense(p, nil)
			for i := 0; i < p; i++ {
				for j := i; j < p; j++ {
					v := k.At(i, j) - t*(s.At(i, j)-kinv.At(i, j))
					if i != j || penalizeDiagonal {
						v = softThreshold(v, t*rho)
					}
					cand.SetSym(i, j, v)
				}
			}
			var chol mat.Cholesky
			if chol.Factorize(cand) {
				next = cand
				break
			}
			t /= 2
			if t < 1e-12 {
				return nil, fmt.Errorf("ista: cannot keep iterate positive-definite: %w", ErrSingularMatrix)
			}
		}

		delta := 0.0
		for i := 0; i < p; i++ {
			for j := i; j < p; j++ {
				if d := math.Abs(next.At(i, j) - k.At(i, j)); d > delta {
					delta = d
				}
			}
		}
		k = next
		if delta < tol {
			break
		}
	}
	return k, nil
}

// SolverByName maps a configuration string to a solver implementation.
func SolverByName(name string) (Solver, error) {
	switch name {
	case "", "none", "exact":
		return ExactSolver{}, nil
	case "glasso":
		return GlassoSolver{}, nil
	case "ista":
		return ISTASolver{}, nil
	default:
		return nil, fmt.Errorf("unknown solver %q (options: none, glasso, ista)", name)
	}
}

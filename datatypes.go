// Package emgauss estimates the mean vector and covariance/precision matrix
// of a multivariate normal distribution from data with arbitrary missing-value
// patterns, using the EM algorithm. Missing entries are marked with NaN.
// The precision matrix can optionally be L1-regularized through a pluggable
// solver, with the tuning parameter chosen by EBIC or k-fold cross-validation.
package emgauss

import (
	"errors"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Error kinds surfaced by the engine. Wrapped errors carry the failing
// row/iteration context; match with errors.Is.
var (
	// ErrSingularMatrix reports that a required matrix inversion failed:
	// a missing-block precision submatrix, the full covariance, or the
	// full precision.
	ErrSingularMatrix = errors.New("emgauss: singular matrix")

	// ErrInvalidGridValue reports a negative or non-finite tuning-parameter
	// value. Raised before any fitting begins.
	ErrInvalidGridValue = errors.New("emgauss: invalid tuning-parameter grid value")

	// ErrNoValidGridValue reports that every grid point produced an invalid
	// criterion (all fits failed or were excluded).
	ErrNoValidGridValue = errors.New("emgauss: no grid value produced a valid criterion")

	// ErrEmptyRow reports an input row with no observed values. Such rows
	// are rejected up front rather than treated as fully latent.
	ErrEmptyRow = errors.New("emgauss: row has no observed values")

	// ErrInsufficientData reports that a starting-value strategy cannot be
	// computed from the available observations.
	ErrInsufficientData = errors.New("emgauss: insufficient data for starting values")
)

// StartStrategy names a deterministic starting-value heuristic.
type StartStrategy string

const (
	// StartDiag uses observed column means and a diagonal covariance of
	// observed column variances.
	StartDiag StartStrategy = "diag"
	// StartPairwise uses pairwise-complete means and covariances.
	StartPairwise StartStrategy = "pairwise"
	// StartListwise uses moments of the fully observed rows only.
	StartListwise StartStrategy = "listwise"
	// StartFull uses the saturated sample moments of the mean-imputed data.
	StartFull StartStrategy = "full"
)

// StartSpec resolves to an initial (mean, covariance) pair. When Sigma is
// non-nil the explicit values are used and Strategy is ignored.
type StartSpec struct {
	Strategy StartStrategy

	// Explicit starting values; Mu must have length P and Sigma must be PxP.
	Mu    []float64
	Sigma *mat.SymDense
}

// FitConfig controls a single EM fit.
type FitConfig struct {
	// MaxIter is the iteration ceiling. Zero is legal: the driver resolves
	// starting values and returns without iterating.
	MaxIter int

	// Tol is the convergence tolerance on the maximum absolute change of
	// the flattened parameter vector between consecutive cycles.
	Tol float64

	// Rho is the L1 tuning parameter handed to the solver each M-step.
	Rho float64

	// PenalizeDiagonal selects whether the solver also penalizes the
	// precision diagonal.
	PenalizeDiagonal bool

	// Solver produces the updated precision from the covariance estimate.
	// Nil defaults to ExactSolver (plain inverse, no regularization).
	Solver Solver

	Start StartSpec
}

// DefaultFitConfig returns the settings used when a field is left zero.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		MaxIter: 500,
		Tol:     1e-5,
		Solver:  ExactSolver{},
		Start:   StartSpec{Strategy: StartDiag},
	}
}

// FitResult holds the terminal state of an EM fit.
type FitResult struct {
	// Mu is the estimated mean vector (length P).
	Mu []float64

	// Sigma and Precision are the estimated covariance and precision
	// matrices. Sigma*Precision is the identity up to numerical tolerance.
	Sigma     *mat.SymDense
	Precision *mat.SymDense

	// Iterations is the number of EM cycles run.
	Iterations int

	// Converged is true only when the parameter change fell below Tol
	// before the iteration ceiling.
	Converged bool

	// Params is the flattened parameter vector: means followed by the
	// row-stacked lower triangle of the precision matrix.
	Params []float64
}

// SelectConfig controls the tuning-parameter selection layer.
type SelectConfig struct {
	// Grid is the caller-supplied sequence of candidate Rho values. Order
	// is preserved for reporting; no implicit sorting.
	Grid []float64

	// Gamma is the EBIC tuning constant (commonly 0.5).
	Gamma float64

	// SampleSize is the effective N used in the EBIC penalty. When zero it
	// is derived as the mean of the pairwise-complete count matrix.
	SampleSize float64

	// Folds is the number of cross-validation folds.
	Folds int

	// Seed drives the fold partitioner. Fixed seeds give identical folds,
	// criterion vectors and selections across runs.
	Seed int64

	// StrictConvergence marks non-converged EBIC fits with a NaN criterion
	// so they can never be selected.
	StrictConvergence bool

	// ZeroOnFailure fills the partial-correlation output with zeros when
	// the final selected model did not converge.
	ZeroOnFailure bool

	// Workers bounds the number of concurrent fits. Zero means GOMAXPROCS.
	Workers int

	// Logger receives retry warnings and per-fit diagnostics. Nil disables
	// logging.
	Logger *zerolog.Logger
}

// DefaultSelectConfig returns the settings used when a field is left zero.
func DefaultSelectConfig() SelectConfig {
	return SelectConfig{
		Gamma: 0.5,
		Folds: 5,
	}
}

// Selection is the outcome of EBIC or cross-validated tuning-parameter
// selection.
type Selection struct {
	// Best is the fitted model at the selected grid value.
	Best *FitResult

	// Grid echoes the candidate values in caller order.
	Grid []float64

	// Criterion holds one score per grid point (EBIC value or aggregated
	// held-out negative log-likelihood; lower is better). Invalid fits are
	// NaN and are never selected.
	Criterion []float64

	// SelectedIndex is the position of the winning grid value.
	SelectedIndex int

	// PartialCorr is the partial-correlation matrix derived from the
	// selected precision: negated, normalized to unit diagonal, diagonal
	// forced to zero.
	PartialCorr *mat.SymDense
}

package emgauss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// resolveStart turns a StartSpec into an initial (mean, covariance) pair.
// Explicit values take priority over the named strategy. All strategies are
// deterministic computations on the raw data.
func resolveStart(d *mat.Dense, spec StartSpec) ([]float64, *mat.SymDense, error) {
	_, p := d.Dims()

	if spec.Sigma != nil {
		if len(spec.Mu) != p || spec.Sigma.SymmetricDim() != p {
			return nil, nil, fmt.Errorf("%w: explicit start has wrong dimensions", ErrInsufficientData)
		}
		mu := make([]float64, p)
		copy(mu, spec.Mu)
		sigma := mat.NewSymDense(p, nil)
		sigma.CopySym(spec.Sigma)
		return mu, sigma, nil
	}

	switch spec.Strategy {
	case StartDiag, "":
		return startDiag(d)
	case StartPairwise:
		return startPairwise(d)
	case StartListwise:
		return startListwise(d)
	case StartFull:
		return startFull(d)
	default:
		return nil, nil, fmt.Errorf("%w: unknown start strategy %q", ErrInsufficientData, spec.Strategy)
	}
}

// observedMeans returns the mean of the observed entries per column. A column
// with no observed values is unusable.
func observedMeans(d *mat.Dense) ([]float64, error) {
	n, p := d.Dims()
	mu := make([]float64, p)
	for j := 0; j < p; j++ {
		sum, count := 0.0, 0
		for i := 0; i < n; i++ {
			if v := d.At(i, j); !math.IsNaN(v) {
				sum += v
				count++
			}
		}
		if count == 0 {
			return nil, fmt.Errorf("column %d has no observed values: %w", j, ErrInsufficientData)
		}
		mu[j] = sum / float64(count)
	}
	return mu, nil
}

// observedVariance returns the sample variance of the observed entries in
// column j, or 1 when the column lacks replication.
func observedVariance(d *mat.Dense, j int, mean float64) float64 {
	n, _ := d.Dims()
	sum, count := 0.0, 0
	for i := 0; i < n; i++ {
		if v := d.At(i, j); !math.IsNaN(v) {
			sum += (v - mean) * (v - mean)
			count++
		}
	}
	if count < 2 {
		return 1
	}
	return sum / float64(count-1)
}

func startDiag(d *mat.Dense) ([]float64, *mat.SymDense, error) {
	_, p := d.Dims()
	mu, err := observedMeans(d)
	if err != nil {
		return nil, nil, err
	}
	sigma := mat.NewSymDense(p, nil)
	for j := 0; j < p; j++ {
		sigma.SetSym(j, j, observedVariance(d, j, mu[j]))
	}
	return mu, sigma, nil
}

// startPairwise estimates each covariance entry from the rows where both
// variables are observed, with per-pair means. Pairs with fewer than two
// overlapping rows get a zero off-diagonal entry.
func startPairwise(d *mat.Dense) ([]float64, *mat.SymDense, error) {
	n, p := d.Dims()
	mu, err := observedMeans(d)
	if err != nil {
		return nil, nil, err
	}

	sigma := mat.NewSymDense(p, nil)
	for j := 0; j < p; j++ {
		sigma.SetSym(j, j, observedVariance(d, j, mu[j]))
		for k := j + 1; k < p; k++ {
			sumJ, sumK, count := 0.0, 0.0, 0
			for i := 0; i < n; i++ {
				vj, vk := d.At(i, j), d.At(i, k)
				if !math.IsNaN(vj) && !math.IsNaN(vk) {
					sumJ += vj
					sumK += vk
					count++
				}
			}
			if count < 2 {
				continue
			}
			mj, mk := sumJ/float64(count), sumK/float64(count)
			cov := 0.0
			for i := 0; i < n; i++ {
				vj, vk := d.At(i, j), d.At(i, k)
				if !math.IsNaN(vj) && !math.IsNaN(vk) {
					cov += (vj - mj) * (vk - mk)
				}
			}
			sigma.SetSym(j, k, cov/float64(count-1))
		}
	}
	return mu, sigma, nil
}

// startListwise uses only the fully observed rows.
func startListwise(d *mat.Dense) ([]float64, *mat.SymDense, error) {
	n, p := d.Dims()
	var complete []int
	for i := 0; i < n; i++ {
		_, mis := rowPattern(d, i)
		if len(mis) == 0 {
			complete = append(complete, i)
		}
	}
	if len(complete) < 2 {
		return nil, nil, fmt.Errorf("listwise start needs at least 2 complete rows, have %d: %w",
			len(complete), ErrInsufficientData)
	}

	c := float64(len(complete))
	mu := make([]float64, p)
	for _, i := range complete {
		for j := 0; j < p; j++ {
			mu[j] += d.At(i, j) / c
		}
	}
	sigma := mat.NewSymDense(p, nil)
	for j := 0; j < p; j++ {
		for k := j; k < p; k++ {
			cov := 0.0
			for _, i := range complete {
				cov += (d.At(i, j) - mu[j]) * (d.At(i, k) - mu[k])
			}
			sigma.SetSym(j, k, cov/(c-1))
		}
	}
	return mu, sigma, nil
}

// startFull mean-imputes every missing cell with its column mean and takes
// the saturated sample moments of the completed matrix.
func startFull(d *mat.Dense) ([]float64, *mat.SymDense, error) {
	n, p := d.Dims()
	if n < 2 {
		return nil, nil, fmt.Errorf("full start needs at least 2 rows, have %d: %w", n, ErrInsufficientData)
	}
	mu, err := observedMeans(d)
	if err != nil {
		return nil, nil, err
	}

	filled := mat.DenseCopyOf(d)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			if math.IsNaN(filled.At(i, j)) {
				filled.Set(i, j, mu[j])
			}
		}
	}

	sigma := mat.NewSymDense(p, nil)
	for j := 0; j < p; j++ {
		for k := j; k < p; k++ {
			cov := 0.0
			for i := 0; i < n; i++ {
				cov += (filled.At(i, j) - mu[j]) * (filled.At(i, k) - mu[k])
			}
			sigma.SetSym(j, k, cov/float64(n-1))
		}
	}
	return mu, sigma, nil
}

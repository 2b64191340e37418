package emgauss

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// edgeTol is the zero tolerance below which an off-diagonal precision entry
// does not count as an edge in the EBIC penalty.
const edgeTol = 1e-8

// SelectEBIC fits the EM driver once per grid value and scores each fit with
// the Extended Bayesian Information Criterion
//
//	2*nll + E*log(N) + 4*gamma*E*log(P),
//
// where E is the number of off-diagonal precision entries above the zero
// tolerance. Fits run concurrently; a failed or (under StrictConvergence)
// non-converged fit gets a NaN criterion and is excluded from selection
// without disturbing its siblings. The fit at the winning value is returned
// directly, since EBIC fits already use the full data.
func SelectEBIC(d *mat.Dense, fitCfg FitConfig, cfg SelectConfig) (*Selection, error) {
	if err := validateData(d); err != nil {
		return nil, err
	}
	if err := validateGrid(cfg.Grid); err != nil {
		return nil, err
	}
	logger := selectLogger(cfg)

	nEff := cfg.SampleSize
	if nEff <= 0 {
		nEff = pairwiseSampleSize(d)
	}
	gamma := cfg.Gamma

	results := make([]*FitResult, len(cfg.Grid))
	crit := nanSlice(len(cfg.Grid))

	var g errgroup.Group
	g.SetLimit(selectWorkers(cfg))
	for gi, rho := range cfg.Grid {
		gi, rho := gi, rho
		g.Go(func() error {
			fc := fitCfg
			fc.Rho = rho
			res, err := Fit(d, fc)
			if err != nil {
				logger.Warn().Err(err).Float64("rho", rho).Msg("grid fit failed; excluding from selection")
				return nil
			}
			if cfg.StrictConvergence && !res.Converged {
				logger.Warn().Float64("rho", rho).Int("iterations", res.Iterations).
					Msg("grid fit did not converge; excluding from selection")
				return nil
			}
			nll, err := NegLogLik(d, res.Mu, res.Precision)
			if err != nil {
				logger.Warn().Err(err).Float64("rho", rho).Msg("likelihood evaluation failed; excluding from selection")
				return nil
			}
			results[gi] = res
			crit[gi] = ebicScore(nll, res.Precision, nEff, gamma)
			return nil
		})
	}
	// Fit failures are converted to NaN scores above, never errors.
	_ = g.Wait()

	best := argminValid(crit)
	if best < 0 {
		return nil, ErrNoValidGridValue
	}

	sel := &Selection{
		Best:          results[best],
		Grid:          append([]float64(nil), cfg.Grid...),
		Criterion:     crit,
		SelectedIndex: best,
	}
	sel.PartialCorr = selectionPartialCorr(sel.Best, cfg)
	return sel, nil
}

// SelectCV chooses the tuning parameter by k-fold cross-validation: for each
// grid value, the EM driver is fit on the other folds' rows and the held-out
// fold is scored with the missing-data negative log-likelihood; fold scores
// are summed per grid value. Any per-fold failure or non-convergence
// invalidates that grid value's aggregate. The driver is then refit on the
// full data at the winner; if that refit does not converge, the next-best
// candidates are tried in ascending-score order, with a warning per retry,
// until one converges or the candidates are exhausted.
func SelectCV(d *mat.Dense, fitCfg FitConfig, cfg SelectConfig) (*Selection, error) {
	if err := validateData(d); err != nil {
		return nil, err
	}
	if err := validateGrid(cfg.Grid); err != nil {
		return nil, err
	}
	logger := selectLogger(cfg)

	n, _ := d.Dims()
	nFolds := cfg.Folds
	if nFolds == 0 {
		nFolds = DefaultSelectConfig().Folds
	}
	folds, err := partitionFolds(n, nFolds, cfg.Seed)
	if err != nil {
		return nil, err
	}

	scores := make([][]float64, len(cfg.Grid))
	for gi := range scores {
		scores[gi] = nanSlice(len(folds))
	}

	var g errgroup.Group
	g.SetLimit(selectWorkers(cfg))
	for gi, rho := range cfg.Grid {
		gi, rho := gi, rho
		for fi, fold := range folds {
			fi, fold := fi, fold
			g.Go(func() error {
				train, test := splitRows(d, fold)
				fc := fitCfg
				fc.Rho = rho
				res, err := Fit(train, fc)
				if err != nil {
					logger.Warn().Err(err).Float64("rho", rho).Int("fold", fi).
						Msg("fold fit failed; invalidating grid value")
					return nil
				}
				if !res.Converged {
					logger.Warn().Float64("rho", rho).Int("fold", fi).
						Msg("fold fit did not converge; invalidating grid value")
					return nil
				}
				nll, err := NegLogLik(test, res.Mu, res.Precision)
				if err != nil {
					logger.Warn().Err(err).Float64("rho", rho).Int("fold", fi).
						Msg("held-out scoring failed; invalidating grid value")
					return nil
				}
				scores[gi][fi] = nll
				return nil
			})
		}
	}
	_ = g.Wait()

	crit := make([]float64, len(cfg.Grid))
	for gi := range cfg.Grid {
		total := 0.0
		for _, s := range scores[gi] {
			total += s // any NaN fold poisons the aggregate
		}
		crit[gi] = total
	}

	// Candidates ordered by ascending criterion, invalid entries dropped.
	var order []int
	for gi, c := range crit {
		if !math.IsNaN(c) {
			order = append(order, gi)
		}
	}
	if len(order) == 0 {
		return nil, ErrNoValidGridValue
	}
	sort.SliceStable(order, func(a, b int) bool { return crit[order[a]] < crit[order[b]] })

	// Full-data refit with a bounded retry walk down the candidate list.
	var (
		best     *FitResult
		selected = -1
	)
	for attempt, gi := range order {
		if attempt > 0 {
			logger.Warn().Float64("rho", cfg.Grid[gi]).
				Msg("selected refit did not converge; retrying next-best grid value")
		}
		fc := fitCfg
		fc.Rho = cfg.Grid[gi]
		res, err := Fit(d, fc)
		if err != nil {
			logger.Warn().Err(err).Float64("rho", cfg.Grid[gi]).Msg("full-data refit failed")
			continue
		}
		if res.Converged {
			best = res
			selected = gi
			break
		}
		// Keep the last non-converged refit as a fallback.
		if best == nil {
			best = res
			selected = gi
		}
	}
	if best == nil {
		return nil, fmt.Errorf("full-data refit failed at every candidate: %w", ErrNoValidGridValue)
	}

	sel := &Selection{
		Best:          best,
		Grid:          append([]float64(nil), cfg.Grid...),
		Criterion:     crit,
		SelectedIndex: selected,
	}
	sel.PartialCorr = selectionPartialCorr(best, cfg)
	return sel, nil
}

// validateGrid fails fast, before any fitting, on an empty grid or a
// negative/non-finite value.
func validateGrid(grid []float64) error {
	if len(grid) == 0 {
		return fmt.Errorf("empty grid: %w", ErrInvalidGridValue)
	}
	for i, rho := range grid {
		if rho < 0 || math.IsNaN(rho) || math.IsInf(rho, 0) {
			return fmt.Errorf("grid[%d] = %v: %w", i, rho, ErrInvalidGridValue)
		}
	}
	return nil
}

// partitionFolds splits row indices 0..n-1 into v disjoint covering folds by
// seeded shuffle and round-robin assignment. The same seed always yields the
// same folds.
func partitionFolds(n, v int, seed int64) ([][]int, error) {
	if v < 2 || v > n {
		return nil, fmt.Errorf("%w: need 2 <= folds <= rows, have folds=%d rows=%d", ErrInsufficientData, v, n)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	folds := make([][]int, v)
	for i, row := range perm {
		folds[i%v] = append(folds[i%v], row)
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds, nil
}

// splitRows copies d into a training matrix (rows outside holdOut) and a test
// matrix (rows in holdOut). holdOut must be sorted ascending.
func splitRows(d *mat.Dense, holdOut []int) (train, test *mat.Dense) {
	n, p := d.Dims()
	inHold := make(map[int]bool, len(holdOut))
	for _, r := range holdOut {
		inHold[r] = true
	}

	trainData := make([]float64, 0, (n-len(holdOut))*p)
	testData := make([]float64, 0, len(holdOut)*p)
	for i := 0; i < n; i++ {
		row := d.RawRowView(i)
		if inHold[i] {
			testData = append(testData, row...)
		} else {
			trainData = append(trainData, row...)
		}
	}
	return mat.NewDense(n-len(holdOut), p, trainData), mat.NewDense(len(holdOut), p, testData)
}

// ebicScore computes 2*nll + E*log(n) + 4*gamma*E*log(p) with E the number of
// unique off-diagonal precision entries above the zero tolerance.
func ebicScore(nll float64, prec *mat.SymDense, n, gamma float64) float64 {
	p := prec.SymmetricDim()
	edges := 0
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			if math.Abs(prec.At(i, j)) > edgeTol {
				edges++
			}
		}
	}
	e := float64(edges)
	return 2*nll + e*math.Log(n) + 4*gamma*e*math.Log(float64(p))
}

// pairwiseSampleSize derives the effective sample size for EBIC as the mean
// of the pairwise-complete count matrix. The mean deliberately includes the
// diagonal (per-variable counts), which slightly overweights fully observed
// variables; kept for numerical parity with established results.
func pairwiseSampleSize(d *mat.Dense) float64 {
	n, p := d.Dims()
	total := 0.0
	for j := 0; j < p; j++ {
		for k := 0; k < p; k++ {
			count := 0
			for i := 0; i < n; i++ {
				if !math.IsNaN(d.At(i, j)) && !math.IsNaN(d.At(i, k)) {
					count++
				}
			}
			total += float64(count)
		}
	}
	return total / float64(p*p)
}

// PartialCorrelations converts a precision matrix into the partial
// correlation matrix: -K[i,j]/sqrt(K[i,i]*K[j,j]) off the diagonal, zero on
// the diagonal.
func PartialCorrelations(prec *mat.SymDense) *mat.SymDense {
	p := prec.SymmetricDim()
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			out.SetSym(i, j, -prec.At(i, j)/math.Sqrt(prec.At(i, i)*prec.At(j, j)))
		}
	}
	return out
}

func selectionPartialCorr(best *FitResult, cfg SelectConfig) *mat.SymDense {
	if cfg.ZeroOnFailure && !best.Converged {
		return mat.NewSymDense(best.Precision.SymmetricDim(), nil)
	}
	return PartialCorrelations(best.Precision)
}

func selectWorkers(cfg SelectConfig) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func selectLogger(cfg SelectConfig) zerolog.Logger {
	if cfg.Logger != nil {
		return *cfg.Logger
	}
	return zerolog.Nop()
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// argminValid returns the index of the smallest non-NaN value, or -1 when
// every value is NaN.
func argminValid(vals []float64) int {
	best := -1
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v < vals[best] {
			best = i
		}
	}
	return best
}

package services

import (
	"errors"
	"math"
)

// ErrSingularMatrix is returned when a design matrix is singular or close
// enough to singular that its normal equations cannot be solved. Callers
// treat this the same as insufficient data.
var ErrSingularMatrix = errors.New("singular design matrix")

const pivotEpsilon = 1e-10

// olsResult holds everything downstream inference needs from a least
// squares fit.
type olsResult struct {
	Coefficients []float64
	Fitted       []float64
	Residuals    []float64
	XtXInv       [][]float64
	RSquared     float64
}

// olsFit computes an ordinary least squares fit of y on the columns of X
// via the normal equations. X is row-major: X[i] is observation i.
func olsFit(X [][]float64, y []float64) (*olsResult, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, errors.New("design matrix and response must have matching, non-zero length")
	}
	k := len(X[0])
	if n <= k {
		return nil, ErrSingularMatrix
	}

	xt := transpose(X)
	xtx := matMul(xt, X)

	xtxInv, err := matInverse(xtx)
	if err != nil {
		return nil, err
	}

	xty := matVecMul(xt, y)
	beta := matVecMul(xtxInv, xty)

	fitted := matVecMul(X, beta)
	residuals := make([]float64, n)
	for i := range y {
		residuals[i] = y[i] - fitted[i]
	}

	return &olsResult{
		Coefficients: beta,
		Fitted:       fitted,
		Residuals:    residuals,
		XtXInv:       xtxInv,
		RSquared:     rSquared(y, residuals),
	}, nil
}

// hc3StdErrors computes HC3 heteroskedasticity-consistent standard errors
// for an OLS fit. The HC3 weighting inflates each squared residual by
// 1/(1-h_i)^2 where h_i is the observation's leverage, which keeps the
// estimator honest for high-leverage points.
//
//	V = (X'X)^{-1} X' diag(e_i^2/(1-h_i)^2) X (X'X)^{-1}
func hc3StdErrors(X [][]float64, res *olsResult) ([]float64, error) {
	n := len(X)
	k := len(res.Coefficients)

	// Leverage h_i = x_i (X'X)^{-1} x_i'.
	omega := make([]float64, n)
	for i := 0; i < n; i++ {
		h := quadraticForm(X[i], res.XtXInv)
		denom := 1.0 - h
		if denom < pivotEpsilon {
			// Leverage of ~1 means the point determines its own fit.
			return nil, ErrSingularMatrix
		}
		omega[i] = res.Residuals[i] * res.Residuals[i] / (denom * denom)
	}

	// meat = X' diag(omega) X
	meat := make([][]float64, k)
	for a := 0; a < k; a++ {
		meat[a] = make([]float64, k)
		for b := 0; b < k; b++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += X[i][a] * omega[i] * X[i][b]
			}
			meat[a][b] = sum
		}
	}

	v := matMul(matMul(res.XtXInv, meat), res.XtXInv)

	stdErrs := make([]float64, k)
	for j := 0; j < k; j++ {
		if v[j][j] < 0 {
			return nil, ErrSingularMatrix
		}
		stdErrs[j] = math.Sqrt(v[j][j])
	}
	return stdErrs, nil
}

// firstStageF computes the first-stage F-statistic for joint instrument
// significance from the first-stage R-squared:
//
//	F = (R^2 / k) / ((1 - R^2) / (n - k - 1))
func firstStageF(rSq float64, n, numInstruments int) float64 {
	if numInstruments <= 0 || n <= numInstruments+1 {
		return 0
	}
	// Cap at a large finite value so a numerically perfect first stage
	// still serializes cleanly.
	const maxF = 1e6
	denom := (1.0 - rSq) / float64(n-numInstruments-1)
	if denom <= 0 {
		return maxF
	}
	f := (rSq / float64(numInstruments)) / denom
	if f > maxF {
		return maxF
	}
	return f
}

func rSquared(y, residuals []float64) float64 {
	m := mean(y)
	var ssTotal, ssResidual float64
	for i, v := range y {
		ssTotal += (v - m) * (v - m)
		ssResidual += residuals[i] * residuals[i]
	}
	if ssTotal == 0 {
		return 0
	}
	r := 1.0 - ssResidual/ssTotal
	if r < 0 {
		return 0
	}
	return r
}

// matInverse inverts a square matrix by Gauss-Jordan elimination with
// partial pivoting. Returns ErrSingularMatrix when a pivot collapses.
func matInverse(m [][]float64) ([][]float64, error) {
	n := len(m)

	// Augment a working copy with the identity.
	work := make([][]float64, n)
	for i := range m {
		if len(m[i]) != n {
			return nil, errors.New("matrix must be square")
		}
		work[i] = make([]float64, 2*n)
		copy(work[i], m[i])
		work[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(work[row][col]) > math.Abs(work[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(work[pivot][col]) < pivotEpsilon {
			return nil, ErrSingularMatrix
		}
		work[col], work[pivot] = work[pivot], work[col]

		scale := work[col][col]
		for j := 0; j < 2*n; j++ {
			work[col][j] /= scale
		}

		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := work[row][col]
			if factor == 0 {
				continue
			}
			for j := 0; j < 2*n; j++ {
				work[row][j] -= factor * work[col][j]
			}
		}
	}

	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		copy(inv[i], work[i][n:])
	}
	return inv, nil
}

func matMul(a, b [][]float64) [][]float64 {
	rows, inner, cols := len(a), len(b), len(b[0])
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([]float64, cols)
		for l := 0; l < inner; l++ {
			if a[i][l] == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				out[i][j] += a[i][l] * b[l][j]
			}
		}
	}
	return out
}

func matVecMul(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		sum := 0.0
		for j, val := range row {
			sum += val * v[j]
		}
		out[i] = sum
	}
	return out
}

func transpose(m [][]float64) [][]float64 {
	rows, cols := len(m), len(m[0])
	out := make([][]float64, cols)
	for j := 0; j < cols; j++ {
		out[j] = make([]float64, rows)
		for i := 0; i < rows; i++ {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// quadraticForm computes x' M x for a vector x and square matrix M.
func quadraticForm(x []float64, m [][]float64) float64 {
	sum := 0.0
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		inner := 0.0
		for j, xj := range x {
			inner += m[i][j] * xj
		}
		sum += xi * inner
	}
	return sum
}

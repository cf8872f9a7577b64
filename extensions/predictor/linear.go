package predictor

import (
	"math"

	"github.com/dataplat/etl"
)

// linearPredict ordinary least squares via the normal equations, solved with
// Gaussian elimination. A tiny ridge term keeps singular designs solvable.
func linearPredict(train [][]float64, target []float64, predict [][]float64) ([]float64, error) {
	dims := len(train[0]) + 1
	xtx := make([][]float64, dims)
	for i := range xtx {
		xtx[i] = make([]float64, dims)
	}
	xty := make([]float64, dims)
	for ri, row := range train {
		aug := augment(row)
		for i := 0; i < dims; i++ {
			for j := 0; j < dims; j++ {
				xtx[i][j] += aug[i] * aug[j]
			}
			xty[i] += aug[i] * target[ri]
		}
	}
	for i := 0; i < dims; i++ {
		xtx[i][i] += 1e-8
	}
	weights, ok := solve(xtx, xty)
	if !ok {
		return nil, etl.NewEtlError(etl.ErrCodeData, "linear system is singular, features are degenerate")
	}
	preds := make([]float64, len(predict))
	for pi, row := range predict {
		aug := augment(row)
		var sum float64
		for i, w := range weights {
			sum += w * aug[i]
		}
		preds[pi] = sum
	}
	return preds, nil
}

// augment prepend the intercept term.
func augment(row []float64) []float64 {
	aug := make([]float64, len(row)+1)
	aug[0] = 1
	copy(aug[1:], row)
	return aug
}

func solve(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]
		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}
	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, true
}

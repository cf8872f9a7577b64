package predictor

import (
	"math"
	"sort"
)

func knnPredict(train [][]float64, target []float64, predict [][]float64, numeric bool, k int) ([]float64, error) {
	if k <= 0 {
		k = 5
	}
	if k > len(train) {
		k = len(train)
	}
	preds := make([]float64, len(predict))
	for pi, vec := range predict {
		neighbors := nearest(train, vec, k)
		if numeric {
			var sum float64
			for _, ni := range neighbors {
				sum += target[ni]
			}
			preds[pi] = sum / float64(len(neighbors))
			continue
		}
		votes := map[float64]int{}
		for _, ni := range neighbors {
			votes[target[ni]]++
		}
		best, bestCount := 0.0, -1
		for class, count := range votes {
			if count > bestCount || (count == bestCount && class < best) {
				best, bestCount = class, count
			}
		}
		preds[pi] = best
	}
	return preds, nil
}

func nearest(train [][]float64, vec []float64, k int) []int {
	type candidate struct {
		index    int
		distance float64
	}
	candidates := make([]candidate, len(train))
	for i, t := range train {
		candidates[i] = candidate{index: i, distance: euclidean(t, vec)}
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].distance != candidates[b].distance {
			return candidates[a].distance < candidates[b].distance
		}
		return candidates[a].index < candidates[b].index
	})
	indices := make([]int, k)
	for i := 0; i < k; i++ {
		indices[i] = candidates[i].index
	}
	return indices
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

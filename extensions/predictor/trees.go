package predictor

import (
	"math/rand"
	"sort"
)

// stump a one-split regression tree: rows with feature < threshold predict
// left, the rest right.
type stump struct {
	feature   int
	threshold float64
	left      float64
	right     float64
}

func (s stump) predict(row []float64) float64 {
	if row[s.feature] < s.threshold {
		return s.left
	}
	return s.right
}

// fitStump pick the split minimizing the summed squared error over the
// candidate features.
func fitStump(train [][]float64, target []float64, indices []int, features []int) stump {
	best := stump{feature: features[0], threshold: 0, left: mean(target, indices), right: mean(target, indices)}
	bestErr := sse(target, indices, best.left)
	for _, f := range features {
		thresholds := candidateThresholds(train, indices, f)
		for _, th := range thresholds {
			var leftIdx, rightIdx []int
			for _, i := range indices {
				if train[i][f] < th {
					leftIdx = append(leftIdx, i)
				} else {
					rightIdx = append(rightIdx, i)
				}
			}
			if len(leftIdx) == 0 || len(rightIdx) == 0 {
				continue
			}
			left, right := mean(target, leftIdx), mean(target, rightIdx)
			err := sse(target, leftIdx, left) + sse(target, rightIdx, right)
			if err < bestErr {
				best = stump{feature: f, threshold: th, left: left, right: right}
				bestErr = err
			}
		}
	}
	return best
}

func candidateThresholds(train [][]float64, indices []int, feature int) []float64 {
	values := make([]float64, 0, len(indices))
	for _, i := range indices {
		values = append(values, train[i][feature])
	}
	sort.Float64s(values)
	var thresholds []float64
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			thresholds = append(thresholds, (values[i]+values[i-1])/2)
		}
	}
	return thresholds
}

func mean(target []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var sum float64
	for _, i := range indices {
		sum += target[i]
	}
	return sum / float64(len(indices))
}

func sse(target []float64, indices []int, center float64) float64 {
	var sum float64
	for _, i := range indices {
		d := target[i] - center
		sum += d * d
	}
	return sum
}

// forestPredict bagged stumps. Regression averages the trees, classification
// takes the majority vote of the rounded tree outputs.
func forestPredict(train [][]float64, target []float64, predict [][]float64, numeric bool, trees, seed int) ([]float64, error) {
	if trees <= 0 {
		trees = 50
	}
	rng := rand.New(rand.NewSource(int64(seed)))
	featureCount := len(train[0])
	stumps := make([]stump, trees)
	for t := range stumps {
		sample := make([]int, len(train))
		for i := range sample {
			sample[i] = rng.Intn(len(train))
		}
		features := []int{rng.Intn(featureCount)}
		stumps[t] = fitStump(train, target, sample, features)
	}
	preds := make([]float64, len(predict))
	for pi, row := range predict {
		if numeric {
			var sum float64
			for _, s := range stumps {
				sum += s.predict(row)
			}
			preds[pi] = sum / float64(len(stumps))
			continue
		}
		votes := map[int]int{}
		for _, s := range stumps {
			votes[int(s.predict(row)+0.5)]++
		}
		best, bestCount := 0, -1
		for class, count := range votes {
			if count > bestCount || (count == bestCount && class < best) {
				best, bestCount = class, count
			}
		}
		preds[pi] = float64(best)
	}
	return preds, nil
}

// boostPredict gradient boosting on squared loss: stumps fit to residuals,
// scaled by the learning rate.
func boostPredict(train [][]float64, target []float64, predict [][]float64, trees int, rate float64) ([]float64, error) {
	if trees <= 0 {
		trees = 50
	}
	if rate <= 0 || rate > 1 {
		rate = 0.1
	}
	indices := make([]int, len(train))
	features := make([]int, len(train[0]))
	for i := range indices {
		indices[i] = i
	}
	for f := range features {
		features[f] = f
	}

	base := mean(target, indices)
	current := make([]float64, len(train))
	for i := range current {
		current[i] = base
	}
	residuals := make([]float64, len(train))
	stumps := make([]stump, 0, trees)
	for t := 0; t < trees; t++ {
		for i := range residuals {
			residuals[i] = target[i] - current[i]
		}
		s := fitStump(train, residuals, indices, features)
		stumps = append(stumps, s)
		for i, row := range train {
			current[i] += rate * s.predict(row)
		}
	}
	preds := make([]float64, len(predict))
	for pi, row := range predict {
		sum := base
		for _, s := range stumps {
			sum += rate * s.predict(row)
		}
		preds[pi] = sum
	}
	return preds, nil
}

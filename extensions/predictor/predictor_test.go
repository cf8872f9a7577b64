package predictor

import (
	"context"
	"math"
	"testing"

	"github.com/bmizerany/assert"

	"github.com/dataplat/etl"
)

func TestKnnClassification(t *testing.T) {
	// two tight clusters, the label follows the cluster
	train := []map[string]interface{}{
		{"x": float64(0.0), "y": float64(0.1), "label": "low"},
		{"x": float64(0.2), "y": float64(0.0), "label": "low"},
		{"x": float64(0.1), "y": float64(0.2), "label": "low"},
		{"x": float64(10.0), "y": float64(10.1), "label": "high"},
		{"x": float64(10.2), "y": float64(9.9), "label": "high"},
		{"x": float64(9.8), "y": float64(10.0), "label": "high"},
	}
	predict := []map[string]interface{}{
		{"x": float64(0.1), "y": float64(0.1)},
		{"x": float64(10.0), "y": float64(10.0)},
	}
	p := New()
	out, err := p.FitPredict(context.Background(), train, predict, "label", []string{"x", "y"}, "knn",
		map[string]interface{}{"n_neighbors": 3})
	assert.Equal(t, nil, err)
	assert.Equal(t, []interface{}{"low", "high"}, out)
}

func TestKnnRegressionAveragesNeighbors(t *testing.T) {
	train := []map[string]interface{}{
		{"x": float64(1), "y": float64(10)},
		{"x": float64(2), "y": float64(20)},
		{"x": float64(3), "y": float64(30)},
	}
	predict := []map[string]interface{}{{"x": float64(2)}}
	p := New()
	out, err := p.FitPredict(context.Background(), train, predict, "y", []string{"x"}, "knn",
		map[string]interface{}{"n_neighbors": 3})
	assert.Equal(t, nil, err)
	assert.Equal(t, float64(20), out[0].(float64))
}

func TestLinearRegressionExactFit(t *testing.T) {
	// y = 2x + 1, noiseless
	train := make([]map[string]interface{}, 0, 6)
	for i := 0; i < 6; i++ {
		x := float64(i)
		train = append(train, map[string]interface{}{"x": x, "y": 2*x + 1})
	}
	predict := []map[string]interface{}{
		{"x": float64(10)},
		{"x": float64(-3)},
	}
	p := New()
	out, err := p.FitPredict(context.Background(), train, predict, "y", []string{"x"}, "linear_regression", nil)
	assert.Equal(t, nil, err)
	if math.Abs(out[0].(float64)-21) > 1e-3 {
		t.Fatalf("expected ~21, got %v", out[0])
	}
	if math.Abs(out[1].(float64)-(-5)) > 1e-3 {
		t.Fatalf("expected ~-5, got %v", out[1])
	}
}

func TestLinearRegressionRejectsCategoricalTarget(t *testing.T) {
	train := []map[string]interface{}{{"x": float64(1), "y": "a"}}
	predict := []map[string]interface{}{{"x": float64(2)}}
	p := New()
	_, err := p.FitPredict(context.Background(), train, predict, "y", []string{"x"}, "linear_regression", nil)
	assert.Equal(t, etl.ErrCodeConfig, etl.ErrCode(err))
}

func TestRandomForestIsDeterministicPerSeed(t *testing.T) {
	train := []map[string]interface{}{
		{"x": float64(1), "y": float64(5)},
		{"x": float64(2), "y": float64(6)},
		{"x": float64(8), "y": float64(40)},
		{"x": float64(9), "y": float64(42)},
	}
	predict := []map[string]interface{}{{"x": float64(1.5)}, {"x": float64(8.5)}}
	params := map[string]interface{}{"n_estimators": 30, "random_state": 7}
	p := New()

	first, err := p.FitPredict(context.Background(), train, predict, "y", []string{"x"}, "random_forest", params)
	assert.Equal(t, nil, err)
	second, err := p.FitPredict(context.Background(), train, predict, "y", []string{"x"}, "random_forest", params)
	assert.Equal(t, nil, err)
	assert.Equal(t, first, second)

	// low cluster predicts low, high cluster predicts high
	assert.Equal(t, true, first[0].(float64) < first[1].(float64))
}

func TestGradientBoostingFitsResiduals(t *testing.T) {
	train := []map[string]interface{}{
		{"x": float64(1), "y": float64(10)},
		{"x": float64(2), "y": float64(10)},
		{"x": float64(8), "y": float64(50)},
		{"x": float64(9), "y": float64(50)},
	}
	predict := []map[string]interface{}{{"x": float64(1)}, {"x": float64(9)}}
	p := New()
	out, err := p.FitPredict(context.Background(), train, predict, "y", []string{"x"}, "gradient_boosting",
		map[string]interface{}{"n_estimators": 100, "learning_rate": 0.3})
	assert.Equal(t, nil, err)
	if math.Abs(out[0].(float64)-10) > 2 {
		t.Fatalf("expected ~10, got %v", out[0])
	}
	if math.Abs(out[1].(float64)-50) > 2 {
		t.Fatalf("expected ~50, got %v", out[1])
	}
}

func TestFitPredictGuards(t *testing.T) {
	p := New()
	ctx := context.Background()
	predict := []map[string]interface{}{{"x": float64(1)}}

	_, err := p.FitPredict(ctx, nil, predict, "y", []string{"x"}, "knn", nil)
	assert.Equal(t, etl.ErrCodeData, etl.ErrCode(err))

	train := []map[string]interface{}{{"x": float64(1), "y": float64(2)}}
	_, err = p.FitPredict(ctx, train, predict, "y", nil, "knn", nil)
	assert.Equal(t, etl.ErrCodeConfig, etl.ErrCode(err))

	_, err = p.FitPredict(ctx, train, predict, "y", []string{"x"}, "svm", nil)
	assert.Equal(t, etl.ErrCodeConfig, etl.ErrCode(err))
}

func TestEncoderMixedFeatureTypes(t *testing.T) {
	enc := newEncoder([]string{"n", "s", "b"})
	rows := []map[string]interface{}{
		{"n": int64(3), "s": "red", "b": true},
		{"n": float64(1.5), "s": "blue", "b": false},
		{"n": nil, "s": "red", "b": nil},
	}
	enc.fit(rows)
	encoded := enc.encodeAll(rows)
	assert.Equal(t, []float64{3, 0, 1}, encoded[0])
	assert.Equal(t, []float64{1.5, 1, 0}, encoded[1])
	assert.Equal(t, []float64{0, 0, 0}, encoded[2])
}

package etl

import (
	"context"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/karlseguin/typed"
)

type scriptedPredictor struct {
	out []interface{}
	err error

	algorithm string
	features  []string
	trainLen  int
}

func (p *scriptedPredictor) FitPredict(_ context.Context, trainRows, predictRows []map[string]interface{},
	_ string, featureColumns []string, algorithm string, _ map[string]interface{}) ([]interface{}, error) {
	p.algorithm = algorithm
	p.features = featureColumns
	p.trainLen = len(trainRows)
	if p.err != nil {
		return nil, p.err
	}
	return p.out, nil
}

func aiFillBatch(t *testing.T) *TabularBatch {
	b, err := NewBatch([]*Column{
		{Name: "age", Values: []interface{}{int64(20), int64(30), int64(40), int64(50)}},
		{Name: "income", Values: []interface{}{1000.0, nil, 3000.0, nil}},
	})
	assert.Equal(t, nil, err)
	return b
}

func aiFillConfig() typed.Typed {
	return typed.Typed{
		"column":          "income",
		"feature_columns": []string{"age"},
		"algorithm":       "knn",
	}
}

func TestAIFillUsesPredictor(t *testing.T) {
	executor, _ := GetStepExecutor(StepAIFillMissing)
	predictor := &scriptedPredictor{out: []interface{}{2000.0, 4000.0}}
	metric := &StepMetric{}
	out, err := executor.Apply(context.Background(), aiFillBatch(t), aiFillConfig(),
		&StepContext{Metric: metric, Predictor: predictor})
	assert.Equal(t, nil, err)

	col, _ := out.Column("income")
	assert.Equal(t, []interface{}{1000.0, 2000.0, 3000.0, 4000.0}, col.Values)
	assert.Equal(t, 0, len(metric.Warnings))

	// only non-null rows train, only null rows are predicted
	assert.Equal(t, 2, predictor.trainLen)
	assert.Equal(t, "knn", predictor.algorithm)
	assert.Equal(t, []string{"age"}, predictor.features)
}

func TestAIFillFallsBackWhenPredictorFails(t *testing.T) {
	executor, _ := GetStepExecutor(StepAIFillMissing)
	predictor := &scriptedPredictor{err: NewEtlError(ErrCodeData, "not enough training rows")}
	metric := &StepMetric{}
	cfg := aiFillConfig()
	cfg["fallback_strategy"] = "mean"
	out, err := executor.Apply(context.Background(), aiFillBatch(t), cfg,
		&StepContext{Metric: metric, Predictor: predictor})
	assert.Equal(t, nil, err)

	// mean of 1000 and 3000
	col, _ := out.Column("income")
	assert.Equal(t, []interface{}{1000.0, 2000.0, 3000.0, 2000.0}, col.Values)
	assert.Equal(t, 1, len(metric.Warnings))
}

func TestAIFillFallsBackWithoutPredictor(t *testing.T) {
	executor, _ := GetStepExecutor(StepAIFillMissing)
	metric := &StepMetric{}
	cfg := aiFillConfig()
	cfg["fallback_strategy"] = "mode"
	b, _ := NewBatch([]*Column{
		{Name: "age", Values: []interface{}{int64(20), int64(30), int64(40)}},
		{Name: "income", Values: []interface{}{1000.0, 1000.0, nil}},
	})
	out, err := executor.Apply(context.Background(), b, cfg, &StepContext{Metric: metric})
	assert.Equal(t, nil, err)

	col, _ := out.Column("income")
	assert.Equal(t, []interface{}{1000.0, 1000.0, 1000.0}, col.Values)
	assert.Equal(t, 1, len(metric.Warnings))
}

func TestAIFillAllNullLeavesColumnUnchanged(t *testing.T) {
	executor, _ := GetStepExecutor(StepAIFillMissing)
	metric := &StepMetric{}
	b, _ := NewBatch([]*Column{
		{Name: "age", Values: []interface{}{int64(20), int64(30)}},
		{Name: "income", Values: []interface{}{nil, nil}},
	})
	out, err := executor.Apply(context.Background(), b, aiFillConfig(), &StepContext{Metric: metric})
	assert.Equal(t, nil, err)

	col, _ := out.Column("income")
	assert.Equal(t, []interface{}{nil, nil}, col.Values)
	// no predictor plus unusable fallback, both get recorded
	assert.Equal(t, 2, len(metric.Warnings))
}

func TestAIFillNoMissingValuesIsANoop(t *testing.T) {
	executor, _ := GetStepExecutor(StepAIFillMissing)
	predictor := &scriptedPredictor{err: NewEtlError(ErrCodeData, "must not be called")}
	b, _ := NewBatch([]*Column{
		{Name: "age", Values: []interface{}{int64(20)}},
		{Name: "income", Values: []interface{}{1000.0}},
	})
	metric := &StepMetric{}
	out, err := executor.Apply(context.Background(), b, aiFillConfig(),
		&StepContext{Metric: metric, Predictor: predictor})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, predictor.trainLen)
	col, _ := out.Column("income")
	assert.Equal(t, []interface{}{1000.0}, col.Values)
}

func TestAIFillValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  typed.Typed
	}{
		{"missing column", typed.Typed{"feature_columns": []string{"age"}}},
		{"unknown column", typed.Typed{"column": "ghost", "feature_columns": []string{"age"}}},
		{"no features", typed.Typed{"column": "income"}},
		{"target as feature", typed.Typed{"column": "income", "feature_columns": []string{"income"}}},
		{"unknown feature", typed.Typed{"column": "income", "feature_columns": []string{"ghost"}}},
		{"unknown algorithm", typed.Typed{"column": "income", "feature_columns": []string{"age"}, "algorithm": "svm"}},
		{"unknown fallback", typed.Typed{"column": "income", "feature_columns": []string{"age"}, "fallback_strategy": "zero"}},
	}
	for _, c := range cases {
		err := validateStep(t, StepAIFillMissing, []string{"age", "income"}, c.cfg)
		assert.Equalf(t, ErrCodeConfig, ErrCode(err), "case:%v", c.name)
	}
}

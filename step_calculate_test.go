package etl

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/karlseguin/typed"
)

func TestCalculateFormula(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "price", Values: []interface{}{10.0, 20.0}},
		{Name: "qty", Values: []interface{}{int64(2), int64(3)}},
	})
	out := applyStep(t, StepCalculate, b, typed.Typed{
		"target":  "total",
		"formula": "price * qty",
	})
	col, _ := out.Column("total")
	assert.Equal(t, []interface{}{20.0, 60.0}, col.Values)
}

func TestCalculateFormulaRowFailureBecomesNull(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "a", Values: []interface{}{int64(1), nil}},
	})
	executor, _ := GetStepExecutor(StepCalculate)
	metric := &StepMetric{}
	out, err := executor.Apply(context.Background(), b,
		typed.Typed{"target": "twice", "formula": "a * 2"}, &StepContext{Metric: metric})
	assert.Equal(t, nil, err)
	col, _ := out.Column("twice")
	assert.Equal(t, int64(2), col.Values[0])
	assert.Equal(t, nil, col.Values[1])
	assert.Equal(t, int64(1), metric.CoercionFailures)
}

func TestCalculateInvalidFormulaFailsValidation(t *testing.T) {
	err := validateStep(t, StepCalculate, []string{"a"}, typed.Typed{"target": "b", "formula": "a +* 2"})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

func TestCalculateTargetCollision(t *testing.T) {
	err := validateStep(t, StepCalculate, []string{"a"}, typed.Typed{"target": "a", "formula": "1"})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

func TestCalculateConcat(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "first", Values: []interface{}{"ann", nil}},
		{Name: "last", Values: []interface{}{"lee", "doe"}},
	})
	out := applyStep(t, StepCalculate, b, typed.Typed{
		"target":    "full",
		"mode":      "concat",
		"columns":   []string{"first", "last"},
		"separator": " ",
	})
	col, _ := out.Column("full")
	assert.Equal(t, []interface{}{"ann lee", " doe"}, col.Values)
}

func TestCalculateDateDiff(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b, _ := NewBatch([]*Column{
		{Name: "start", Values: []interface{}{start, start}},
		{Name: "end", Values: []interface{}{start.Add(36 * time.Hour), nil}},
	})
	executor, _ := GetStepExecutor(StepCalculate)
	metric := &StepMetric{}
	out, err := executor.Apply(context.Background(), b, typed.Typed{
		"target":       "elapsed",
		"mode":         "date_diff",
		"start_column": "start",
		"end_column":   "end",
		"unit":         "hours",
	}, &StepContext{Metric: metric})
	assert.Equal(t, nil, err)
	col, _ := out.Column("elapsed")
	assert.Equal(t, 36.0, col.Values[0])
	assert.Equal(t, nil, col.Values[1])
	assert.Equal(t, int64(1), metric.CoercionFailures)
}

func TestCalculateValidatePropagatesTarget(t *testing.T) {
	executor, _ := GetStepExecutor(StepCalculate)
	next, err := executor.Validate([]string{"a"}, typed.Typed{"target": "b", "formula": "a + 1"})
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"a", "b"}, next)
}

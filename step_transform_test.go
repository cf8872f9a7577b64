package etl

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/karlseguin/typed"
)

func TestRename(t *testing.T) {
	b := testBatch(t)
	out := applyStep(t, StepRename, b, typed.Typed{"from": "name", "to": "full_name"})
	assert.Equal(t, []string{"id", "full_name", "score"}, out.ColumnNames())

	executor, _ := GetStepExecutor(StepRename)
	_, err := executor.Apply(context.Background(), b, typed.Typed{"from": "name", "to": "id"}, nil)
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

func TestRenameMissingColumnFailsAtApply(t *testing.T) {
	executor, _ := GetStepExecutor(StepRename)
	// unknown schema defers the column check to execution
	next, err := executor.Validate(nil, typed.Typed{"from": "ghost", "to": "renamed"})
	assert.Equal(t, nil, err)
	assert.Equal(t, []string(nil), next)

	b, _ := NewBatch([]*Column{{Name: "id", Values: []interface{}{int64(1)}}})
	_, err = executor.Apply(context.Background(), b, typed.Typed{"from": "ghost", "to": "renamed"}, nil)
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

func TestRenameValidatePropagatesSchema(t *testing.T) {
	executor, _ := GetStepExecutor(StepRename)
	next, err := executor.Validate([]string{"a", "b"}, typed.Typed{"from": "a", "to": "c"})
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"c", "b"}, next)

	_, err = executor.Validate([]string{"a", "b"}, typed.Typed{"from": "a", "to": "b"})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

func TestTypeCastCountsCoercionFailures(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "v", Values: []interface{}{"1", "oops", "3", nil}},
	})
	executor, _ := GetStepExecutor(StepTypeCast)
	metric := &StepMetric{}
	out, err := executor.Apply(context.Background(), b, typed.Typed{"column": "v", "target_type": "int"}, &StepContext{Metric: metric})
	assert.Equal(t, nil, err)
	col, _ := out.Column("v")
	// unparsable values become null, nulls pass through untouched
	assert.Equal(t, []interface{}{int64(1), nil, int64(3), nil}, col.Values)
	assert.Equal(t, int64(1), metric.CoercionFailures)
	assert.Equal(t, TypeInt, col.Type)
}

func TestTypeCastDatetimeWithFormat(t *testing.T) {
	b, _ := NewBatch([]*Column{{Name: "d", Values: []interface{}{"05/02/2024"}}})
	out := applyStep(t, StepTypeCast, b, typed.Typed{"column": "d", "target_type": "datetime", "format": "02/01/2006"})
	col, _ := out.Column("d")
	assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), col.Values[0])
}

func TestMapValues(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "status", Values: []interface{}{int64(1), int64(2), int64(9), nil}},
	})
	out := applyStep(t, StepMapValues, b, typed.Typed{
		"column":  "status",
		"mapping": map[string]interface{}{"1": "active", "2": "inactive"},
		"default": "unknown",
	})
	col, _ := out.Column("status")
	assert.Equal(t, []interface{}{"active", "inactive", "unknown", nil}, col.Values)
}

func TestMapValuesWithoutDefaultKeepsUnmapped(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "status", Values: []interface{}{"a", "z"}},
	})
	out := applyStep(t, StepMapValues, b, typed.Typed{
		"column":  "status",
		"mapping": map[string]interface{}{"a": "alpha"},
	})
	col, _ := out.Column("status")
	assert.Equal(t, []interface{}{"alpha", "z"}, col.Values)
}

func TestMapValuesValidate(t *testing.T) {
	err := validateStep(t, StepMapValues, []string{"v"}, typed.Typed{"column": "v"})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

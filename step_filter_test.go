package etl

import (
	"context"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/karlseguin/typed"
)

func applyStep(t *testing.T, kind StepKind, batch *TabularBatch, cfg typed.Typed) *TabularBatch {
	t.Helper()
	executor, err := GetStepExecutor(kind)
	assert.Equal(t, nil, err)
	metric := &StepMetric{}
	out, err := executor.Apply(context.Background(), batch, cfg, &StepContext{Metric: metric})
	assert.Equal(t, nil, err)
	return out
}

func validateStep(t *testing.T, kind StepKind, columns []string, cfg typed.Typed) error {
	t.Helper()
	executor, err := GetStepExecutor(kind)
	assert.Equal(t, nil, err)
	_, err = executor.Validate(columns, cfg)
	return err
}

func TestFilterOperators(t *testing.T) {
	b := testBatch(t)
	cases := []struct {
		name string
		cfg  typed.Typed
		ids  []interface{}
	}{
		{"eq", typed.Typed{"column": "name", "operator": "eq", "value": "ann"}, []interface{}{int64(1)}},
		{"ne", typed.Typed{"column": "name", "operator": "ne", "value": "ann"}, []interface{}{int64(2)}},
		{"gt", typed.Typed{"column": "score", "operator": "gt", "value": 2}, []interface{}{int64(3)}},
		{"lte", typed.Typed{"column": "id", "operator": "lte", "value": 2}, []interface{}{int64(1), int64(2)}},
		{"contains", typed.Typed{"column": "name", "operator": "contains", "value": "o"}, []interface{}{int64(2)}},
		{"is_null", typed.Typed{"column": "score", "operator": "is_null"}, []interface{}{int64(2)}},
		{"is_not_null", typed.Typed{"column": "name", "operator": "is_not_null"}, []interface{}{int64(1), int64(2)}},
	}
	for _, tc := range cases {
		out := applyStep(t, StepFilter, b, tc.cfg)
		col, _ := out.Column("id")
		assert.Equalf(t, tc.ids, col.Values, "case %s", tc.name)
	}
}

// null cells never satisfy ordered or equality predicates
func TestFilterNullNeverMatchesComparisons(t *testing.T) {
	b := testBatch(t)
	out := applyStep(t, StepFilter, b, typed.Typed{"column": "score", "operator": "ne", "value": 1.5})
	col, _ := out.Column("id")
	assert.Equal(t, []interface{}{int64(3)}, col.Values)
}

func TestFilterValidate(t *testing.T) {
	columns := []string{"id", "name"}
	err := validateStep(t, StepFilter, columns, typed.Typed{"column": "id", "operator": "gt", "value": 1})
	assert.Equal(t, nil, err)

	err = validateStep(t, StepFilter, columns, typed.Typed{"column": "missing", "operator": "gt", "value": 1})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))

	err = validateStep(t, StepFilter, columns, typed.Typed{"column": "id", "operator": "between"})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))

	err = validateStep(t, StepFilter, columns, typed.Typed{"column": "id", "operator": "gt"})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))

	// unknown schema downstream of a join defers the column check
	err = validateStep(t, StepFilter, nil, typed.Typed{"column": "anything", "operator": "is_null"})
	assert.Equal(t, nil, err)
}

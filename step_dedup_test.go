package etl

import (
	"testing"

	"github.com/bmizerany/assert"
	"github.com/karlseguin/typed"
)

func dedupBatch(t *testing.T) *TabularBatch {
	b, err := NewBatch([]*Column{
		{Name: "city", Values: []interface{}{"ny", "sf", "ny", nil, "sf", nil}},
		{Name: "seq", Values: []interface{}{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)}},
	})
	assert.Equal(t, nil, err)
	return b
}

func TestDeduplicateKeepFirst(t *testing.T) {
	out := applyStep(t, StepDeduplicate, dedupBatch(t), typed.Typed{"columns": []string{"city"}})
	seq, _ := out.Column("seq")
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(4)}, seq.Values)
}

// keep=last keeps the last occurrence but emits rows in their original order
func TestDeduplicateKeepLast(t *testing.T) {
	out := applyStep(t, StepDeduplicate, dedupBatch(t), typed.Typed{"columns": []string{"city"}, "keep": "last"})
	seq, _ := out.Column("seq")
	assert.Equal(t, []interface{}{int64(3), int64(5), int64(6)}, seq.Values)
}

func TestDeduplicateAllColumnsWhenNoneGiven(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "a", Values: []interface{}{int64(1), int64(1), int64(1)}},
		{Name: "b", Values: []interface{}{"x", "x", "y"}},
	})
	out := applyStep(t, StepDeduplicate, b, typed.Typed{})
	assert.Equal(t, 2, out.RowCount())
}

// a typed key must not collide with a stringly-equal key of another type
func TestDeduplicateTypeAwareKeys(t *testing.T) {
	b, _ := NewBatch([]*Column{
		{Name: "k", Values: []interface{}{int64(1), "1"}},
	})
	out := applyStep(t, StepDeduplicate, b, typed.Typed{"columns": []string{"k"}})
	assert.Equal(t, 2, out.RowCount())
}

func TestDeduplicateValidate(t *testing.T) {
	err := validateStep(t, StepDeduplicate, []string{"a"}, typed.Typed{"keep": "middle"})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
	err = validateStep(t, StepDeduplicate, []string{"a"}, typed.Typed{"columns": []string{"b"}})
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

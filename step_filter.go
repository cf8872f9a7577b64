package etl

import (
	"context"
	"strings"

	"github.com/karlseguin/typed"
	"github.com/samber/lo"
)

var filterOperators = []string{"eq", "ne", "gt", "gte", "lt", "lte", "contains", "is_null", "is_not_null"}

type filterStep struct{}

func init() {
	RegisterStep(&filterStep{})
}

func (s *filterStep) Kind() StepKind {
	return StepFilter
}

func (s *filterStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	column, err := cfgString(cfg, "column")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, column); err != nil {
		return nil, err
	}
	op, err := cfgString(cfg, "operator")
	if err != nil {
		return nil, err
	}
	if !lo.Contains(filterOperators, op) {
		return nil, NewEtlError(ErrCodeConfig, "unknown filter operator:%v", op)
	}
	if op != "is_null" && op != "is_not_null" && !cfg.Exists("value") {
		return nil, NewEtlError(ErrCodeConfig, "filter operator:%v requires a value", op)
	}
	return columns, nil
}

func (s *filterStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	col, err := batch.Column(cfg.String("column"))
	if err != nil {
		return nil, err
	}
	op := cfg.String("operator")
	value := normalizeValue(cfg["value"])

	keep := make([]int, 0, len(col.Values))
	for i, cell := range col.Values {
		if rowMatches(cell, op, value) {
			keep = append(keep, i)
		}
	}
	return batch.SelectRows(keep), nil
}

// rowMatches evaluate one filter predicate. A null cell only matches the
// null checks, every ordered or equality comparison against null is false.
func rowMatches(cell interface{}, op string, value interface{}) bool {
	switch op {
	case "is_null":
		return cell == nil
	case "is_not_null":
		return cell != nil
	}
	if cell == nil {
		return false
	}
	switch op {
	case "eq":
		return equalValues(cell, value)
	case "ne":
		return !equalValues(cell, value)
	case "contains":
		needle, ok := value.(string)
		if !ok {
			needle = valueString(value)
		}
		return strings.Contains(valueString(cell), needle)
	}
	c, ok := compareValues(cell, value)
	if !ok {
		return false
	}
	switch op {
	case "gt":
		return c > 0
	case "gte":
		return c >= 0
	case "lt":
		return c < 0
	case "lte":
		return c <= 0
	}
	return false
}

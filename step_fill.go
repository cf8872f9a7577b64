package etl

import (
	"context"
	"fmt"
	"sort"

	"github.com/karlseguin/typed"
	"github.com/samber/lo"
)

var fillStrategies = []string{"value", "mean", "median", "mode", "forward_fill", "backward_fill"}

type fillMissingStep struct{}

func init() {
	RegisterStep(&fillMissingStep{})
}

func (s *fillMissingStep) Kind() StepKind {
	return StepFillMissing
}

func (s *fillMissingStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	column, err := cfgString(cfg, "column")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, column); err != nil {
		return nil, err
	}
	strategy, err := cfgString(cfg, "strategy")
	if err != nil {
		return nil, err
	}
	if !lo.Contains(fillStrategies, strategy) {
		return nil, NewEtlError(ErrCodeConfig, "unknown fill strategy:%v", strategy)
	}
	if strategy == "value" && !cfg.Exists("value") {
		return nil, NewEtlError(ErrCodeConfig, "fill strategy value requires a literal value")
	}
	return columns, nil
}

func (s *fillMissingStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, sc *StepContext) (*TabularBatch, error) {
	col, err := batch.Column(cfg.String("column"))
	if err != nil {
		return nil, err
	}
	strategy := cfg.String("strategy")

	values := make([]interface{}, len(col.Values))
	copy(values, col.Values)

	switch strategy {
	case "value":
		literal := normalizeValue(cfg["value"])
		for i, v := range values {
			if v == nil {
				values[i] = literal
			}
		}
	case "forward_fill":
		var last interface{}
		for i, v := range values {
			if v == nil {
				values[i] = last
			} else {
				last = v
			}
		}
	case "backward_fill":
		var next interface{}
		for i := len(values) - 1; i >= 0; i-- {
			if values[i] == nil {
				values[i] = next
			} else {
				next = values[i]
			}
		}
	default:
		fill, ok := statisticFill(values, strategy)
		if !ok {
			sc.warn(fmt.Sprintf("fill_missing(%s) on column %s: no non-null values, column left unchanged", strategy, col.Name))
			return batch, nil
		}
		for i, v := range values {
			if v == nil {
				values[i] = fill
			}
		}
	}

	return batch.WithColumn(&Column{Name: col.Name, Type: col.Type, Values: values})
}

// statisticFill compute the mean/median/mode fill value over the non-null
// cells. The second result is false when every cell is null, or when a
// numeric statistic is asked of a non-numeric column.
func statisticFill(values []interface{}, strategy string) (interface{}, bool) {
	nonNull := lo.Filter(values, func(v interface{}, _ int) bool { return v != nil })
	if len(nonNull) == 0 {
		return nil, false
	}
	switch strategy {
	case "mean":
		sum := 0.0
		for _, v := range nonNull {
			f, ok := toFloat(v)
			if !ok {
				return nil, false
			}
			sum += f
		}
		return sum / float64(len(nonNull)), true
	case "median":
		floats := make([]float64, 0, len(nonNull))
		for _, v := range nonNull {
			f, ok := toFloat(v)
			if !ok {
				return nil, false
			}
			floats = append(floats, f)
		}
		sort.Float64s(floats)
		mid := len(floats) / 2
		if len(floats)%2 == 1 {
			return floats[mid], true
		}
		return (floats[mid-1] + floats[mid]) / 2, true
	case "mode":
		counts := map[string]int{}
		first := map[string]interface{}{}
		best, bestCount := "", 0
		for _, v := range nonNull {
			key := fmt.Sprintf("%T:%v", v, v)
			counts[key]++
			if _, ok := first[key]; !ok {
				first[key] = v
			}
			// ties resolve to the earliest seen value
			if counts[key] > bestCount {
				best, bestCount = key, counts[key]
			}
		}
		return first[best], true
	}
	return nil, false
}

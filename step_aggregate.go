package etl

import (
	"context"
	"math"
	"sort"

	"github.com/karlseguin/typed"
	"github.com/samber/lo"
)

var aggregateFunctions = []string{"sum", "mean", "count", "min", "max", "std"}

func init() {
	RegisterStep(&aggregateStep{})
	RegisterStep(&sortStep{})
}

type aggregateStep struct{}

func (s *aggregateStep) Kind() StepKind {
	return StepAggregate
}

func (s *aggregateStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	groupBy := cfgStrings(cfg, "group_by")
	if len(groupBy) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "aggregate requires group_by columns")
	}
	for _, c := range groupBy {
		if err := requireColumn(columns, c); err != nil {
			return nil, err
		}
	}
	column, err := cfgString(cfg, "column")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, column); err != nil {
		return nil, err
	}
	fn, err := cfgString(cfg, "function")
	if err != nil {
		return nil, err
	}
	if !lo.Contains(aggregateFunctions, fn) {
		return nil, NewEtlError(ErrCodeConfig, "unknown aggregate function:%v", fn)
	}
	return append(append([]string{}, groupBy...), aggregateAlias(cfg)), nil
}

func aggregateAlias(cfg typed.Typed) string {
	if alias := cfg.String("alias"); alias != "" {
		return alias
	}
	return cfg.String("column") + "_" + cfg.String("function")
}

func (s *aggregateStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	groupBy := cfgStrings(cfg, "group_by")
	fn := cfg.String("function")
	target, err := batch.Column(cfg.String("column"))
	if err != nil {
		return nil, err
	}
	keyCols := make([]*Column, len(groupBy))
	for i, name := range groupBy {
		col, cerr := batch.Column(name)
		if cerr != nil {
			return nil, cerr
		}
		keyCols[i] = col
	}

	// group keys keep first-appearance order; a null key cell is a distinct
	// group value, not a dropped row
	groups := map[string][]int{}
	order := make([]string, 0)
	for i := 0; i < batch.RowCount(); i++ {
		key := groupKey(keyCols, i)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	outColumns := make([]*Column, 0, len(groupBy)+1)
	for _, col := range keyCols {
		values := make([]interface{}, len(order))
		for n, key := range order {
			values[n] = col.Values[groups[key][0]]
		}
		outColumns = append(outColumns, &Column{Name: col.Name, Type: col.Type, Values: values})
	}

	aggValues := make([]interface{}, len(order))
	for n, key := range order {
		aggValues[n] = aggregateGroup(target, groups[key], fn)
	}
	outColumns = append(outColumns, &Column{Name: aggregateAlias(cfg), Type: inferColumnType(aggValues), Values: aggValues})

	return NewBatch(outColumns)
}

// aggregateGroup apply fn to the target cells of one group. Nulls are ignored
// except for count, which counts non-null cells; an all-null group yields null.
func aggregateGroup(col *Column, indices []int, fn string) interface{} {
	floats := make([]float64, 0, len(indices))
	var nonNull int64
	var minVal, maxVal interface{}
	for _, i := range indices {
		cell := col.Values[i]
		if cell == nil {
			continue
		}
		nonNull++
		if f, ok := toFloat(cell); ok {
			floats = append(floats, f)
		}
		if minVal == nil {
			minVal, maxVal = cell, cell
		} else {
			if c, ok := compareValues(cell, minVal); ok && c < 0 {
				minVal = cell
			}
			if c, ok := compareValues(cell, maxVal); ok && c > 0 {
				maxVal = cell
			}
		}
	}
	switch fn {
	case "count":
		return nonNull
	case "min":
		return minVal
	case "max":
		return maxVal
	}
	if len(floats) == 0 {
		return nil
	}
	sum := 0.0
	for _, f := range floats {
		sum += f
	}
	switch fn {
	case "sum":
		return sum
	case "mean":
		return sum / float64(len(floats))
	case "std":
		mean := sum / float64(len(floats))
		var sq float64
		for _, f := range floats {
			sq += (f - mean) * (f - mean)
		}
		return math.Sqrt(sq / float64(len(floats)))
	}
	return nil
}

type sortStep struct{}

func (s *sortStep) Kind() StepKind {
	return StepSort
}

func (s *sortStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	sortColumns := cfgStrings(cfg, "columns")
	if len(sortColumns) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "sort requires columns")
	}
	for _, c := range sortColumns {
		if err := requireColumn(columns, c); err != nil {
			return nil, err
		}
	}
	return columns, nil
}

func (s *sortStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	names := cfgStrings(cfg, "columns")
	ascending := cfg.BoolOr("ascending", true)

	cols := make([]*Column, len(names))
	for i, name := range names {
		col, err := batch.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	indices := make([]int, batch.RowCount())
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		for _, col := range cols {
			va, vb := col.Values[indices[a]], col.Values[indices[b]]
			// nulls sort last regardless of direction
			if va == nil || vb == nil {
				if va == nil && vb == nil {
					continue
				}
				return vb == nil
			}
			c, ok := compareValues(va, vb)
			if !ok || c == 0 {
				continue
			}
			if ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return batch.SelectRows(indices), nil
}

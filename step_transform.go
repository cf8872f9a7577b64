package etl

import (
	"context"
	"fmt"

	"github.com/karlseguin/typed"
	"github.com/samber/lo"
)

func init() {
	RegisterStep(&renameStep{})
	RegisterStep(&typeCastStep{})
	RegisterStep(&mapValuesStep{})
}

type renameStep struct{}

func (s *renameStep) Kind() StepKind {
	return StepRename
}

func (s *renameStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	from, err := cfgString(cfg, "from")
	if err != nil {
		return nil, err
	}
	to, err := cfgString(cfg, "to")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, from); err != nil {
		return nil, err
	}
	if from != to && lo.Contains(columns, to) {
		return nil, NewEtlError(ErrCodeConfig, "rename target:%v collides with an existing column", to)
	}
	if columns == nil {
		return nil, nil
	}
	return lo.Map(columns, func(c string, _ int) string {
		if c == from {
			return to
		}
		return c
	}), nil
}

func (s *renameStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	from, to := cfg.String("from"), cfg.String("to")
	if _, err := batch.Column(from); err != nil {
		return nil, err
	}
	if from != to && batch.HasColumn(to) {
		return nil, NewEtlError(ErrCodeConfig, "rename target:%v collides with an existing column", to)
	}
	columns := make([]*Column, 0, len(batch.Columns()))
	for _, col := range batch.Columns() {
		if col.Name == from {
			columns = append(columns, &Column{Name: to, Type: col.Type, Values: col.Values})
		} else {
			columns = append(columns, col)
		}
	}
	return NewBatch(columns)
}

type typeCastStep struct{}

func (s *typeCastStep) Kind() StepKind {
	return StepTypeCast
}

func (s *typeCastStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	column, err := cfgString(cfg, "column")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, column); err != nil {
		return nil, err
	}
	target, err := cfgString(cfg, "target_type")
	if err != nil {
		return nil, err
	}
	if _, ok := ParseColumnType(target); !ok {
		return nil, NewEtlError(ErrCodeConfig, "unknown target type:%v", target)
	}
	return columns, nil
}

func (s *typeCastStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, sc *StepContext) (*TabularBatch, error) {
	col, err := batch.Column(cfg.String("column"))
	if err != nil {
		return nil, err
	}
	target, _ := ParseColumnType(cfg.String("target_type"))
	layout := cfg.String("format")

	values := make([]interface{}, len(col.Values))
	var failures int64
	for i, cell := range col.Values {
		out, ok := castValue(cell, target, layout)
		if !ok {
			// unparsable values become null instead of aborting the run
			failures++
			continue
		}
		values[i] = out
	}
	if failures > 0 {
		sc.Metric.CoercionFailures += failures
		sc.warn(fmt.Sprintf("type_cast on column %s: %d values could not be parsed as %s and were set to null", col.Name, failures, target))
	}
	return batch.WithColumn(&Column{Name: col.Name, Type: target, Values: values})
}

type mapValuesStep struct{}

func (s *mapValuesStep) Kind() StepKind {
	return StepMapValues
}

func (s *mapValuesStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	column, err := cfgString(cfg, "column")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, column); err != nil {
		return nil, err
	}
	if len(cfg.Object("mapping")) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "map_values requires a non-empty mapping")
	}
	return columns, nil
}

func (s *mapValuesStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	col, err := batch.Column(cfg.String("column"))
	if err != nil {
		return nil, err
	}
	mapping := cfg.Object("mapping")
	hasDefault := cfg.Exists("default")
	defaultValue := normalizeValue(cfg["default"])

	values := make([]interface{}, len(col.Values))
	for i, cell := range col.Values {
		if cell == nil {
			continue
		}
		if mapped, ok := mapping[valueString(cell)]; ok {
			values[i] = normalizeValue(mapped)
		} else if hasDefault {
			values[i] = defaultValue
		} else {
			values[i] = cell
		}
	}
	return batch.WithColumn(&Column{Name: col.Name, Type: inferColumnType(values), Values: values})
}

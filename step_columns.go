package etl

import (
	"context"

	"github.com/karlseguin/typed"
	"github.com/samber/lo"
)

func init() {
	RegisterStep(&dropColumnsStep{})
	RegisterStep(&selectColumnsStep{})
}

type dropColumnsStep struct{}

func (s *dropColumnsStep) Kind() StepKind {
	return StepDropColumns
}

func (s *dropColumnsStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	drop := cfgStrings(cfg, "columns")
	if len(drop) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "drop_columns requires columns")
	}
	for _, c := range drop {
		if err := requireColumn(columns, c); err != nil {
			return nil, err
		}
	}
	if columns == nil {
		return nil, nil
	}
	remaining := lo.Without(columns, drop...)
	if len(remaining) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "drop_columns would remove every column")
	}
	return remaining, nil
}

func (s *dropColumnsStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	drop := cfgStrings(cfg, "columns")
	for _, c := range drop {
		if !batch.HasColumn(c) {
			return nil, NewEtlError(ErrCodeConfig, "column not found:%v", c)
		}
	}
	return batch.WithoutColumns(drop...), nil
}

type selectColumnsStep struct{}

func (s *selectColumnsStep) Kind() StepKind {
	return StepSelectColumns
}

func (s *selectColumnsStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	selected := cfgStrings(cfg, "columns")
	if len(selected) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "select_columns requires columns")
	}
	for _, c := range selected {
		if err := requireColumn(columns, c); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

func (s *selectColumnsStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	selected := cfgStrings(cfg, "columns")
	columns := make([]*Column, len(selected))
	for i, name := range selected {
		col, err := batch.Column(name)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return NewBatch(columns)
}

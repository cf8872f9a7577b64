package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/karlseguin/typed"
	"github.com/oarkflow/expr"
	"github.com/oarkflow/expr/vm"
	"github.com/samber/lo"
)

type calculateStep struct{}

func init() {
	RegisterStep(&calculateStep{})
}

func (s *calculateStep) Kind() StepKind {
	return StepCalculate
}

func (s *calculateStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	target, err := cfgString(cfg, "target")
	if err != nil {
		return nil, err
	}
	if lo.Contains(columns, target) {
		return nil, NewEtlError(ErrCodeConfig, "calculate target:%v collides with an existing column", target)
	}
	unknownSchema := columns == nil
	switch cfg.StringOr("mode", "formula") {
	case "formula":
		formula, err := cfgString(cfg, "formula")
		if err != nil {
			return nil, err
		}
		// parse failures surface here, before any row is processed
		if _, err := compileFormula(formula); err != nil {
			return nil, err
		}
	case "concat":
		concatColumns := cfgStrings(cfg, "columns")
		if len(concatColumns) == 0 {
			return nil, NewEtlError(ErrCodeConfig, "calculate concat requires columns")
		}
		for _, c := range concatColumns {
			if err := requireColumn(columns, c); err != nil {
				return nil, err
			}
		}
	case "date_diff":
		for _, key := range []string{"start_column", "end_column"} {
			name, err := cfgString(cfg, key)
			if err != nil {
				return nil, err
			}
			if err := requireColumn(columns, name); err != nil {
				return nil, err
			}
		}
		switch cfg.StringOr("unit", "days") {
		case "days", "hours", "minutes", "seconds":
		default:
			return nil, NewEtlError(ErrCodeConfig, "unknown date_diff unit:%v", cfg.String("unit"))
		}
	default:
		return nil, NewEtlError(ErrCodeConfig, "unknown calculate mode:%v", cfg.String("mode"))
	}
	if unknownSchema {
		return nil, nil
	}
	return append(append([]string{}, columns...), target), nil
}

func compileFormula(formula string) (*vm.Program, error) {
	program, err := expr.Compile(formula, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, NewEtlError(ErrCodeConfig, "invalid formula:%v", formula, err)
	}
	return program, nil
}

func (s *calculateStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, sc *StepContext) (*TabularBatch, error) {
	target := cfg.String("target")
	switch cfg.StringOr("mode", "formula") {
	case "concat":
		return s.applyConcat(batch, target, cfgStrings(cfg, "columns"), cfg.StringOr("separator", ""))
	case "date_diff":
		return s.applyDateDiff(batch, target, cfg, sc)
	default:
		return s.applyFormula(batch, target, cfg.String("formula"), sc)
	}
}

func (s *calculateStep) applyFormula(batch *TabularBatch, target, formula string, sc *StepContext) (*TabularBatch, error) {
	program, err := compileFormula(formula)
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, batch.RowCount())
	var failures int64
	for i := 0; i < batch.RowCount(); i++ {
		out, rerr := expr.Run(program, batch.Row(i))
		if rerr != nil {
			failures++
			continue
		}
		values[i] = normalizeValue(out)
	}
	if failures > 0 {
		sc.Metric.CoercionFailures += failures
		sc.warn(fmt.Sprintf("calculate %s: formula failed on %d rows, results set to null", target, failures))
	}
	return batch.WithColumn(&Column{Name: target, Type: inferColumnType(values), Values: values})
}

func (s *calculateStep) applyConcat(batch *TabularBatch, target string, names []string, separator string) (*TabularBatch, error) {
	cols := make([]*Column, len(names))
	for i, name := range names {
		col, err := batch.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	values := make([]interface{}, batch.RowCount())
	parts := make([]string, len(cols))
	for i := 0; i < batch.RowCount(); i++ {
		for n, col := range cols {
			parts[n] = valueString(col.Values[i])
		}
		values[i] = strings.Join(parts, separator)
	}
	return batch.WithColumn(&Column{Name: target, Type: TypeString, Values: values})
}

func (s *calculateStep) applyDateDiff(batch *TabularBatch, target string, cfg typed.Typed, sc *StepContext) (*TabularBatch, error) {
	start, err := batch.Column(cfg.String("start_column"))
	if err != nil {
		return nil, err
	}
	end, err := batch.Column(cfg.String("end_column"))
	if err != nil {
		return nil, err
	}
	unit := cfg.StringOr("unit", "days")

	values := make([]interface{}, batch.RowCount())
	var failures int64
	for i := 0; i < batch.RowCount(); i++ {
		st, sok := asTime(start.Values[i])
		en, eok := asTime(end.Values[i])
		if !sok || !eok {
			if start.Values[i] != nil || end.Values[i] != nil {
				failures++
			}
			continue
		}
		d := en.Sub(st)
		switch unit {
		case "days":
			values[i] = d.Hours() / 24
		case "hours":
			values[i] = d.Hours()
		case "minutes":
			values[i] = d.Minutes()
		case "seconds":
			values[i] = d.Seconds()
		}
	}
	if failures > 0 {
		sc.Metric.CoercionFailures += failures
		sc.warn(fmt.Sprintf("calculate %s: date_diff failed on %d rows, results set to null", target, failures))
	}
	return batch.WithColumn(&Column{Name: target, Type: TypeFloat, Values: values})
}

func asTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		if t, ok := castValue(val, TypeTime, ""); ok && t != nil {
			return t.(time.Time), true
		}
	}
	return time.Time{}, false
}

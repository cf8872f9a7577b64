package etl

import (
	"context"
	"fmt"

	"github.com/karlseguin/typed"
	"github.com/samber/lo"
)

var aiFillAlgorithms = []string{"knn", "random_forest", "linear_regression", "gradient_boosting"}

type aiFillMissingStep struct{}

func init() {
	RegisterStep(&aiFillMissingStep{})
}

func (s *aiFillMissingStep) Kind() StepKind {
	return StepAIFillMissing
}

func (s *aiFillMissingStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	column, err := cfgString(cfg, "column")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, column); err != nil {
		return nil, err
	}
	features := cfgStrings(cfg, "feature_columns")
	if len(features) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "ai_fill_missing requires feature_columns")
	}
	for _, f := range features {
		if f == column {
			return nil, NewEtlError(ErrCodeConfig, "target column:%v can not be its own feature", column)
		}
		if err := requireColumn(columns, f); err != nil {
			return nil, err
		}
	}
	algorithm := cfg.StringOr("algorithm", "knn")
	if !lo.Contains(aiFillAlgorithms, algorithm) {
		return nil, NewEtlError(ErrCodeConfig, "unknown ai_fill algorithm:%v", algorithm)
	}
	fallback := cfg.StringOr("fallback_strategy", "mean")
	switch fallback {
	case "mean", "median", "mode":
	default:
		return nil, NewEtlError(ErrCodeConfig, "unknown ai_fill fallback strategy:%v", fallback)
	}
	return columns, nil
}

func (s *aiFillMissingStep) Apply(ctx context.Context, batch *TabularBatch, cfg typed.Typed, sc *StepContext) (*TabularBatch, error) {
	col, err := batch.Column(cfg.String("column"))
	if err != nil {
		return nil, err
	}
	features := cfgStrings(cfg, "feature_columns")
	algorithm := cfg.StringOr("algorithm", "knn")
	fallback := cfg.StringOr("fallback_strategy", "mean")

	values := make([]interface{}, len(col.Values))
	copy(values, col.Values)

	missing := make([]int, 0)
	trainRows := make([]map[string]interface{}, 0, len(values))
	predictRows := make([]map[string]interface{}, 0)
	for i, v := range values {
		row := batch.Row(i)
		if v == nil {
			missing = append(missing, i)
			predictRows = append(predictRows, row)
		} else {
			trainRows = append(trainRows, row)
		}
	}
	if len(missing) == 0 {
		return batch, nil
	}

	predicted := false
	if sc.Predictor != nil {
		params := map[string]interface{}(cfg.Object("params"))
		out, perr := sc.Predictor.FitPredict(ctx, trainRows, predictRows, col.Name, features, algorithm, params)
		if perr == nil && len(out) == len(missing) {
			for n, i := range missing {
				values[i] = normalizeValue(out[n])
			}
			predicted = true
		} else if perr != nil {
			sc.warn(fmt.Sprintf("ai_fill_missing(%s) on column %s: prediction failed (%v), using %s fallback", algorithm, col.Name, perr, fallback))
		}
	} else {
		sc.warn(fmt.Sprintf("ai_fill_missing on column %s: no predictor configured, using %s fallback", col.Name, fallback))
	}

	if !predicted {
		fill, ok := statisticFill(values, fallback)
		if !ok {
			sc.warn(fmt.Sprintf("ai_fill_missing fallback %s on column %s: no usable values, column left unchanged", fallback, col.Name))
			return batch, nil
		}
		for _, i := range missing {
			if values[i] == nil {
				values[i] = fill
			}
		}
	}

	return batch.WithColumn(&Column{Name: col.Name, Type: col.Type, Values: values})
}

// Package predictor implements the model behind the ai_fill_missing step.
// Training and prediction happen in-process on the sampled rows; no model
// state survives a run.
package predictor

import (
	"context"
	"time"

	"github.com/karlseguin/typed"

	"github.com/dataplat/etl"
)

// New build the default Predictor. Supported algorithms: knn,
// linear_regression, random_forest, gradient_boosting.
func New() etl.Predictor {
	return &localPredictor{}
}

type localPredictor struct{}

func (p *localPredictor) FitPredict(_ context.Context, trainRows, predictRows []map[string]interface{},
	targetColumn string, featureColumns []string, algorithm string, params map[string]interface{}) ([]interface{}, error) {
	if len(trainRows) == 0 {
		return nil, etl.NewEtlError(etl.ErrCodeData, "no rows with a non-null %v to train on", targetColumn)
	}
	if len(featureColumns) == 0 {
		return nil, etl.NewEtlError(etl.ErrCodeConfig, "feature columns are required")
	}
	enc := newEncoder(featureColumns)
	enc.fit(trainRows)
	enc.fit(predictRows)

	train := enc.encodeAll(trainRows)
	predict := enc.encodeAll(predictRows)

	target, labels, numeric := encodeTarget(trainRows, targetColumn)
	cfg := typed.New(params)

	var preds []float64
	var err error
	switch algorithm {
	case "knn":
		preds, err = knnPredict(train, target, predict, numeric, cfg.IntOr("n_neighbors", 5))
	case "linear_regression":
		if !numeric {
			return nil, etl.NewEtlError(etl.ErrCodeConfig, "linear_regression requires a numeric target, %v is not", targetColumn)
		}
		preds, err = linearPredict(train, target, predict)
	case "random_forest":
		preds, err = forestPredict(train, target, predict, numeric, cfg.IntOr("n_estimators", 50), cfg.IntOr("random_state", 1))
	case "gradient_boosting":
		if !numeric {
			return nil, etl.NewEtlError(etl.ErrCodeConfig, "gradient_boosting requires a numeric target, %v is not", targetColumn)
		}
		preds, err = boostPredict(train, target, predict, cfg.IntOr("n_estimators", 50), cfg.FloatOr("learning_rate", 0.1))
	default:
		return nil, etl.NewEtlError(etl.ErrCodeConfig, "unknown algorithm:%v", algorithm)
	}
	if err != nil {
		return nil, err
	}

	out := make([]interface{}, len(preds))
	for i, v := range preds {
		if numeric {
			out[i] = v
		} else {
			out[i] = labels[classIndex(v, len(labels))]
		}
	}
	return out, nil
}

func classIndex(v float64, n int) int {
	i := int(v + 0.5)
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// encoder turns feature cells into float vectors. Numeric values pass
// through, times become unix seconds, strings and bools get a per-column
// category code. Nulls encode as the column's running mean substitute, zero.
type encoder struct {
	columns    []string
	categories []map[string]int
}

func newEncoder(columns []string) *encoder {
	enc := &encoder{
		columns:    columns,
		categories: make([]map[string]int, len(columns)),
	}
	for i := range enc.categories {
		enc.categories[i] = map[string]int{}
	}
	return enc
}

func (e *encoder) fit(rows []map[string]interface{}) {
	for _, row := range rows {
		for i, col := range e.columns {
			if s, ok := row[col].(string); ok {
				if _, seen := e.categories[i][s]; !seen {
					e.categories[i][s] = len(e.categories[i])
				}
			}
		}
	}
}

func (e *encoder) encodeAll(rows []map[string]interface{}) [][]float64 {
	encoded := make([][]float64, len(rows))
	for ri, row := range rows {
		vec := make([]float64, len(e.columns))
		for i, col := range e.columns {
			vec[i] = e.encodeCell(i, row[col])
		}
		encoded[ri] = vec
	}
	return encoded
}

func (e *encoder) encodeCell(i int, v interface{}) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case float64:
		return val
	case bool:
		if val {
			return 1
		}
		return 0
	case time.Time:
		return float64(val.Unix())
	case string:
		return float64(e.categories[i][val])
	}
	return 0
}

// encodeTarget maps the target column to floats. A numeric target keeps its
// value; anything else becomes a class index into the returned label list.
func encodeTarget(rows []map[string]interface{}, targetColumn string) ([]float64, []interface{}, bool) {
	numeric := true
	for _, row := range rows {
		switch row[targetColumn].(type) {
		case int64, float64:
		default:
			numeric = false
		}
	}
	target := make([]float64, len(rows))
	if numeric {
		for i, row := range rows {
			switch val := row[targetColumn].(type) {
			case int64:
				target[i] = float64(val)
			case float64:
				target[i] = val
			}
		}
		return target, nil, true
	}
	var labels []interface{}
	index := map[string]int{}
	for i, row := range rows {
		key := labelKey(row[targetColumn])
		class, seen := index[key]
		if !seen {
			class = len(labels)
			index[key] = class
			labels = append(labels, row[targetColumn])
		}
		target[i] = float64(class)
	}
	return target, labels, false
}

func labelKey(v interface{}) string {
	switch val := v.(type) {
	case string:
		return "s:" + val
	case bool:
		if val {
			return "b:1"
		}
		return "b:0"
	case time.Time:
		return "t:" + val.Format(time.RFC3339Nano)
	}
	return ""
}

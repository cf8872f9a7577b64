package etl

import (
	"context"

	"github.com/karlseguin/typed"
)

// StepKind discriminates the step config union.
type StepKind string

const (
	StepFilter        StepKind = "filter"
	StepDeduplicate   StepKind = "deduplicate"
	StepFillMissing   StepKind = "fill_missing"
	StepAIFillMissing StepKind = "ai_fill_missing"
	StepMask          StepKind = "mask"
	StepAutoMask      StepKind = "auto_mask"
	StepRename        StepKind = "rename"
	StepTypeCast      StepKind = "type_cast"
	StepCalculate     StepKind = "calculate"
	StepAggregate     StepKind = "aggregate"
	StepSort          StepKind = "sort"
	StepDropColumns   StepKind = "drop_columns"
	StepSelectColumns StepKind = "select_columns"
	StepJoin          StepKind = "join"
	StepMapValues     StepKind = "map_values"
)

// StepContext collaborators and counters available to a step while it runs.
type StepContext struct {
	Metric     *StepMetric
	Predictor  Predictor
	Classifier SensitivityClassifier
	Connectors ConnectorResolver
}

func (c *StepContext) warn(msg string) {
	c.Metric.Warnings = append(c.Metric.Warnings, msg)
}

// StepExecutor a pure transform over a TabularBatch. Validate runs before any
// source row is read: it checks the config against the propagated column set
// and returns the column set the step will produce, so a whole pipeline can
// be rejected with a config error before execution starts.
type StepExecutor interface {
	Kind() StepKind
	Validate(columns []string, cfg typed.Typed) ([]string, error)
	Apply(ctx context.Context, batch *TabularBatch, cfg typed.Typed, sc *StepContext) (*TabularBatch, error)
}

var stepRegistry = map[StepKind]StepExecutor{}

// RegisterStep register a step executor, replacing any previous one of the
// same kind.
func RegisterStep(e StepExecutor) {
	stepRegistry[e.Kind()] = e
}

// GetStepExecutor look up the executor of a step kind.
func GetStepExecutor(kind StepKind) (StepExecutor, error) {
	e, ok := stepRegistry[kind]
	if !ok {
		return nil, NewEtlError(ErrCodeConfig, "unknown step kind:%v", kind)
	}
	return e, nil
}

// config decode helpers shared by step executors

func cfgString(cfg typed.Typed, key string) (string, error) {
	s := cfg.String(key)
	if s == "" {
		return "", NewEtlError(ErrCodeConfig, "missing required config field:%v", key)
	}
	return s, nil
}

func cfgStrings(cfg typed.Typed, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// requireColumn check membership in the propagated column set. A nil set
// means the schema is unknown at validation time (downstream of a join) and
// the check is deferred to execution.
func requireColumn(columns []string, name string) error {
	if columns == nil {
		return nil
	}
	for _, c := range columns {
		if c == name {
			return nil
		}
	}
	return NewEtlError(ErrCodeConfig, "column not found:%v", name)
}

package etl

import (
	"context"
)

// SourceConnector abstracts reading tabular data from a registered source
// (relational, file or API backed). Read with a non-nil watermark returns only
// rows whose watermark field exceeds the watermark value.
type SourceConnector interface {
	// Columns probe the column set of a table or query without reading rows.
	Columns(ctx context.Context, tableOrQuery string) ([]string, error)
	Read(ctx context.Context, tableOrQuery string, watermark *Watermark) (*TabularBatch, error)
}

// SinkWriter writes an output batch to a target table.
type SinkWriter interface {
	Write(ctx context.Context, targetTable string, batch *TabularBatch, mode WriteMode) (int64, error)
}

// Notifier fire-and-forget notification to the BI-sync collaborator after a
// successful write.
type Notifier interface {
	Notify(ctx context.Context, targetTable string)
}

// Predictor the pluggable model behind the ai_fill_missing step. Train rows
// hold both feature columns and the (non-null) target column; the return
// slice carries one predicted value per predict row, in order.
type Predictor interface {
	FitPredict(ctx context.Context, trainRows, predictRows []map[string]interface{},
		targetColumn string, featureColumns []string, algorithm string, params map[string]interface{}) ([]interface{}, error)
}

// Sensitivity level assigned by a SensitivityClassifier.
type Sensitivity int

const (
	SensitivityLow Sensitivity = iota
	SensitivityMedium
	SensitivityHigh
	SensitivityCritical
)

// ParseSensitivity resolve a threshold name from step config.
func ParseSensitivity(name string) (Sensitivity, bool) {
	switch name {
	case "low":
		return SensitivityLow, true
	case "medium":
		return SensitivityMedium, true
	case "high":
		return SensitivityHigh, true
	case "critical":
		return SensitivityCritical, true
	}
	return SensitivityLow, false
}

// SensitivityClassifier the pluggable heuristic behind the auto_mask step.
type SensitivityClassifier interface {
	ClassifySensitivity(columnName string, samples []interface{}) Sensitivity
}

// ConnectorResolver resolves a registered source id to its connector. The
// join step uses it to read the secondary table.
type ConnectorResolver interface {
	Connector(sourceID string) (SourceConnector, error)
}

// ConnectorRegistry a plain map-backed ConnectorResolver.
type ConnectorRegistry map[string]SourceConnector

func (r ConnectorRegistry) Connector(sourceID string) (SourceConnector, error) {
	c, ok := r[sourceID]
	if !ok {
		return nil, NewEtlError(ErrCodeSource, "no connector registered for source:%v", sourceID)
	}
	return c, nil
}

package etl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/karlseguin/typed"
)

type maskStep struct{}

func init() {
	RegisterStep(&maskStep{})
	RegisterStep(&autoMaskStep{})
}

func (s *maskStep) Kind() StepKind {
	return StepMask
}

func (s *maskStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	column, err := cfgString(cfg, "column")
	if err != nil {
		return nil, err
	}
	if err := requireColumn(columns, column); err != nil {
		return nil, err
	}
	switch cfg.StringOr("strategy", "partial") {
	case "partial", "hash", "replace":
	default:
		return nil, NewEtlError(ErrCodeConfig, "unknown mask strategy:%v", cfg.String("strategy"))
	}
	return columns, nil
}

func (s *maskStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	col, err := batch.Column(cfg.String("column"))
	if err != nil {
		return nil, err
	}
	masked := maskColumn(col, maskSettings{
		strategy:    cfg.StringOr("strategy", "partial"),
		keepFirst:   cfg.IntOr("keep_first", 1),
		keepLast:    cfg.IntOr("keep_last", 1),
		maskChar:    cfg.StringOr("mask_char", "*"),
		replacement: cfg.StringOr("replacement", "***"),
	})
	return batch.WithColumn(masked)
}

type maskSettings struct {
	strategy    string
	keepFirst   int
	keepLast    int
	maskChar    string
	replacement string
}

// maskColumn irreversibly obscure a column's string representation. Null
// cells pass through unmasked.
func maskColumn(col *Column, ms maskSettings) *Column {
	values := make([]interface{}, len(col.Values))
	for i, cell := range col.Values {
		if cell == nil {
			continue
		}
		values[i] = maskValue(valueString(cell), ms)
	}
	return &Column{Name: col.Name, Type: TypeString, Values: values}
}

func maskValue(s string, ms maskSettings) string {
	switch ms.strategy {
	case "hash":
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:16])
	case "replace":
		return ms.replacement
	default:
		runes := []rune(s)
		first, last := ms.keepFirst, ms.keepLast
		if first < 0 {
			first = 0
		}
		if last < 0 {
			last = 0
		}
		if first+last >= len(runes) {
			// too short to keep anything, mask the whole value
			return strings.Repeat(ms.maskChar, len(runes))
		}
		return string(runes[:first]) + strings.Repeat(ms.maskChar, len(runes)-first-last) + string(runes[len(runes)-last:])
	}
}

type autoMaskStep struct{}

func (s *autoMaskStep) Kind() StepKind {
	return StepAutoMask
}

func (s *autoMaskStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	threshold := cfg.StringOr("threshold", "high")
	if _, ok := ParseSensitivity(threshold); !ok {
		return nil, NewEtlError(ErrCodeConfig, "unknown sensitivity threshold:%v", threshold)
	}
	for _, skip := range cfgStrings(cfg, "skip_columns") {
		if err := requireColumn(columns, skip); err != nil {
			return nil, err
		}
	}
	switch cfg.StringOr("strategy", "partial") {
	case "partial", "hash", "replace":
	default:
		return nil, NewEtlError(ErrCodeConfig, "unknown mask strategy:%v", cfg.String("strategy"))
	}
	return columns, nil
}

func (s *autoMaskStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, sc *StepContext) (*TabularBatch, error) {
	threshold, _ := ParseSensitivity(cfg.StringOr("threshold", "high"))
	skip := map[string]bool{}
	for _, name := range cfgStrings(cfg, "skip_columns") {
		skip[name] = true
	}
	classifier := sc.Classifier
	if classifier == nil {
		classifier = DefaultSensitivityClassifier()
	}
	ms := maskSettings{
		strategy:    cfg.StringOr("strategy", "partial"),
		keepFirst:   cfg.IntOr("keep_first", 1),
		keepLast:    cfg.IntOr("keep_last", 1),
		maskChar:    cfg.StringOr("mask_char", "*"),
		replacement: cfg.StringOr("replacement", "***"),
	}

	out := batch
	for _, col := range batch.Columns() {
		if skip[col.Name] {
			continue
		}
		samples := columnSamples(col, 20)
		if classifier.ClassifySensitivity(col.Name, samples) < threshold {
			continue
		}
		var err error
		if out, err = out.WithColumn(maskColumn(col, ms)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func columnSamples(col *Column, n int) []interface{} {
	samples := make([]interface{}, 0, n)
	for _, v := range col.Values {
		if v == nil {
			continue
		}
		samples = append(samples, v)
		if len(samples) == n {
			break
		}
	}
	return samples
}

package etl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/karlseguin/typed"
)

type deduplicateStep struct{}

func init() {
	RegisterStep(&deduplicateStep{})
}

func (s *deduplicateStep) Kind() StepKind {
	return StepDeduplicate
}

func (s *deduplicateStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	for _, c := range cfgStrings(cfg, "columns") {
		if err := requireColumn(columns, c); err != nil {
			return nil, err
		}
	}
	switch cfg.StringOr("keep", "first") {
	case "first", "last":
	default:
		return nil, NewEtlError(ErrCodeConfig, "deduplicate keep must be first or last, got:%v", cfg.String("keep"))
	}
	return columns, nil
}

func (s *deduplicateStep) Apply(_ context.Context, batch *TabularBatch, cfg typed.Typed, _ *StepContext) (*TabularBatch, error) {
	keyColumns := cfgStrings(cfg, "columns")
	if len(keyColumns) == 0 {
		keyColumns = batch.ColumnNames()
	}
	keep := cfg.StringOr("keep", "first")

	cols := make([]*Column, len(keyColumns))
	for i, name := range keyColumns {
		col, err := batch.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	// last occurrence wins by overwriting the index; kept rows are then
	// emitted in their original positions
	chosen := make(map[string]int, batch.RowCount())
	for i := 0; i < batch.RowCount(); i++ {
		key := groupKey(cols, i)
		if _, seen := chosen[key]; !seen || keep == "last" {
			chosen[key] = i
		}
	}

	indices := make([]int, 0, len(chosen))
	for _, i := range chosen {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return batch.SelectRows(indices), nil
}

// groupKey a printable composite key over the given columns at row i. Nulls
// get a marker distinct from any real value.
func groupKey(cols []*Column, i int) string {
	parts := make([]string, len(cols))
	for n, col := range cols {
		cell := col.Values[i]
		if cell == nil {
			parts[n] = "\x00null"
		} else {
			parts[n] = fmt.Sprintf("%T:%v", cell, cell)
		}
	}
	return strings.Join(parts, "\x1f")
}

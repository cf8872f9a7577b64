package etl

import (
	"context"

	"github.com/karlseguin/typed"
	"github.com/samber/lo"
)

var joinTypes = []string{"left", "right", "inner", "outer"}

type joinStep struct{}

func init() {
	RegisterStep(&joinStep{})
}

func (s *joinStep) Kind() StepKind {
	return StepJoin
}

// Validate checks everything knowable without the secondary table. The right
// side's column set is only visible once it is read, so the propagated schema
// becomes unknown downstream of a join.
func (s *joinStep) Validate(columns []string, cfg typed.Typed) ([]string, error) {
	if _, err := cfgString(cfg, "source_id"); err != nil {
		return nil, err
	}
	if _, err := cfgString(cfg, "table"); err != nil {
		return nil, err
	}
	on := cfgStrings(cfg, "on")
	if len(on) == 0 {
		return nil, NewEtlError(ErrCodeConfig, "join requires key columns")
	}
	for _, key := range on {
		if err := requireColumn(columns, key); err != nil {
			return nil, err
		}
	}
	if !lo.Contains(joinTypes, cfg.StringOr("join_type", "inner")) {
		return nil, NewEtlError(ErrCodeConfig, "unknown join type:%v", cfg.String("join_type"))
	}
	return nil, nil
}

func (s *joinStep) Apply(ctx context.Context, batch *TabularBatch, cfg typed.Typed, sc *StepContext) (*TabularBatch, error) {
	if sc.Connectors == nil {
		return nil, NewEtlError(ErrCodeConfig, "join step requires a connector registry")
	}
	connector, err := sc.Connectors.Connector(cfg.String("source_id"))
	if err != nil {
		return nil, err
	}
	right, err := connector.Read(ctx, cfg.String("table"), nil)
	if err != nil {
		return nil, err
	}

	on := cfgStrings(cfg, "on")
	joinType := cfg.StringOr("join_type", "inner")
	suffix := cfg.StringOr("suffix", "_right")

	leftKeys := make([]*Column, len(on))
	rightKeys := make([]*Column, len(on))
	for i, key := range on {
		if leftKeys[i], err = batch.Column(key); err != nil {
			return nil, err
		}
		if rightKeys[i], err = right.Column(key); err != nil {
			return nil, NewEtlError(ErrCodeConfig, "join key:%v not found in table:%v", key, cfg.String("table"))
		}
	}

	// right-side payload columns, dropping the keys; duplicate names between
	// the two sides get a suffix to stay unambiguous
	rightPayload := lo.Filter(right.Columns(), func(c *Column, _ int) bool {
		return !lo.Contains(on, c.Name)
	})
	names := append([]string{}, batch.ColumnNames()...)
	for _, col := range rightPayload {
		name := col.Name
		if lo.Contains(names, name) {
			name += suffix
		}
		names = append(names, name)
	}

	// hash the right side by key; null keys never match
	rightIndex := map[string][]int{}
	for i := 0; i < right.RowCount(); i++ {
		if keyHasNull(rightKeys, i) {
			continue
		}
		key := groupKey(rightKeys, i)
		rightIndex[key] = append(rightIndex[key], i)
	}

	var rows [][]interface{}
	if joinType == "right" {
		leftIndex := map[string][]int{}
		for li := 0; li < batch.RowCount(); li++ {
			if keyHasNull(leftKeys, li) {
				continue
			}
			key := groupKey(leftKeys, li)
			leftIndex[key] = append(leftIndex[key], li)
		}
		for ri := 0; ri < right.RowCount(); ri++ {
			var matches []int
			if !keyHasNull(rightKeys, ri) {
				matches = leftIndex[groupKey(rightKeys, ri)]
			}
			if len(matches) == 0 {
				rows = append(rows, unmatchedRightRow(batch, on, right, rightPayload, ri))
				continue
			}
			for _, li := range matches {
				rows = append(rows, joinedRow(batch, li, rightPayload, ri))
			}
		}
		return BatchFromRows(names, rows)
	}

	matchedRight := make([]bool, right.RowCount())
	for li := 0; li < batch.RowCount(); li++ {
		var matches []int
		if !keyHasNull(leftKeys, li) {
			matches = rightIndex[groupKey(leftKeys, li)]
		}
		if len(matches) == 0 {
			if joinType == "left" || joinType == "outer" {
				rows = append(rows, joinedRow(batch, li, rightPayload, -1))
			}
			continue
		}
		for _, ri := range matches {
			matchedRight[ri] = true
			rows = append(rows, joinedRow(batch, li, rightPayload, ri))
		}
	}
	if joinType == "outer" {
		for ri := 0; ri < right.RowCount(); ri++ {
			if !matchedRight[ri] {
				rows = append(rows, unmatchedRightRow(batch, on, right, rightPayload, ri))
			}
		}
	}
	return BatchFromRows(names, rows)
}

func keyHasNull(keys []*Column, i int) bool {
	for _, col := range keys {
		if col.Values[i] == nil {
			return true
		}
	}
	return false
}

// joinedRow left row li plus right payload row ri; ri < 0 emits nulls for the
// right side.
func joinedRow(left *TabularBatch, li int, rightPayload []*Column, ri int) []interface{} {
	row := make([]interface{}, 0, len(left.Columns())+len(rightPayload))
	for _, col := range left.Columns() {
		row = append(row, col.Values[li])
	}
	for _, col := range rightPayload {
		if ri < 0 {
			row = append(row, nil)
		} else {
			row = append(row, col.Values[ri])
		}
	}
	return row
}

// unmatchedRightRow nulls for the left side except the key columns, which are
// taken from the right row so the key survives the join.
func unmatchedRightRow(left *TabularBatch, on []string, right *TabularBatch, rightPayload []*Column, ri int) []interface{} {
	row := make([]interface{}, 0, len(left.Columns())+len(rightPayload))
	for _, col := range left.Columns() {
		if lo.Contains(on, col.Name) {
			rightCol, _ := right.Column(col.Name)
			row = append(row, rightCol.Values[ri])
		} else {
			row = append(row, nil)
		}
	}
	for _, col := range rightPayload {
		row = append(row, col.Values[ri])
	}
	return row
}

package etl

import (
	"github.com/samber/lo"
)

// Column a named, homogeneous sequence of cells. A nil cell is a null.
type Column struct {
	Name   string
	Type   ColumnType
	Values []interface{}
}

// TabularBatch the in-memory table every step reads and writes. Column order
// is insertion order and is significant for output. Batches are treated as
// immutable: step executors return a new batch and leave the input intact.
type TabularBatch struct {
	columns []*Column
	index   map[string]int
}

// NewBatch build a batch from prepared columns. All columns must have the
// same length.
func NewBatch(columns []*Column) (*TabularBatch, error) {
	b := &TabularBatch{
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	rows := -1
	for i, col := range columns {
		if _, ok := b.index[col.Name]; ok {
			return nil, NewEtlError(ErrCodeConfig, "duplicate column name:%v", col.Name)
		}
		b.index[col.Name] = i
		if rows == -1 {
			rows = len(col.Values)
		} else if len(col.Values) != rows {
			return nil, NewEtlError(ErrCodeConfig, "column:%v has %v values, expected %v", col.Name, len(col.Values), rows)
		}
		if col.Type == "" {
			col.Type = inferColumnType(col.Values)
		}
	}
	return b, nil
}

// BatchFromRows build a batch from row-major data. Fails when any row has a
// differing cell count.
func BatchFromRows(names []string, rows [][]interface{}) (*TabularBatch, error) {
	columns := make([]*Column, len(names))
	for i, name := range names {
		columns[i] = &Column{Name: name, Values: make([]interface{}, 0, len(rows))}
	}
	for n, row := range rows {
		if len(row) != len(names) {
			return nil, NewEtlError(ErrCodeConfig, "row %v has %v cells, expected %v columns", n, len(row), len(names))
		}
		for i, cell := range row {
			columns[i].Values = append(columns[i].Values, normalizeValue(cell))
		}
	}
	return NewBatch(columns)
}

// EmptyBatch a batch with the given column names and zero rows.
func EmptyBatch(names []string) *TabularBatch {
	columns := lo.Map(names, func(name string, _ int) *Column {
		return &Column{Name: name, Type: TypeAny, Values: []interface{}{}}
	})
	b, _ := NewBatch(columns)
	return b
}

func inferColumnType(values []interface{}) ColumnType {
	t := TypeAny
	for _, v := range values {
		if v == nil {
			continue
		}
		vt := inferType(v)
		if t == TypeAny {
			t = vt
		} else if t != vt {
			if (t == TypeInt && vt == TypeFloat) || (t == TypeFloat && vt == TypeInt) {
				t = TypeFloat
			} else {
				return TypeAny
			}
		}
	}
	return t
}

// RowCount number of rows, uniform across columns.
func (b *TabularBatch) RowCount() int {
	if len(b.columns) == 0 {
		return 0
	}
	return len(b.columns[0].Values)
}

// ColumnNames column names in insertion order.
func (b *TabularBatch) ColumnNames() []string {
	return lo.Map(b.columns, func(c *Column, _ int) string { return c.Name })
}

// Columns the underlying columns, in order. Callers must not mutate them.
func (b *TabularBatch) Columns() []*Column {
	return b.columns
}

// HasColumn report whether the batch contains the named column.
func (b *TabularBatch) HasColumn(name string) bool {
	_, ok := b.index[name]
	return ok
}

// Column access a column by name.
func (b *TabularBatch) Column(name string) (*Column, error) {
	i, ok := b.index[name]
	if !ok {
		return nil, NewEtlError(ErrCodeConfig, "column not found:%v", name)
	}
	return b.columns[i], nil
}

// Row materialize row i as a name->value map.
func (b *TabularBatch) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(b.columns))
	for _, col := range b.columns {
		row[col.Name] = col.Values[i]
	}
	return row
}

// Rows materialize all rows, in order. Used by sinks and previews.
func (b *TabularBatch) Rows() []map[string]interface{} {
	rows := make([]map[string]interface{}, b.RowCount())
	for i := range rows {
		rows[i] = b.Row(i)
	}
	return rows
}

// SelectRows build a new batch holding the given row indices, in the given
// order. The source batch is left untouched.
func (b *TabularBatch) SelectRows(indices []int) *TabularBatch {
	columns := make([]*Column, len(b.columns))
	for ci, col := range b.columns {
		values := make([]interface{}, len(indices))
		for vi, ri := range indices {
			values[vi] = col.Values[ri]
		}
		columns[ci] = &Column{Name: col.Name, Type: col.Type, Values: values}
	}
	out, _ := NewBatch(columns)
	return out
}

// Head the first n rows as a new batch.
func (b *TabularBatch) Head(n int) *TabularBatch {
	if n >= b.RowCount() {
		n = b.RowCount()
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return b.SelectRows(indices)
}

// WithColumn a new batch with the given column replaced or appended.
func (b *TabularBatch) WithColumn(col *Column) (*TabularBatch, error) {
	columns := make([]*Column, len(b.columns))
	copy(columns, b.columns)
	if i, ok := b.index[col.Name]; ok {
		columns[i] = col
	} else {
		columns = append(columns, col)
	}
	return NewBatch(columns)
}

// WithoutColumns a new batch with the named columns removed.
func (b *TabularBatch) WithoutColumns(names ...string) *TabularBatch {
	drop := lo.SliceToMap(names, func(n string) (string, struct{}) { return n, struct{}{} })
	columns := lo.Filter(b.columns, func(c *Column, _ int) bool {
		_, gone := drop[c.Name]
		return !gone
	})
	out, _ := NewBatch(columns)
	return out
}

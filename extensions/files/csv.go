package files

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/dataplat/etl"
)

// NewCSVConnector build a SourceConnector that reads CSV files from a store.
// The table reference is the file name; the first record is the header.
func NewCSVConnector(store FileStore) etl.SourceConnector {
	return &csvConnector{store: store}
}

type csvConnector struct {
	store FileStore
}

func (c *csvConnector) Columns(_ context.Context, fileName string) ([]string, error) {
	r, err := c.store.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	header, err := csv.NewReader(r).Read()
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "read csv header of %v err", fileName, err)
	}
	return header, nil
}

// Read parses the whole file. CSV has no server-side filtering, so the
// watermark is applied after parsing.
func (c *csvConnector) Read(_ context.Context, fileName string, watermark *etl.Watermark) (*etl.TabularBatch, error) {
	r, err := c.store.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "read csv file:%v err", fileName, err)
	}
	if len(records) == 0 {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "csv file:%v has no header", fileName)
	}
	header := records[0]
	watermarkIdx := -1
	if watermark != nil && watermark.Value != nil {
		for i, name := range header {
			if name == watermark.Field {
				watermarkIdx = i
				break
			}
		}
	}
	rows := make([][]interface{}, 0, len(records)-1)
	for _, record := range records[1:] {
		cells := make([]interface{}, len(record))
		for i, field := range record {
			cells[i] = parseCell(field)
		}
		if watermarkIdx >= 0 && !aboveWatermark(cells[watermarkIdx], watermark) {
			continue
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return etl.EmptyBatch(header), nil
	}
	return etl.BatchFromRows(header, rows)
}

// parseCell give CSV fields real types where the text allows it.
func parseCell(field string) interface{} {
	if field == "" {
		return nil
	}
	if i, err := strconv.ParseInt(field, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		return f
	}
	if field == "true" || field == "false" {
		return field == "true"
	}
	if t, err := time.Parse(etl.DefaultTimeLayout, field); err == nil {
		return t
	}
	return field
}

func aboveWatermark(cell interface{}, watermark *etl.Watermark) bool {
	if cell == nil {
		return false
	}
	if watermark.Type == etl.WatermarkTimestamp {
		ct, ok := cell.(time.Time)
		wt, wok := watermark.Value.(time.Time)
		return ok && wok && ct.After(wt)
	}
	cf, ok := asFloat(cell)
	wf, wok := asFloat(watermark.Value)
	return ok && wok && cf > wf
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	}
	return 0, false
}

// NewCSVWriter build a SinkWriter that writes batches as CSV files. Replace
// rewrites the file; append rewrites it with the old rows kept in front.
func NewCSVWriter(store FileStore) etl.SinkWriter {
	return &csvWriter{store: store}
}

type csvWriter struct {
	store FileStore
}

func (w *csvWriter) Write(ctx context.Context, fileName string, batch *etl.TabularBatch, mode etl.WriteMode) (int64, error) {
	var existing [][]string
	if mode == etl.WriteAppend {
		if r, err := w.store.Open(fileName); err == nil {
			records, rerr := csv.NewReader(r).ReadAll()
			_ = r.Close()
			if rerr != nil {
				return 0, etl.NewEtlError(etl.ErrCodeSink, "read csv file:%v err", fileName, rerr)
			}
			if len(records) > 0 {
				existing = records[1:]
			}
		}
	}
	out, err := w.store.Create(fileName)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(out)
	names := batch.ColumnNames()
	if err = cw.Write(names); err != nil {
		_ = out.Close()
		return 0, etl.NewEtlError(etl.ErrCodeSink, "write csv file:%v err", fileName, err)
	}
	for _, record := range existing {
		if err = cw.Write(record); err != nil {
			_ = out.Close()
			return 0, etl.NewEtlError(etl.ErrCodeSink, "write csv file:%v err", fileName, err)
		}
	}
	columns := batch.Columns()
	for i := 0; i < batch.RowCount(); i++ {
		record := make([]string, len(columns))
		for ci, col := range columns {
			record[ci] = formatCell(col.Values[i])
		}
		if err = cw.Write(record); err != nil {
			_ = out.Close()
			return 0, etl.NewEtlError(etl.ErrCodeSink, "write csv file:%v err", fileName, err)
		}
	}
	cw.Flush()
	if err = cw.Error(); err != nil {
		_ = out.Close()
		return 0, etl.NewEtlError(etl.ErrCodeSink, "write csv file:%v err", fileName, err)
	}
	if err = out.Close(); err != nil {
		return 0, etl.NewEtlError(etl.ErrCodeSink, "close csv file:%v err", fileName, err)
	}
	return int64(batch.RowCount()), nil
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format(etl.DefaultTimeLayout)
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return val
	}
	return fmt.Sprintf("%v", v)
}

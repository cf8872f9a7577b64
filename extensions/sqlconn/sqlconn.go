// Package sqlconn provides a SourceConnector and SinkWriter over database/sql.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dataplat/etl"
)

const insertChunkSize = 500

// Open a database handle by driver name and DSN. The mysql driver ships
// registered.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "open database failed, err:%v", err)
	}
	return db, nil
}

// NewConnector build a SourceConnector over an open database handle.
func NewConnector(db *sql.DB) etl.SourceConnector {
	return &connector{db: db}
}

type connector struct {
	db *sql.DB
}

// isQuery a source reference containing whitespace is treated as SQL, a bare
// identifier as a table name.
func isQuery(tableOrQuery string) bool {
	return strings.ContainsAny(strings.TrimSpace(tableOrQuery), " \t\n")
}

func selectAll(tableOrQuery string) string {
	if isQuery(tableOrQuery) {
		return fmt.Sprintf("SELECT * FROM (%s) AS src", strings.TrimRight(strings.TrimSpace(tableOrQuery), ";"))
	}
	return fmt.Sprintf("SELECT * FROM %s", tableOrQuery)
}

func (c *connector) Columns(ctx context.Context, tableOrQuery string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, selectAll(tableOrQuery)+" LIMIT 0")
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "probe columns of %v failed, err:%v", tableOrQuery, err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "probe columns of %v failed, err:%v", tableOrQuery, err)
	}
	return columns, nil
}

// Read pushes the watermark down as a WHERE clause so only rows above the
// cursor travel over the wire.
func (c *connector) Read(ctx context.Context, tableOrQuery string, watermark *etl.Watermark) (*etl.TabularBatch, error) {
	query := selectAll(tableOrQuery)
	var args []interface{}
	if watermark != nil && watermark.Value != nil {
		query += fmt.Sprintf(" WHERE %s > ?", watermark.Field)
		args = append(args, watermark.Value)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "read %v failed, err:%v", tableOrQuery, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "read %v failed, err:%v", tableOrQuery, err)
	}
	var data [][]interface{}
	for rows.Next() {
		cells := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err = rows.Scan(dest...); err != nil {
			return nil, etl.NewEtlError(etl.ErrCodeSource, "scan row of %v failed, err:%v", tableOrQuery, err)
		}
		data = append(data, cells)
	}
	if err = rows.Err(); err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "read %v failed, err:%v", tableOrQuery, err)
	}
	if len(data) == 0 {
		return etl.EmptyBatch(columns), nil
	}
	return etl.BatchFromRows(columns, data)
}

// NewWriter build a SinkWriter over an open database handle. Replace-mode
// writes clear and refill the target inside one transaction.
func NewWriter(db *sql.DB, tm etl.TransactionManager) etl.SinkWriter {
	return &writer{db: db, tm: tm}
}

type writer struct {
	db *sql.DB
	tm etl.TransactionManager
}

func (w *writer) Write(ctx context.Context, targetTable string, batch *etl.TabularBatch, mode etl.WriteMode) (int64, error) {
	tx, err := w.tm.BeginTx()
	if err != nil {
		return 0, err
	}
	sqlTx := tx.(*sql.Tx)
	if mode == etl.WriteReplace {
		if _, derr := sqlTx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", targetTable)); derr != nil {
			_ = w.tm.Rollback(tx)
			return 0, etl.NewEtlError(etl.ErrCodeSink, "clear target:%v failed, err:%v", targetTable, derr)
		}
	}
	written, werr := insertBatch(ctx, sqlTx, targetTable, batch)
	if werr != nil {
		_ = w.tm.Rollback(tx)
		return 0, werr
	}
	if err = w.tm.Commit(tx); err != nil {
		return 0, err
	}
	return written, nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, targetTable string, batch *etl.TabularBatch) (int64, error) {
	names := batch.ColumnNames()
	if len(names) == 0 || batch.RowCount() == 0 {
		return 0, nil
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(names)), ",") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", targetTable, strings.Join(names, ", "))
	columns := batch.Columns()

	var written int64
	for start := 0; start < batch.RowCount(); start += insertChunkSize {
		end := start + insertChunkSize
		if end > batch.RowCount() {
			end = batch.RowCount()
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*len(names))
		for i := start; i < end; i++ {
			values = append(values, placeholders)
			for _, col := range columns {
				args = append(args, col.Values[i])
			}
		}
		result, err := tx.ExecContext(ctx, prefix+strings.Join(values, ", "), args...)
		if err != nil {
			return 0, etl.NewEtlError(etl.ErrCodeSink, "insert into target:%v failed, err:%v", targetTable, err)
		}
		count, _ := result.RowsAffected()
		written += count
	}
	return written, nil
}

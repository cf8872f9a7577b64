package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CollectionRunner executes raw data-collection tasks: full sync replaces the
// target wholesale, incremental sync appends only rows above the stored
// watermark and advances it after a fully successful write.
type CollectionRunner struct {
	repository Repository
	connectors ConnectorRegistry
	sink       SinkWriter
	registry   *runRegistry
}

// ValidateCollectionTask structural checks on a task definition.
func ValidateCollectionTask(t *CollectionTask) error {
	if t.SourceID == "" || (t.Table == "" && t.Query == "") {
		return NewEtlError(ErrCodeConfig, "collection task requires a source id and a table or query")
	}
	if t.TargetTable == "" {
		return NewEtlError(ErrCodeConfig, "collection task requires a target table")
	}
	if t.Incremental && t.IncrementalField == "" {
		return NewEtlError(ErrCodeConfig, "incremental collection task requires an incremental field")
	}
	return nil
}

// Run execute one collection. forceFullSync makes an incremental task re-read
// everything and replace the target, without touching the stored cursor
// semantics: a forced full run still advances the watermark on success.
func (r *CollectionRunner) Run(ctx context.Context, task *CollectionTask, forceFullSync bool) (*ExecutionRecord, error) {
	if r.sink == nil {
		return nil, NewEtlError(ErrCodeConfig, "no sink writer configured")
	}
	rec := &ExecutionRecord{
		ID:          uuid.NewString(),
		OwnerID:     task.ID,
		OwnerType:   OwnerTask,
		Status:      ExecutionPending,
		StartedAt:   time.Now(),
		StepMetrics: map[string]*StepMetric{},
	}
	_, acquired := r.registry.TryAcquire(task.ID, rec.ID)
	if !acquired {
		return nil, NewEtlError(ErrCodeConcurrency, "task:%v already has a running execution", task.ID)
	}
	defer r.registry.Release(task.ID)

	if err := r.repository.SaveExecution(rec); err != nil {
		return nil, err
	}
	rec.Status = ExecutionRunning
	if err := r.repository.SaveExecution(rec); err != nil {
		return nil, err
	}

	now := time.Now()
	task.LastRunAt = &now
	runErr := r.collect(ctx, task, rec, forceFullSync)
	if runErr != nil {
		rec.Status = ExecutionFailed
		rec.ErrorMessage = runErr.Error()
		task.LastError = runErr.Error()
	} else {
		rec.Status = ExecutionSuccess
		task.LastSuccessAt = &now
		task.LastError = ""
	}
	if err := r.repository.SaveExecution(rec); err != nil {
		DefaultLogger.Error(ctx, "finalize execution:%v failed, err:%v", rec.ID, err)
	}
	if err := r.repository.SaveTask(task); err != nil {
		DefaultLogger.Error(ctx, "update task:%v after run failed, err:%v", task.ID, err)
	}
	if runErr != nil {
		return rec, runErr
	}
	return rec, nil
}

func (r *CollectionRunner) collect(ctx context.Context, task *CollectionTask, rec *ExecutionRecord, forceFullSync bool) error {
	if err := ValidateCollectionTask(task); err != nil {
		return err
	}
	connector, err := r.connectors.Connector(task.SourceID)
	if err != nil {
		return err
	}

	incremental := task.Incremental && !forceFullSync
	var watermark *Watermark
	if incremental {
		cursor, err := r.repository.FindCursor(task.ID)
		if err != nil {
			return err
		}
		if cursor != nil {
			watermark = &Watermark{Field: cursor.Field, Type: cursor.Type, Value: cursor.Value}
		} else {
			// first incremental run reads everything, then sets the cursor
			watermark = &Watermark{Field: task.IncrementalField}
		}
	}

	ref := task.Table
	if task.Query != "" {
		ref = task.Query
	}
	batch, err := connector.Read(ctx, ref, watermark)
	if err != nil {
		return NewEtlError(ErrCodeSource, "read source:%v failed", task.SourceID, err)
	}
	rec.RowsInput = int64(batch.RowCount())

	mode := WriteReplace
	if incremental {
		mode = WriteAppend
	}
	rows, err := r.sink.Write(ctx, task.TargetTable, batch, mode)
	if err != nil {
		// the watermark is not advanced, the next run re-extracts these rows
		rec.RowsOutput = 0
		return NewEtlError(ErrCodeSink, "write to target:%v failed", task.TargetTable, err)
	}
	rec.RowsOutput = rows

	if task.Incremental && batch.RowCount() > 0 {
		if err := r.advanceCursor(task, batch); err != nil {
			return err
		}
	}
	return nil
}

// advanceCursor store the max observed incremental-field value. Only called
// after a fully successful write, so the watermark is monotonic and a failed
// run never moves it.
func (r *CollectionRunner) advanceCursor(task *CollectionTask, batch *TabularBatch) error {
	col, err := batch.Column(task.IncrementalField)
	if err != nil {
		return NewEtlError(ErrCodeConfig, "incremental field:%v not present in extracted rows", task.IncrementalField)
	}
	var max interface{}
	for _, v := range col.Values {
		if v == nil {
			continue
		}
		if max == nil {
			max = v
			continue
		}
		if c, ok := compareValues(v, max); ok && c > 0 {
			max = v
		}
	}
	if max == nil {
		return nil
	}
	wtype := WatermarkNumeric
	if _, ok := max.(time.Time); ok {
		wtype = WatermarkTimestamp
	}
	return r.repository.SaveCursor(&IncrementalCursor{
		TaskID: task.ID,
		Field:  task.IncrementalField,
		Type:   wtype,
		Value:  max,
	})
}

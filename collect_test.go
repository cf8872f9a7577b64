package etl

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func collectFixture(t *testing.T) (*CollectionRunner, *fakeSink, *CollectionTask) {
	ts := func(day int) time.Time {
		return time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC)
	}
	batch, err := NewBatch([]*Column{
		{Name: "id", Values: []interface{}{int64(1), int64(2), int64(3)}},
		{Name: "updated_at", Values: []interface{}{ts(1), ts(2), ts(3)}},
	})
	assert.Equal(t, nil, err)
	sink := &fakeSink{}
	task := &CollectionTask{
		ID:               "t1",
		Name:             "orders-raw",
		SourceID:         "src",
		Table:            "orders",
		TargetTable:      "raw_orders",
		Incremental:      true,
		IncrementalField: "updated_at",
		IsActive:         true,
	}
	repo := NewMemoryRepository()
	assert.Equal(t, nil, repo.SaveTask(task))
	runner := &CollectionRunner{
		repository: repo,
		connectors: ConnectorRegistry{"src": &fakeConnector{batch: batch}},
		sink:       sink,
		registry:   newRunRegistry(),
	}
	return runner, sink, task
}

func TestCollectFirstIncrementalRunSetsCursor(t *testing.T) {
	runner, sink, task := collectFixture(t)
	rec, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, ExecutionSuccess, rec.Status)
	assert.Equal(t, int64(3), rec.RowsInput)
	assert.Equal(t, WriteAppend, sink.lastMode)
	assert.Equal(t, "raw_orders", sink.lastTable)

	cursor, cerr := runner.repository.FindCursor("t1")
	assert.Equal(t, nil, cerr)
	assert.Equal(t, "updated_at", cursor.Field)
	assert.Equal(t, WatermarkTimestamp, cursor.Type)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), cursor.Value)
}

func TestCollectSecondRunReadsAboveWatermark(t *testing.T) {
	runner, sink, task := collectFixture(t)
	_, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, nil, err)

	rec, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, nil, err)
	// everything is at or below the stored watermark now
	assert.Equal(t, int64(0), rec.RowsInput)
	assert.Equal(t, 0, sink.lastBatch.RowCount())

	// cursor untouched by the empty run
	cursor, _ := runner.repository.FindCursor("t1")
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), cursor.Value)
}

func TestCollectForceFullSyncReplacesAndAdvances(t *testing.T) {
	runner, sink, task := collectFixture(t)
	_, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, nil, err)

	rec, err := runner.Run(context.Background(), task, true)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(3), rec.RowsInput)
	assert.Equal(t, WriteReplace, sink.lastMode)

	cursor, _ := runner.repository.FindCursor("t1")
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), cursor.Value)
}

func TestCollectNonIncrementalAlwaysReplaces(t *testing.T) {
	runner, sink, task := collectFixture(t)
	task.Incremental = false
	task.IncrementalField = ""

	rec, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(3), rec.RowsInput)
	assert.Equal(t, WriteReplace, sink.lastMode)

	cursor, _ := runner.repository.FindCursor("t1")
	assert.Equal(t, (*IncrementalCursor)(nil), cursor)
}

func TestCollectFailedWriteLeavesCursor(t *testing.T) {
	runner, sink, task := collectFixture(t)
	sink.err = NewEtlError(ErrCodeSink, "target unavailable")

	rec, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, ErrCodeSink, ErrCode(err))
	assert.Equal(t, ExecutionFailed, rec.Status)
	assert.Equal(t, int64(0), rec.RowsOutput)

	cursor, _ := runner.repository.FindCursor("t1")
	assert.Equal(t, (*IncrementalCursor)(nil), cursor)

	// failed run re-extracts everything after the fault clears
	sink.err = nil
	rec, err = runner.Run(context.Background(), task, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(3), rec.RowsInput)
}

func TestCollectMaintainsTaskRunTimes(t *testing.T) {
	runner, sink, task := collectFixture(t)
	_, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, nil, err)

	saved, terr := runner.repository.FindTask("t1")
	assert.Equal(t, nil, terr)
	if saved.LastRunAt == nil || saved.LastSuccessAt == nil {
		t.Fatal("successful run must record both run and success times")
	}
	assert.Equal(t, "", saved.LastError)

	sink.err = NewEtlError(ErrCodeSink, "target unavailable")
	_, err = runner.Run(context.Background(), task, false)
	assert.NotEqual(t, nil, err)

	saved, _ = runner.repository.FindTask("t1")
	assert.Equal(t, true, len(saved.LastError) > 0)
	// success time stays at the last good run
	assert.Equal(t, false, saved.LastSuccessAt.Equal(*saved.LastRunAt))
}

func TestCollectMutualExclusion(t *testing.T) {
	runner, _, task := collectFixture(t)
	_, acquired := runner.registry.TryAcquire("t1", "other")
	assert.Equal(t, true, acquired)
	defer runner.registry.Release("t1")

	_, err := runner.Run(context.Background(), task, false)
	assert.Equal(t, ErrCodeConcurrency, ErrCode(err))
}

func TestValidateCollectionTask(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*CollectionTask)
		ok   bool
	}{
		{"complete", func(t *CollectionTask) {}, true},
		{"query instead of table", func(t *CollectionTask) { t.Table = ""; t.Query = "SELECT 1" }, true},
		{"no source", func(t *CollectionTask) { t.SourceID = "" }, false},
		{"no table or query", func(t *CollectionTask) { t.Table = "" }, false},
		{"no target", func(t *CollectionTask) { t.TargetTable = "" }, false},
		{"incremental without field", func(t *CollectionTask) { t.IncrementalField = "" }, false},
	}
	for _, c := range cases {
		task := &CollectionTask{
			SourceID: "src", Table: "orders", TargetTable: "raw_orders",
			Incremental: true, IncrementalField: "updated_at",
		}
		c.mut(task)
		err := ValidateCollectionTask(task)
		if c.ok {
			assert.Equalf(t, nil, err, "case:%v", c.name)
		} else {
			assert.Equalf(t, ErrCodeConfig, ErrCode(err), "case:%v", c.name)
		}
	}
}

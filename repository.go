package etl

import (
	"time"
)

// Repository persistence boundary for pipeline definitions, collection tasks,
// execution history, schedule entries and incremental cursors. All records
// are keyed by UUID. Execution history is append-only: implementations must
// reject updates to records that already reached a terminal status.
type Repository interface {
	SavePipeline(p *PipelineDefinition) EtlError
	FindPipeline(id string) (*PipelineDefinition, EtlError)
	ListPipelines() ([]*PipelineDefinition, EtlError)
	DeletePipeline(id string) EtlError

	SaveTask(t *CollectionTask) EtlError
	FindTask(id string) (*CollectionTask, EtlError)
	ListTasks() ([]*CollectionTask, EtlError)
	DeleteTask(id string) EtlError

	SaveExecution(rec *ExecutionRecord) EtlError
	FindExecution(id string) (*ExecutionRecord, EtlError)
	// FindExecutionsByOwner newest first, offset/limit paginated.
	FindExecutionsByOwner(ownerID string, offset, limit int) ([]*ExecutionRecord, EtlError)
	// CountRunningByOwner used to assert the mutual-exclusion invariant.
	CountRunningByOwner(ownerID string) (int, EtlError)

	SaveSchedule(e *ScheduleEntry) EtlError
	FindScheduleByOwner(ownerID string) (*ScheduleEntry, EtlError)
	ListSchedules() ([]*ScheduleEntry, EtlError)
	DeleteScheduleByOwner(ownerID string) EtlError

	SaveCursor(c *IncrementalCursor) EtlError
	FindCursor(taskID string) (*IncrementalCursor, EtlError)
	DeleteCursor(taskID string) EtlError
}

// terminalGuard shared check for recorder implementations.
func terminalGuard(existing *ExecutionRecord) EtlError {
	if existing != nil && existing.Status.IsTerminal() {
		return NewEtlError(ErrCodeDbFail, "execution record:%v is terminal and can not be modified", existing.ID)
	}
	return nil
}

// touchCompletion maintain the completed_at iff terminal invariant before a
// record is persisted.
func touchCompletion(rec *ExecutionRecord) {
	if rec.Status.IsTerminal() {
		if rec.CompletedAt == nil {
			now := time.Now()
			rec.CompletedAt = &now
		}
	} else {
		rec.CompletedAt = nil
	}
}

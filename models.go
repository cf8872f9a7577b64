package etl

import (
	"time"

	"github.com/karlseguin/typed"
)

// PipelineStatus lifecycle state of a pipeline definition
type PipelineStatus string

const (
	PipelineDraft    PipelineStatus = "draft"
	PipelineActive   PipelineStatus = "active"
	PipelinePaused   PipelineStatus = "paused"
	PipelineArchived PipelineStatus = "archived"
)

// ExecutionStatus state machine of one run: pending -> running -> terminal
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal report whether the status permits no further transition.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed || s == ExecutionCancelled
}

// WriteMode how the sink applies the output batch
type WriteMode string

const (
	WriteReplace WriteMode = "replace"
	WriteAppend  WriteMode = "append"
)

// OwnerType discriminates what an execution or schedule belongs to
type OwnerType string

const (
	OwnerPipeline OwnerType = "pipeline"
	OwnerTask     OwnerType = "task"
)

// SourceDescriptor where a pipeline reads from. Either Table or Query is set.
type SourceDescriptor struct {
	SourceID string
	Table    string
	Query    string
}

// TargetDescriptor where a pipeline writes to.
type TargetDescriptor struct {
	Table    string
	Mode     WriteMode
	SyncToBI bool
}

// StepConfig one configured transform unit inside a pipeline. Kind selects
// the executor and Config carries the kind-specific settings as a dynamic
// typed map.
type StepConfig struct {
	ID        string
	Name      string
	Kind      StepKind
	Order     int
	IsEnabled bool
	Config    typed.Typed
}

// PipelineDefinition a user-authored ordered list of transform steps bound to
// a source and a target. Step order values must form a dense unique ascending
// sequence.
type PipelineDefinition struct {
	ID        string
	Name      string
	Status    PipelineStatus
	Source    SourceDescriptor
	Target    TargetDescriptor
	Steps     []StepConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnabledSteps the steps that participate in execution, in ascending order.
func (p *PipelineDefinition) EnabledSteps() []StepConfig {
	steps := make([]StepConfig, 0, len(p.Steps))
	for _, s := range p.Steps {
		if s.IsEnabled {
			steps = append(steps, s)
		}
	}
	return steps
}

// StepMetric per-step counters recorded during a run
type StepMetric struct {
	RowsBefore       int64         `json:"rows_before"`
	RowsAfter        int64         `json:"rows_after"`
	Duration         time.Duration `json:"duration"`
	CoercionFailures int64         `json:"coercion_failures,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
}

// ExecutionRecord one row of execution history. Append-only: once the status
// is terminal the record is never mutated again.
type ExecutionRecord struct {
	ID           string
	OwnerID      string
	OwnerType    OwnerType
	Status       ExecutionStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	RowsInput    int64
	RowsOutput   int64
	RowsError    int64
	StepMetrics  map[string]*StepMetric
	ErrorMessage string
}

// CollectionTask a raw data-collection job: copy a source table/query into a
// target table, either wholesale or incrementally above a watermark.
type CollectionTask struct {
	ID               string
	Name             string
	SourceID         string
	Table            string
	Query            string
	TargetTable      string
	Incremental      bool
	IncrementalField string
	Schedule         string
	IsActive         bool
	LastRunAt        *time.Time
	LastSuccessAt    *time.Time
	LastError        string
}

// ScheduleEntry a recurring trigger bound to a pipeline or collection task.
type ScheduleEntry struct {
	ID          string
	OwnerID     string
	OwnerType   OwnerType
	Cron        string
	NextRunTime time.Time
	IsActive    bool
}

// WatermarkType value domain of an incremental field
type WatermarkType string

const (
	WatermarkNumeric   WatermarkType = "numeric"
	WatermarkTimestamp WatermarkType = "timestamp"
)

// IncrementalCursor the last-synced watermark of a collection task. Advanced
// only after a fully successful run, never rolled back on failure.
type IncrementalCursor struct {
	TaskID    string
	Field     string
	Type      WatermarkType
	Value     interface{}
	UpdatedAt time.Time
}

// Watermark the extraction bound handed to a source connector.
type Watermark struct {
	Field string
	Type  WatermarkType
	Value interface{}
}

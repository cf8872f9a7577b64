package etl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// RunnerConfig deployment-level execution settings. The data error budget is
// deliberately per deployment, not per pipeline.
type RunnerConfig struct {
	// DataErrorBudget max tolerated row-level data errors per run before the
	// run is marked failed.
	DataErrorBudget int64
	// PreviewRowLimit hard cap on preview sample size.
	PreviewRowLimit int
	// PollInterval scheduler poll granularity.
	PollInterval time.Duration
}

// DefaultRunnerConfig the defaults applied where a setting is zero.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		DataErrorBudget: 100,
		PreviewRowLimit: 1000,
		PollInterval:    time.Second,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	d := DefaultRunnerConfig()
	if c.DataErrorBudget == 0 {
		c.DataErrorBudget = d.DataErrorBudget
	}
	if c.PreviewRowLimit == 0 {
		c.PreviewRowLimit = d.PreviewRowLimit
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// runToken ownership marker of one in-flight execution. The cancel flag is
// checked by the runner between steps, never mid-step.
type runToken struct {
	ExecutionID string
	cancelled   atomic.Bool
}

func (t *runToken) Cancel() {
	t.cancelled.Store(true)
}

func (t *runToken) Cancelled() bool {
	return t.cancelled.Load()
}

// runRegistry the global "currently running" map enforcing at most one
// concurrent execution per owner id. Acquire is an atomic check-and-set so
// a scheduled fire and a manual run can never both win.
type runRegistry struct {
	mu      sync.Mutex
	running map[string]*runToken
}

func newRunRegistry() *runRegistry {
	return &runRegistry{running: map[string]*runToken{}}
}

func (r *runRegistry) TryAcquire(ownerID, executionID string) (*runToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.running[ownerID]; held {
		return nil, false
	}
	token := &runToken{ExecutionID: executionID}
	r.running[ownerID] = token
	return token, true
}

func (r *runRegistry) Release(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, ownerID)
}

func (r *runRegistry) IsRunning(ownerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.running[ownerID]
	return held
}

func (r *runRegistry) FindByExecution(executionID string) *runToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.running {
		if token.ExecutionID == executionID {
			return token
		}
	}
	return nil
}

// ValidatePipelineDefinition structural checks on a definition: dense unique
// ascending step order, known kinds and valid write mode. Step-config
// validation against the source schema happens at run time, before any row
// is read.
func ValidatePipelineDefinition(p *PipelineDefinition) error {
	var result *multierror.Error
	if p.Name == "" {
		result = multierror.Append(result, NewEtlError(ErrCodeConfig, "pipeline name is required"))
	}
	if p.Source.SourceID == "" || (p.Source.Table == "" && p.Source.Query == "") {
		result = multierror.Append(result, NewEtlError(ErrCodeConfig, "pipeline source requires a source id and a table or query"))
	}
	if p.Target.Table == "" {
		result = multierror.Append(result, NewEtlError(ErrCodeConfig, "pipeline target table is required"))
	}
	switch p.Target.Mode {
	case WriteReplace, WriteAppend:
	default:
		result = multierror.Append(result, NewEtlError(ErrCodeConfig, "unknown write mode:%v", p.Target.Mode))
	}
	for i, step := range p.Steps {
		if step.Order != i {
			result = multierror.Append(result, NewEtlError(ErrCodeConfig, "step:%v order is %v, expected dense ascending sequence", step.Name, step.Order))
		}
		if _, err := GetStepExecutor(step.Kind); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// PipelineRunner executes a pipeline definition end to end: validate, read,
// transform step by step, write, notify. One runner serves many pipelines.
type PipelineRunner struct {
	repository Repository
	connectors ConnectorRegistry
	sink       SinkWriter
	notifier   Notifier
	predictor  Predictor
	classifier SensitivityClassifier
	registry   *runRegistry
	config     RunnerConfig
}

func (r *PipelineRunner) stepContext(metric *StepMetric) *StepContext {
	return &StepContext{
		Metric:     metric,
		Predictor:  r.predictor,
		Classifier: r.classifier,
		Connectors: r.connectors,
	}
}

// validateSteps fail-fast pass over every enabled step against the column
// set propagated from the source schema. Collects all config errors it can
// reach; stops propagating once a step fails since the downstream schema is
// then unknown.
func (r *PipelineRunner) validateSteps(ctx context.Context, def *PipelineDefinition) error {
	connector, err := r.connectors.Connector(def.Source.SourceID)
	if err != nil {
		return err
	}
	columns, err := connector.Columns(ctx, sourceRef(def.Source))
	if err != nil {
		return err
	}
	var result *multierror.Error
	if err := ValidatePipelineDefinition(def); err != nil {
		result = multierror.Append(result, err)
	}
	for _, step := range def.EnabledSteps() {
		executor, err := GetStepExecutor(step.Kind)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		next, err := executor.Validate(columns, step.Config)
		if err != nil {
			result = multierror.Append(result, NewEtlError(ErrCodeConfig, "step:%v invalid", step.Name, err))
			break
		}
		columns = next
	}
	return result.ErrorOrNil()
}

func sourceRef(s SourceDescriptor) string {
	if s.Query != "" {
		return s.Query
	}
	return s.Table
}

// Run execute the pipeline and persist an execution record for the attempt.
// The returned record is terminal; err is non-nil when the run did not reach
// success.
func (r *PipelineRunner) Run(ctx context.Context, def *PipelineDefinition) (*ExecutionRecord, error) {
	if r.sink == nil {
		return nil, NewEtlError(ErrCodeConfig, "no sink writer configured")
	}
	rec := &ExecutionRecord{
		ID:          uuid.NewString(),
		OwnerID:     def.ID,
		OwnerType:   OwnerPipeline,
		Status:      ExecutionPending,
		StartedAt:   time.Now(),
		StepMetrics: map[string]*StepMetric{},
	}
	token, acquired := r.registry.TryAcquire(def.ID, rec.ID)
	if !acquired {
		return nil, NewEtlError(ErrCodeConcurrency, "pipeline:%v already has a running execution", def.ID)
	}
	defer r.registry.Release(def.ID)

	if err := r.repository.SaveExecution(rec); err != nil {
		return nil, err
	}
	rec.Status = ExecutionRunning
	if err := r.repository.SaveExecution(rec); err != nil {
		return nil, err
	}

	batch, err := r.execute(ctx, def, rec, token)
	if err != nil {
		return r.finalize(ctx, rec, err)
	}

	rows, err := r.sink.Write(ctx, def.Target.Table, batch, def.Target.Mode)
	if err != nil {
		// the transform succeeded but nothing reached the target
		rec.RowsOutput = 0
		return r.finalize(ctx, rec, NewEtlError(ErrCodeSink, "write to target:%v failed", def.Target.Table, err))
	}
	rec.RowsOutput = rows
	if def.Target.SyncToBI && r.notifier != nil {
		r.notifier.Notify(ctx, def.Target.Table)
	}
	return r.finalize(ctx, rec, nil)
}

// execute read-and-transform path of Run. Reads the source only after every
// enabled step validated against the propagated schema.
func (r *PipelineRunner) execute(ctx context.Context, def *PipelineDefinition, rec *ExecutionRecord, token *runToken) (*TabularBatch, error) {
	if err := r.validateSteps(ctx, def); err != nil {
		return nil, err
	}
	connector, err := r.connectors.Connector(def.Source.SourceID)
	if err != nil {
		return nil, err
	}
	batch, err := connector.Read(ctx, sourceRef(def.Source), nil)
	if err != nil {
		return nil, NewEtlError(ErrCodeSource, "read source:%v failed", def.Source.SourceID, err)
	}
	rec.RowsInput = int64(batch.RowCount())
	return r.transform(ctx, def, batch, rec, token)
}

// transform the step loop shared verbatim by Run and Preview, so the two can
// not drift apart.
func (r *PipelineRunner) transform(ctx context.Context, def *PipelineDefinition, batch *TabularBatch, rec *ExecutionRecord, token *runToken) (*TabularBatch, error) {
	for _, step := range def.EnabledSteps() {
		if token != nil && token.Cancelled() {
			return nil, NewEtlError(ErrCodeCancelled, "execution cancelled before step:%v", step.Name)
		}
		if err := ctx.Err(); err != nil {
			return nil, NewEtlError(ErrCodeCancelled, "execution context done before step:%v", step.Name, err)
		}
		executor, err := GetStepExecutor(step.Kind)
		if err != nil {
			return nil, err
		}
		metric := &StepMetric{RowsBefore: int64(batch.RowCount())}
		rec.StepMetrics[step.Name] = metric

		started := time.Now()
		next, err := executor.Apply(ctx, batch, step.Config, r.stepContext(metric))
		metric.Duration = time.Since(started)
		if err != nil {
			metric.RowsAfter = metric.RowsBefore
			return nil, NewEtlError(ErrCode(err), "step:%v failed", step.Name, err)
		}
		metric.RowsAfter = int64(next.RowCount())
		rec.RowsError += metric.CoercionFailures
		if rec.RowsError > r.config.DataErrorBudget {
			return nil, NewEtlError(ErrCodeData, "data error budget exceeded: %v errors, budget %v", rec.RowsError, r.config.DataErrorBudget)
		}
		batch = next
	}
	return batch, nil
}

func (r *PipelineRunner) finalize(ctx context.Context, rec *ExecutionRecord, runErr error) (*ExecutionRecord, error) {
	if runErr != nil {
		if ErrCode(runErr) == ErrCodeCancelled {
			rec.Status = ExecutionCancelled
		} else {
			rec.Status = ExecutionFailed
		}
		rec.ErrorMessage = runErr.Error()
	} else {
		rec.Status = ExecutionSuccess
	}
	if err := r.repository.SaveExecution(rec); err != nil {
		DefaultLogger.Error(ctx, "finalize execution:%v failed, err:%v", rec.ID, err)
	}
	if runErr != nil {
		return rec, runErr
	}
	return rec, nil
}

// PreviewResult the outcome of a bounded, non-persisting pipeline run.
type PreviewResult struct {
	Columns     []string
	Rows        []map[string]interface{}
	StepMetrics map[string]*StepMetric
}

// Preview run the full step sequence against a row-capped sample and return
// the resulting rows without touching any target. Shares the execution path
// with Run so preview and execution can not drift apart.
func (r *PipelineRunner) Preview(ctx context.Context, def *PipelineDefinition, rowLimit int) (*PreviewResult, error) {
	if rowLimit <= 0 || rowLimit > r.config.PreviewRowLimit {
		rowLimit = r.config.PreviewRowLimit
	}
	if err := r.validateSteps(ctx, def); err != nil {
		return nil, err
	}
	connector, err := r.connectors.Connector(def.Source.SourceID)
	if err != nil {
		return nil, err
	}
	batch, err := connector.Read(ctx, sourceRef(def.Source), nil)
	if err != nil {
		return nil, NewEtlError(ErrCodeSource, "read source:%v failed", def.Source.SourceID, err)
	}
	batch = batch.Head(rowLimit)

	// throwaway record: preview metrics are returned, never persisted
	rec := &ExecutionRecord{StepMetrics: map[string]*StepMetric{}}
	batch, err = r.transform(ctx, def, batch, rec, nil)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{
		Columns:     batch.ColumnNames(),
		Rows:        batch.Rows(),
		StepMetrics: rec.StepMetrics,
	}, nil
}

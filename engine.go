package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Engine the single entry point exposed to the surrounding application. It
// owns pipeline and collection-task definitions, their executions and their
// schedules.
type Engine interface {
	// pipeline definitions
	CreatePipeline(ctx context.Context, def *PipelineDefinition) (string, error)
	UpdatePipeline(ctx context.Context, def *PipelineDefinition) error
	GetPipeline(ctx context.Context, id string) (*PipelineDefinition, error)
	ListPipelines(ctx context.Context) ([]*PipelineDefinition, error)
	DeletePipeline(ctx context.Context, id string) error

	// pipeline execution
	Run(ctx context.Context, pipelineID string) (*ExecutionRecord, error)
	RunAsync(ctx context.Context, pipelineID string) Future
	Preview(ctx context.Context, pipelineID string, rowLimit int) (*PreviewResult, error)
	Cancel(ctx context.Context, executionID string) error
	ListExecutions(ctx context.Context, ownerID string, page, size int) ([]*ExecutionRecord, error)

	// collection tasks
	CreateTask(ctx context.Context, task *CollectionTask) (string, error)
	UpdateTask(ctx context.Context, task *CollectionTask) error
	GetTask(ctx context.Context, id string) (*CollectionTask, error)
	ListTasks(ctx context.Context) ([]*CollectionTask, error)
	DeleteTask(ctx context.Context, id string) error
	RunTask(ctx context.Context, taskID string, forceFullSync bool) (*ExecutionRecord, error)

	// schedules
	SchedulePipeline(ctx context.Context, pipelineID, cronExpr string) (*ScheduleEntry, error)
	ScheduleTask(ctx context.Context, taskID, cronExpr string) (*ScheduleEntry, error)
	Unschedule(ctx context.Context, ownerID string) error
	PauseSchedule(ctx context.Context, ownerID string) error
	ResumeSchedule(ctx context.Context, ownerID string) error
	PreviewSchedule(cronExpr string, count int) ([]time.Time, error)

	// scheduler lifecycle
	Start(ctx context.Context)
	Stop()
}

// Option configure an engine at construction time.
type Option func(*engine)

// WithConnector register a source connector under a source id.
func WithConnector(sourceID string, connector SourceConnector) Option {
	return func(e *engine) {
		e.connectors[sourceID] = connector
	}
}

// WithSink set the sink writer all runs write through.
func WithSink(sink SinkWriter) Option {
	return func(e *engine) {
		e.sink = sink
	}
}

// WithNotifier set the BI-sync notifier.
func WithNotifier(notifier Notifier) Option {
	return func(e *engine) {
		e.notifier = notifier
	}
}

// WithPredictor set the model behind ai_fill_missing.
func WithPredictor(predictor Predictor) Option {
	return func(e *engine) {
		e.predictor = predictor
	}
}

// WithClassifier set the sensitivity heuristic behind auto_mask.
func WithClassifier(classifier SensitivityClassifier) Option {
	return func(e *engine) {
		e.classifier = classifier
	}
}

// WithRunnerConfig override the deployment-level runner settings.
func WithRunnerConfig(cfg RunnerConfig) Option {
	return func(e *engine) {
		e.config = cfg.withDefaults()
	}
}

// NewEngine build an engine over a repository. A sink and at least one
// connector must be provided before runs can succeed.
func NewEngine(repository Repository, opts ...Option) Engine {
	e := &engine{
		repository: repository,
		connectors: ConnectorRegistry{},
		registry:   newRunRegistry(),
		config:     DefaultRunnerConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runner = &PipelineRunner{
		repository: e.repository,
		connectors: e.connectors,
		sink:       e.sink,
		notifier:   e.notifier,
		predictor:  e.predictor,
		classifier: e.classifier,
		registry:   e.registry,
		config:     e.config,
	}
	e.collector = &CollectionRunner{
		repository: e.repository,
		connectors: e.connectors,
		sink:       e.sink,
		registry:   e.registry,
	}
	e.scheduler = NewCronScheduler(e.repository, e.config.PollInterval, e.fireSchedule)
	return e
}

type engine struct {
	repository Repository
	connectors ConnectorRegistry
	sink       SinkWriter
	notifier   Notifier
	predictor  Predictor
	classifier SensitivityClassifier
	registry   *runRegistry
	config     RunnerConfig
	runner     *PipelineRunner
	collector  *CollectionRunner
	scheduler  *CronScheduler
}

func (e *engine) CreatePipeline(_ context.Context, def *PipelineDefinition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Status == "" {
		def.Status = PipelineDraft
	}
	for i := range def.Steps {
		if def.Steps[i].ID == "" {
			def.Steps[i].ID = uuid.NewString()
		}
	}
	if err := ValidatePipelineDefinition(def); err != nil {
		return "", err
	}
	if err := e.repository.SavePipeline(def); err != nil {
		return "", err
	}
	return def.ID, nil
}

func (e *engine) UpdatePipeline(_ context.Context, def *PipelineDefinition) error {
	existing, err := e.repository.FindPipeline(def.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return NewEtlError(ErrCodeConfig, "pipeline not found:%v", def.ID)
	}
	for i := range def.Steps {
		if def.Steps[i].ID == "" {
			def.Steps[i].ID = uuid.NewString()
		}
	}
	if err := ValidatePipelineDefinition(def); err != nil {
		return err
	}
	return e.repository.SavePipeline(def)
}

func (e *engine) GetPipeline(_ context.Context, id string) (*PipelineDefinition, error) {
	def, err := e.repository.FindPipeline(id)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, NewEtlError(ErrCodeConfig, "pipeline not found:%v", id)
	}
	return def, nil
}

func (e *engine) ListPipelines(_ context.Context) ([]*PipelineDefinition, error) {
	defs, err := e.repository.ListPipelines()
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// DeletePipeline removes the definition and its schedule entry, so no future
// fire can be orphaned.
func (e *engine) DeletePipeline(ctx context.Context, id string) error {
	if err := e.scheduler.RemoveSchedule(id); err != nil {
		return err
	}
	return e.repository.DeletePipeline(id)
}

func (e *engine) Run(ctx context.Context, pipelineID string) (*ExecutionRecord, error) {
	def, err := e.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if def.Status == PipelineArchived {
		return nil, NewEtlError(ErrCodeConfig, "pipeline:%v is archived", pipelineID)
	}
	return e.runner.Run(ctx, def)
}

func (e *engine) RunAsync(ctx context.Context, pipelineID string) Future {
	return runPool.Submit(ctx, func() (interface{}, error) {
		return e.Run(ctx, pipelineID)
	})
}

func (e *engine) Preview(ctx context.Context, pipelineID string, rowLimit int) (*PreviewResult, error) {
	def, err := e.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	return e.runner.Preview(ctx, def, rowLimit)
}

// Cancel mark a running execution for cancellation. The runner honors the
// flag between steps.
func (e *engine) Cancel(_ context.Context, executionID string) error {
	token := e.registry.FindByExecution(executionID)
	if token == nil {
		return NewEtlError(ErrCodeGeneral, "no running execution:%v", executionID)
	}
	token.Cancel()
	return nil
}

func (e *engine) ListExecutions(_ context.Context, ownerID string, page, size int) ([]*ExecutionRecord, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	recs, err := e.repository.FindExecutionsByOwner(ownerID, page*size, size)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (e *engine) CreateTask(_ context.Context, task *CollectionTask) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := ValidateCollectionTask(task); err != nil {
		return "", err
	}
	if err := e.repository.SaveTask(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

func (e *engine) UpdateTask(_ context.Context, task *CollectionTask) error {
	existing, err := e.repository.FindTask(task.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return NewEtlError(ErrCodeConfig, "task not found:%v", task.ID)
	}
	if err := ValidateCollectionTask(task); err != nil {
		return err
	}
	return e.repository.SaveTask(task)
}

func (e *engine) GetTask(_ context.Context, id string) (*CollectionTask, error) {
	task, err := e.repository.FindTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, NewEtlError(ErrCodeConfig, "task not found:%v", id)
	}
	return task, nil
}

func (e *engine) ListTasks(_ context.Context) ([]*CollectionTask, error) {
	tasks, err := e.repository.ListTasks()
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// DeleteTask removes the task, its schedule entry and its cursor.
func (e *engine) DeleteTask(ctx context.Context, id string) error {
	if err := e.scheduler.RemoveSchedule(id); err != nil {
		return err
	}
	if err := e.repository.DeleteCursor(id); err != nil {
		return err
	}
	return e.repository.DeleteTask(id)
}

func (e *engine) RunTask(ctx context.Context, taskID string, forceFullSync bool) (*ExecutionRecord, error) {
	task, err := e.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.collector.Run(ctx, task, forceFullSync)
}

func (e *engine) SchedulePipeline(ctx context.Context, pipelineID, cronExpr string) (*ScheduleEntry, error) {
	if _, err := e.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}
	return e.scheduler.AddSchedule(pipelineID, OwnerPipeline, cronExpr)
}

func (e *engine) ScheduleTask(ctx context.Context, taskID, cronExpr string) (*ScheduleEntry, error) {
	if _, err := e.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.scheduler.AddSchedule(taskID, OwnerTask, cronExpr)
}

func (e *engine) Unschedule(_ context.Context, ownerID string) error {
	return e.scheduler.RemoveSchedule(ownerID)
}

func (e *engine) PauseSchedule(_ context.Context, ownerID string) error {
	return e.scheduler.Pause(ownerID)
}

func (e *engine) ResumeSchedule(_ context.Context, ownerID string) error {
	return e.scheduler.Resume(ownerID)
}

func (e *engine) PreviewSchedule(cronExpr string, count int) ([]time.Time, error) {
	return PreviewNextRuns(cronExpr, count)
}

func (e *engine) Start(ctx context.Context) {
	e.scheduler.Start(ctx)
}

func (e *engine) Stop() {
	e.scheduler.Stop()
}

// fireSchedule scheduler callback: run the owner, skipping the fire when a
// previous execution is still in flight.
func (e *engine) fireSchedule(ctx context.Context, entry *ScheduleEntry) {
	if e.registry.IsRunning(entry.OwnerID) {
		DefaultLogger.Warn(ctx, "schedule overrun: owner:%v still running, fire skipped", entry.OwnerID)
		return
	}
	var err error
	switch entry.OwnerType {
	case OwnerTask:
		_, err = e.RunTask(ctx, entry.OwnerID, false)
	default:
		_, err = e.Run(ctx, entry.OwnerID)
	}
	if err != nil {
		if ErrCode(err) == ErrCodeConcurrency {
			DefaultLogger.Warn(ctx, "schedule overrun: owner:%v still running, fire skipped", entry.OwnerID)
			return
		}
		DefaultLogger.Error(ctx, "scheduled run for owner:%v failed, err:%v", entry.OwnerID, err)
	}
}

package etl

import (
	"sort"
	"sync"
	"time"
)

// memoryRepository a Repository held entirely in process memory. Used by
// tests and by embedders that do not need durable definitions.
type memoryRepository struct {
	mu         sync.RWMutex
	pipelines  map[string]*PipelineDefinition
	tasks      map[string]*CollectionTask
	executions map[string]*ExecutionRecord
	schedules  map[string]*ScheduleEntry
	cursors    map[string]*IncrementalCursor
}

// NewMemoryRepository create an empty in-memory Repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		pipelines:  map[string]*PipelineDefinition{},
		tasks:      map[string]*CollectionTask{},
		executions: map[string]*ExecutionRecord{},
		schedules:  map[string]*ScheduleEntry{},
		cursors:    map[string]*IncrementalCursor{},
	}
}

func (r *memoryRepository) SavePipeline(p *PipelineDefinition) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.Steps = append([]StepConfig{}, p.Steps...)
	cp.UpdatedAt = time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	r.pipelines[p.ID] = &cp
	return nil
}

func (r *memoryRepository) FindPipeline(id string) (*PipelineDefinition, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.Steps = append([]StepConfig{}, p.Steps...)
	return &cp, nil
}

func (r *memoryRepository) ListPipelines() ([]*PipelineDefinition, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PipelineDefinition, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) DeletePipeline(id string) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipelines, id)
	return nil
}

func (r *memoryRepository) SaveTask(t *CollectionTask) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memoryRepository) FindTask(id string) (*CollectionTask, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memoryRepository) ListTasks() ([]*CollectionTask, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CollectionTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) DeleteTask(id string) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

func (r *memoryRepository) SaveExecution(rec *ExecutionRecord) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := terminalGuard(r.executions[rec.ID]); err != nil {
		return err
	}
	touchCompletion(rec)
	cp := *rec
	cp.StepMetrics = copyStepMetrics(rec.StepMetrics)
	r.executions[rec.ID] = &cp
	return nil
}

func (r *memoryRepository) FindExecution(id string) (*ExecutionRecord, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.executions[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.StepMetrics = copyStepMetrics(rec.StepMetrics)
	return &cp, nil
}

func (r *memoryRepository) FindExecutionsByOwner(ownerID string, offset, limit int) ([]*ExecutionRecord, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]*ExecutionRecord, 0)
	for _, rec := range r.executions {
		if rec.OwnerID == ownerID {
			cp := *rec
			cp.StepMetrics = copyStepMetrics(rec.StepMetrics)
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })
	if offset >= len(matched) {
		return []*ExecutionRecord{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *memoryRepository) CountRunningByOwner(ownerID string) (int, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, rec := range r.executions {
		if rec.OwnerID == ownerID && rec.Status == ExecutionRunning {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepository) SaveSchedule(e *ScheduleEntry) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.schedules[e.OwnerID] = &cp
	return nil
}

func (r *memoryRepository) FindScheduleByOwner(ownerID string) (*ScheduleEntry, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.schedules[ownerID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *memoryRepository) ListSchedules() ([]*ScheduleEntry, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ScheduleEntry, 0, len(r.schedules))
	for _, e := range r.schedules {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

func (r *memoryRepository) DeleteScheduleByOwner(ownerID string) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedules, ownerID)
	return nil
}

func (r *memoryRepository) SaveCursor(c *IncrementalCursor) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.UpdatedAt = time.Now()
	r.cursors[c.TaskID] = &cp
	return nil
}

func (r *memoryRepository) FindCursor(taskID string) (*IncrementalCursor, EtlError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[taskID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memoryRepository) DeleteCursor(taskID string) EtlError {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, taskID)
	return nil
}

func copyStepMetrics(in map[string]*StepMetric) map[string]*StepMetric {
	if in == nil {
		return nil
	}
	out := make(map[string]*StepMetric, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}

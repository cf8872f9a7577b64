package repository

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/dataplat/etl"
)

const (
	pipelineDDL = `CREATE TABLE IF NOT EXISTS etl_pipeline (
		id VARCHAR(64) PRIMARY KEY,
		definition TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`
	taskDDL = `CREATE TABLE IF NOT EXISTS etl_task (
		id VARCHAR(64) PRIMARY KEY,
		definition TEXT NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`
	executionDDL = `CREATE TABLE IF NOT EXISTS etl_execution (
		id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		owner_type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		started_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		rows_input BIGINT NOT NULL DEFAULT 0,
		rows_output BIGINT NOT NULL DEFAULT 0,
		rows_error BIGINT NOT NULL DEFAULT 0,
		step_metrics TEXT,
		error_message TEXT,
		KEY idx_execution_owner (owner_id, started_at)
	)`
	scheduleDDL = `CREATE TABLE IF NOT EXISTS etl_schedule (
		id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL UNIQUE,
		owner_type VARCHAR(16) NOT NULL,
		cron VARCHAR(64) NOT NULL,
		next_run_time DATETIME(6) NOT NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1
	)`
	cursorDDL = `CREATE TABLE IF NOT EXISTS etl_cursor (
		task_id VARCHAR(64) PRIMARY KEY,
		field VARCHAR(128) NOT NULL,
		type VARCHAR(16) NOT NULL,
		value VARCHAR(128) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`
)

// Setup create the engine tables when absent.
func Setup(db *sql.DB) error {
	for _, ddl := range []string{pipelineDDL, taskDDL, executionDDL, scheduleDDL, cursorDDL} {
		if _, err := db.Exec(ddl); err != nil {
			return etl.NewEtlError(etl.ErrCodeDbFail, "create table failed, err:%v", err)
		}
	}
	return nil
}

// New build a Repository backed by a relational database. The schema is laid
// out by Setup.
func New(db *sql.DB) etl.Repository {
	return &sqlRepository{db: db}
}

type sqlRepository struct {
	db *sql.DB
}

func (r *sqlRepository) SavePipeline(p *etl.PipelineDefinition) etl.EtlError {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	definition, err := json.Marshal(p)
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "encode pipeline:%v failed, err:%v", p.ID, err)
	}
	_, err = r.db.Exec(`INSERT INTO etl_pipeline (id, definition, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE definition = VALUES(definition), status = VALUES(status), updated_at = VALUES(updated_at)`,
		p.ID, definition, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "save pipeline:%v failed, err:%v", p.ID, err)
	}
	return nil
}

func (r *sqlRepository) FindPipeline(id string) (*etl.PipelineDefinition, etl.EtlError) {
	var model pipelineDBModel
	err := r.db.QueryRow(`SELECT id, definition FROM etl_pipeline WHERE id = ?`, id).
		Scan(&model.ID, &model.Definition)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "find pipeline:%v failed, err:%v", id, err)
	}
	return decodePipeline(model.Definition)
}

func (r *sqlRepository) ListPipelines() ([]*etl.PipelineDefinition, etl.EtlError) {
	rows, err := r.db.Query(`SELECT definition FROM etl_pipeline ORDER BY created_at`)
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "list pipelines failed, err:%v", err)
	}
	defer rows.Close()
	var defs []*etl.PipelineDefinition
	for rows.Next() {
		var definition string
		if err = rows.Scan(&definition); err != nil {
			return nil, etl.NewEtlError(etl.ErrCodeDbFail, "scan pipeline failed, err:%v", err)
		}
		def, derr := decodePipeline(definition)
		if derr != nil {
			return nil, derr
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (r *sqlRepository) DeletePipeline(id string) etl.EtlError {
	if _, err := r.db.Exec(`DELETE FROM etl_pipeline WHERE id = ?`, id); err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "delete pipeline:%v failed, err:%v", id, err)
	}
	return nil
}

func decodePipeline(definition string) (*etl.PipelineDefinition, etl.EtlError) {
	var def etl.PipelineDefinition
	if err := json.Unmarshal([]byte(definition), &def); err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "decode pipeline failed, err:%v", err)
	}
	return &def, nil
}

func (r *sqlRepository) SaveTask(t *etl.CollectionTask) etl.EtlError {
	definition, err := json.Marshal(t)
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "encode task:%v failed, err:%v", t.ID, err)
	}
	_, err = r.db.Exec(`INSERT INTO etl_task (id, definition, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE definition = VALUES(definition), updated_at = VALUES(updated_at)`,
		t.ID, definition, time.Now())
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "save task:%v failed, err:%v", t.ID, err)
	}
	return nil
}

func (r *sqlRepository) FindTask(id string) (*etl.CollectionTask, etl.EtlError) {
	var definition string
	err := r.db.QueryRow(`SELECT definition FROM etl_task WHERE id = ?`, id).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "find task:%v failed, err:%v", id, err)
	}
	return decodeTask(definition)
}

func (r *sqlRepository) ListTasks() ([]*etl.CollectionTask, etl.EtlError) {
	rows, err := r.db.Query(`SELECT definition FROM etl_task ORDER BY updated_at`)
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "list tasks failed, err:%v", err)
	}
	defer rows.Close()
	var tasks []*etl.CollectionTask
	for rows.Next() {
		var definition string
		if err = rows.Scan(&definition); err != nil {
			return nil, etl.NewEtlError(etl.ErrCodeDbFail, "scan task failed, err:%v", err)
		}
		task, derr := decodeTask(definition)
		if derr != nil {
			return nil, derr
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (r *sqlRepository) DeleteTask(id string) etl.EtlError {
	if _, err := r.db.Exec(`DELETE FROM etl_task WHERE id = ?`, id); err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "delete task:%v failed, err:%v", id, err)
	}
	return nil
}

func decodeTask(definition string) (*etl.CollectionTask, etl.EtlError) {
	var task etl.CollectionTask
	if err := json.Unmarshal([]byte(definition), &task); err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "decode task failed, err:%v", err)
	}
	return &task, nil
}

// SaveExecution upsert a history row. Rows already in a terminal status are
// immutable and the save is rejected.
func (r *sqlRepository) SaveExecution(rec *etl.ExecutionRecord) etl.EtlError {
	existing, err := r.FindExecution(rec.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status.IsTerminal() {
		return etl.NewEtlError(etl.ErrCodeDbFail, "execution record:%v is terminal and can not be modified", rec.ID)
	}
	if rec.Status.IsTerminal() {
		if rec.CompletedAt == nil {
			now := time.Now()
			rec.CompletedAt = &now
		}
	} else {
		rec.CompletedAt = nil
	}
	metrics, merr := json.Marshal(rec.StepMetrics)
	if merr != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "encode step metrics of execution:%v failed, err:%v", rec.ID, merr)
	}
	var completedAt interface{}
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}
	_, serr := r.db.Exec(`INSERT INTO etl_execution
		(id, owner_id, owner_type, status, started_at, completed_at, rows_input, rows_output, rows_error, step_metrics, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status), completed_at = VALUES(completed_at),
			rows_input = VALUES(rows_input), rows_output = VALUES(rows_output), rows_error = VALUES(rows_error),
			step_metrics = VALUES(step_metrics), error_message = VALUES(error_message)`,
		rec.ID, rec.OwnerID, string(rec.OwnerType), string(rec.Status), rec.StartedAt, completedAt,
		rec.RowsInput, rec.RowsOutput, rec.RowsError, metrics, rec.ErrorMessage)
	if serr != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "save execution:%v failed, err:%v", rec.ID, serr)
	}
	return nil
}

func (r *sqlRepository) FindExecution(id string) (*etl.ExecutionRecord, etl.EtlError) {
	row := r.db.QueryRow(`SELECT id, owner_id, owner_type, status, started_at, completed_at,
		rows_input, rows_output, rows_error, step_metrics, error_message
		FROM etl_execution WHERE id = ?`, id)
	rec, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "find execution:%v failed, err:%v", id, err)
	}
	return rec, nil
}

func (r *sqlRepository) FindExecutionsByOwner(ownerID string, offset, limit int) ([]*etl.ExecutionRecord, etl.EtlError) {
	rows, err := r.db.Query(`SELECT id, owner_id, owner_type, status, started_at, completed_at,
		rows_input, rows_output, rows_error, step_metrics, error_message
		FROM etl_execution WHERE owner_id = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "list executions of owner:%v failed, err:%v", ownerID, err)
	}
	defer rows.Close()
	var recs []*etl.ExecutionRecord
	for rows.Next() {
		rec, serr := scanExecution(rows.Scan)
		if serr != nil {
			return nil, etl.NewEtlError(etl.ErrCodeDbFail, "scan execution failed, err:%v", serr)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *sqlRepository) CountRunningByOwner(ownerID string) (int, etl.EtlError) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM etl_execution WHERE owner_id = ? AND status IN (?, ?)`,
		ownerID, string(etl.ExecutionPending), string(etl.ExecutionRunning)).Scan(&count)
	if err != nil {
		return 0, etl.NewEtlError(etl.ErrCodeDbFail, "count running executions of owner:%v failed, err:%v", ownerID, err)
	}
	return count, nil
}

func scanExecution(scan func(dest ...interface{}) error) (*etl.ExecutionRecord, error) {
	var model executionDBModel
	err := scan(&model.ID, &model.OwnerID, &model.OwnerType, &model.Status, &model.StartedAt,
		&model.CompletedAt, &model.RowsInput, &model.RowsOutput, &model.RowsError,
		&model.StepMetrics, &model.ErrorMessage)
	if err != nil {
		return nil, err
	}
	rec := &etl.ExecutionRecord{
		ID:         model.ID,
		OwnerID:    model.OwnerID,
		OwnerType:  etl.OwnerType(model.OwnerType),
		Status:     etl.ExecutionStatus(model.Status),
		StartedAt:  model.StartedAt,
		RowsInput:  model.RowsInput,
		RowsOutput: model.RowsOutput,
		RowsError:  model.RowsError,
	}
	if model.CompletedAt.Valid {
		completedAt := model.CompletedAt.Time
		rec.CompletedAt = &completedAt
	}
	if model.ErrorMessage.Valid {
		rec.ErrorMessage = model.ErrorMessage.String
	}
	if model.StepMetrics != "" {
		if err = json.Unmarshal([]byte(model.StepMetrics), &rec.StepMetrics); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *sqlRepository) SaveSchedule(e *etl.ScheduleEntry) etl.EtlError {
	_, err := r.db.Exec(`INSERT INTO etl_schedule (id, owner_id, owner_type, cron, next_run_time, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE cron = VALUES(cron), next_run_time = VALUES(next_run_time), is_active = VALUES(is_active)`,
		e.ID, e.OwnerID, string(e.OwnerType), e.Cron, e.NextRunTime, e.IsActive)
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "save schedule of owner:%v failed, err:%v", e.OwnerID, err)
	}
	return nil
}

func (r *sqlRepository) FindScheduleByOwner(ownerID string) (*etl.ScheduleEntry, etl.EtlError) {
	var model scheduleDBModel
	err := r.db.QueryRow(`SELECT id, owner_id, owner_type, cron, next_run_time, is_active
		FROM etl_schedule WHERE owner_id = ?`, ownerID).
		Scan(&model.ID, &model.OwnerID, &model.OwnerType, &model.Cron, &model.NextRunTime, &model.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "find schedule of owner:%v failed, err:%v", ownerID, err)
	}
	return scheduleFromModel(&model), nil
}

func (r *sqlRepository) ListSchedules() ([]*etl.ScheduleEntry, etl.EtlError) {
	rows, err := r.db.Query(`SELECT id, owner_id, owner_type, cron, next_run_time, is_active FROM etl_schedule`)
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "list schedules failed, err:%v", err)
	}
	defer rows.Close()
	var entries []*etl.ScheduleEntry
	for rows.Next() {
		var model scheduleDBModel
		if err = rows.Scan(&model.ID, &model.OwnerID, &model.OwnerType, &model.Cron, &model.NextRunTime, &model.IsActive); err != nil {
			return nil, etl.NewEtlError(etl.ErrCodeDbFail, "scan schedule failed, err:%v", err)
		}
		entries = append(entries, scheduleFromModel(&model))
	}
	return entries, nil
}

func (r *sqlRepository) DeleteScheduleByOwner(ownerID string) etl.EtlError {
	if _, err := r.db.Exec(`DELETE FROM etl_schedule WHERE owner_id = ?`, ownerID); err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "delete schedule of owner:%v failed, err:%v", ownerID, err)
	}
	return nil
}

func scheduleFromModel(model *scheduleDBModel) *etl.ScheduleEntry {
	return &etl.ScheduleEntry{
		ID:          model.ID,
		OwnerID:     model.OwnerID,
		OwnerType:   etl.OwnerType(model.OwnerType),
		Cron:        model.Cron,
		NextRunTime: model.NextRunTime,
		IsActive:    model.IsActive,
	}
}

func (r *sqlRepository) SaveCursor(c *etl.IncrementalCursor) etl.EtlError {
	value, err := encodeCursorValue(c.Type, c.Value)
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "encode cursor of task:%v failed, err:%v", c.TaskID, err)
	}
	c.UpdatedAt = time.Now()
	_, serr := r.db.Exec(`INSERT INTO etl_cursor (task_id, field, type, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE field = VALUES(field), type = VALUES(type), value = VALUES(value), updated_at = VALUES(updated_at)`,
		c.TaskID, c.Field, string(c.Type), value, c.UpdatedAt)
	if serr != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "save cursor of task:%v failed, err:%v", c.TaskID, serr)
	}
	return nil
}

func (r *sqlRepository) FindCursor(taskID string) (*etl.IncrementalCursor, etl.EtlError) {
	var model cursorDBModel
	err := r.db.QueryRow(`SELECT task_id, field, type, value, updated_at FROM etl_cursor WHERE task_id = ?`, taskID).
		Scan(&model.TaskID, &model.Field, &model.Type, &model.Value, &model.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "find cursor of task:%v failed, err:%v", taskID, err)
	}
	value, derr := decodeCursorValue(etl.WatermarkType(model.Type), model.Value)
	if derr != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "decode cursor of task:%v failed, err:%v", taskID, derr)
	}
	return &etl.IncrementalCursor{
		TaskID:    model.TaskID,
		Field:     model.Field,
		Type:      etl.WatermarkType(model.Type),
		Value:     value,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

func (r *sqlRepository) DeleteCursor(taskID string) etl.EtlError {
	if _, err := r.db.Exec(`DELETE FROM etl_cursor WHERE task_id = ?`, taskID); err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "delete cursor of task:%v failed, err:%v", taskID, err)
	}
	return nil
}

func encodeCursorValue(wt etl.WatermarkType, value interface{}) (string, error) {
	switch wt {
	case etl.WatermarkTimestamp:
		t, ok := value.(time.Time)
		if !ok {
			return "", etl.NewEtlError(etl.ErrCodeDbFail, "cursor value:%v is not a timestamp", value)
		}
		return t.Format(time.RFC3339Nano), nil
	default:
		switch v := value.(type) {
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		default:
			return "", etl.NewEtlError(etl.ErrCodeDbFail, "cursor value:%v is not numeric", value)
		}
	}
}

func decodeCursorValue(wt etl.WatermarkType, raw string) (interface{}, error) {
	if wt == etl.WatermarkTimestamp {
		return time.Parse(time.RFC3339Nano, raw)
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	return strconv.ParseFloat(raw, 64)
}

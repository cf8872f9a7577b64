package repository

import (
	"database/sql"
	"time"
)

// the following models are db rows, mapped to and from the engine entities

type pipelineDBModel struct {
	ID         string
	Definition string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type taskDBModel struct {
	ID         string
	Definition string
	UpdatedAt  time.Time
}

type executionDBModel struct {
	ID           string
	OwnerID      string
	OwnerType    string
	Status       string
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	RowsInput    int64
	RowsOutput   int64
	RowsError    int64
	StepMetrics  string
	ErrorMessage sql.NullString
}

type scheduleDBModel struct {
	ID          string
	OwnerID     string
	OwnerType   string
	Cron        string
	NextRunTime time.Time
	IsActive    bool
}

type cursorDBModel struct {
	TaskID    string
	Field     string
	Type      string
	Value     string
	UpdatedAt time.Time
}

package etl

import (
	"os"
)

var DefaultLogger Logger

// SetLogger set a logger instance for the engine
func SetLogger(logger Logger) {
	DefaultLogger = logger
}

func init() {
	DefaultLogger = NewLogger(os.Stdout, Info)
}

// task pool
const (
	DefaultRunPoolSize      = 10
	DefaultSchedulePoolSize = 100
)

var runPool = newTaskPool(DefaultRunPoolSize)
var schedulePool = newTaskPool(DefaultSchedulePoolSize)

// SetMaxRunningExecutions set max number of parallel pipeline/task runs
func SetMaxRunningExecutions(size int) {
	runPool.SetMaxSize(size)
}

// SetMaxScheduledFires set max number of in-flight scheduler fire dispatches
func SetMaxScheduledFires(size int) {
	schedulePool.SetMaxSize(size)
}

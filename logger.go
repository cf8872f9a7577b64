package etl

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"
)

// LogLevel log level for the default logger
type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
)

func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Logger the logging interface used by the engine. Implementations may route
// to any logging backend; the engine only relies on printf-style methods.
type Logger interface {
	Debug(ctx context.Context, format string, args ...interface{})
	Info(ctx context.Context, format string, args ...interface{})
	Warn(ctx context.Context, format string, args ...interface{})
	Error(ctx context.Context, format string, args ...interface{})
}

// NewLogger create a leveled Logger writing to the given writer.
func NewLogger(out io.Writer, level LogLevel) Logger {
	return &defaultLogger{
		out:   log.New(out, "", 0),
		level: level,
	}
}

type defaultLogger struct {
	out   *log.Logger
	level LogLevel
}

func (l *defaultLogger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Printf("%s %s %s", time.Now().Format("2006-01-02 15:04:05.000"), level, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debug(_ context.Context, format string, args ...interface{}) {
	l.log(Debug, format, args...)
}

func (l *defaultLogger) Info(_ context.Context, format string, args ...interface{}) {
	l.log(Info, format, args...)
}

func (l *defaultLogger) Warn(_ context.Context, format string, args ...interface{}) {
	l.log(Warn, format, args...)
}

func (l *defaultLogger) Error(_ context.Context, format string, args ...interface{}) {
	l.log(Error, format, args...)
}

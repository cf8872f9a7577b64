package etl

import (
	"fmt"

	"github.com/pkg/errors"
)

// error codes carried by EtlError
const (
	// ErrCodeGeneral unclassified internal error
	ErrCodeGeneral = "etl.general"
	// ErrCodeConfig malformed or ambiguous step/schedule configuration, always fails fast
	ErrCodeConfig = "etl.config"
	// ErrCodeData row-level coercion or computation issue, tolerated up to a budget
	ErrCodeData = "etl.data"
	// ErrCodeSource source connector read failure
	ErrCodeSource = "etl.source"
	// ErrCodeSink sink writer failure
	ErrCodeSink = "etl.sink"
	// ErrCodeCron malformed cron expression
	ErrCodeCron = "etl.cron"
	// ErrCodeConcurrency duplicate concurrent run for the same owner
	ErrCodeConcurrency = "etl.concurrency"
	// ErrCodeDbFail repository access failure
	ErrCodeDbFail = "etl.db"
	// ErrCodeCancelled run cancelled by the owner
	ErrCodeCancelled = "etl.cancelled"
)

// EtlError is the error type used across the engine. The code tells callers
// whether the failure is a configuration problem, a data problem or an
// infrastructure problem, which drives the propagation policy.
type EtlError interface {
	error
	Code() string
	Message() string
	Unwrap() error
}

type etlError struct {
	code  string
	msg   string
	cause error
}

// NewEtlError create an EtlError. If the last format argument is an error it
// is kept as the cause and wrapped with a stack trace.
func NewEtlError(code string, format string, args ...interface{}) EtlError {
	var cause error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			cause = err
			args = args[:len(args)-1]
		}
	}
	e := &etlError{
		code: code,
		msg:  fmt.Sprintf(format, args...),
	}
	if cause != nil {
		if _, ok := cause.(interface{ StackTrace() errors.StackTrace }); ok {
			e.cause = cause
		} else {
			e.cause = errors.WithStack(cause)
		}
	}
	return e
}

func (e *etlError) Code() string {
	return e.code
}

func (e *etlError) Message() string {
	return e.msg
}

func (e *etlError) Unwrap() error {
	return e.cause
}

func (e *etlError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.msg)
}

// ErrCode extract the code of an EtlError, ErrCodeGeneral for any other error.
func ErrCode(err error) string {
	if err == nil {
		return ""
	}
	if ee, ok := err.(EtlError); ok {
		return ee.Code()
	}
	return ErrCodeGeneral
}

// IsConfigError report whether err is a fail-fast configuration error.
func IsConfigError(err error) bool {
	return ErrCode(err) == ErrCodeConfig
}

// IsDataError report whether err is a tolerable row-level data error.
func IsDataError(err error) bool {
	return ErrCode(err) == ErrCodeData
}

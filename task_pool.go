package etl

import (
	"context"

	"github.com/panjf2000/ants/v2"
)

// Future holds the result of an async task submitted to a taskPool.
type Future interface {
	Get() (interface{}, error)
}

type futureResult struct {
	value interface{}
	err   error
}

type future struct {
	ch   chan futureResult
	done *futureResult
}

func (f *future) Get() (interface{}, error) {
	if f.done == nil {
		r := <-f.ch
		f.done = &r
	}
	return f.done.value, f.done.err
}

type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) *taskPool {
	pool, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		panic(err)
	}
	return &taskPool{pool: pool}
}

func (p *taskPool) SetMaxSize(size int) {
	p.pool.Tune(size)
}

// Submit run the task on the pool, falling back to a dedicated goroutine if
// the pool rejects it, so a submission never fails outright.
func (p *taskPool) Submit(ctx context.Context, task func() (interface{}, error)) Future {
	f := &future{ch: make(chan futureResult, 1)}
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				f.ch <- futureResult{err: NewEtlError(ErrCodeGeneral, "task panic: %v", r)}
			}
		}()
		value, err := task()
		f.ch <- futureResult{value: value, err: err}
	}
	if err := p.pool.Submit(run); err != nil {
		DefaultLogger.Warn(ctx, "task pool busy, running task on its own goroutine, err:%v", err)
		go run()
	}
	return f
}

func (p *taskPool) Release() {
	p.pool.Release()
}

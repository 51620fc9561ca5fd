package engine

import "sync"

// Executor runs pass work either inline or on background goroutines.
// Whole-workbook recomputes fan out one task per sheet; the inline
// executor keeps them sequential for deterministic runs.
type Executor interface {
	Go(task func())
}

// InlineExecutor runs the task on the calling goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Go(task func()) { task() }

// GoroutineExecutor runs each task on its own goroutine and supports
// draining them at shutdown.
type GoroutineExecutor struct {
	wg sync.WaitGroup
}

func (e *GoroutineExecutor) Go(task func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

// Wait blocks until all submitted tasks finish.
func (e *GoroutineExecutor) Wait() {
	e.wg.Wait()
}

// PassHandle is a future for an offloaded pass.
type PassHandle struct {
	done chan struct{}
	res  PassResult
}

// NewPassHandle creates an unresolved handle.
func NewPassHandle() *PassHandle {
	return &PassHandle{done: make(chan struct{})}
}

// Resolve records the result and releases waiters. Call once.
func (h *PassHandle) Resolve(res PassResult) {
	h.res = res
	close(h.done)
}

// Wait blocks until the pass finishes and returns its result.
func (h *PassHandle) Wait() PassResult {
	<-h.done
	return h.res
}

// Done exposes the completion channel for select loops.
func (h *PassHandle) Done() <-chan struct{} {
	return h.done
}

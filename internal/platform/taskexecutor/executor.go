// Package taskexecutor runs tenant-scoped background work.
package taskexecutor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// Executor runs submitted tasks on their own goroutines. Every task is
// bound to an explicit tenant; failures of long-running tasks are reported
// only through the failure callback, never to the submitting goroutine.
type Executor struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a new Executor.
func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("component", "task_executor")}
}

// Submit runs a fire-and-forget task for the tenant.
func (e *Executor) Submit(tenant domain.Tenant, task func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := context.Background()
		defer e.recoverPanic(ctx, tenant, nil)
		task(ctx)
	}()
}

// SubmitLongRunningTask runs a task whose failure must be observed: any
// returned error, and any panic, is delivered to onFailure on the task's
// goroutine.
func (e *Executor) SubmitLongRunningTask(tenant domain.Tenant, task func(ctx context.Context) error, onFailure func(ctx context.Context, err error)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := context.Background()
		defer e.recoverPanic(ctx, tenant, onFailure)
		if err := task(ctx); err != nil {
			e.logger.ErrorContext(ctx, "Long running task failed", "tenant", tenant, "error", err)
			if onFailure != nil {
				onFailure(ctx, err)
			}
		}
	}()
}

// Wait blocks until all submitted tasks have finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) recoverPanic(ctx context.Context, tenant domain.Tenant, onFailure func(ctx context.Context, err error)) {
	if r := recover(); r != nil {
		err := fmt.Errorf("task panicked: %v", r)
		e.logger.ErrorContext(ctx, "Background task panicked", "tenant", tenant, "panic", r)
		if onFailure != nil {
			onFailure(ctx, err)
		}
	}
}

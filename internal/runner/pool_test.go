package runner_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/signalnine/nilmbench/internal/runner"
)

func TestPool(t *testing.T) {
	var count atomic.Int32
	jobs := make([]runner.Job, 10)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			count.Add(1)
			return nil
		}
	}
	errs := runner.RunPool(context.Background(), 3, jobs)
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if count.Load() != 10 {
		t.Errorf("expected 10 jobs, got %d", count.Load())
	}
}

func TestPoolWithErrors(t *testing.T) {
	jobs := []runner.Job{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return fmt.Errorf("fail") },
		func(ctx context.Context) error { return nil },
	}
	errs := runner.RunPool(context.Background(), 2, jobs)
	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %d", len(errs))
	}
}

func TestPoolCancelledSkipsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var count atomic.Int32
	jobs := []runner.Job{
		func(ctx context.Context) error { count.Add(1); return nil },
		func(ctx context.Context) error { count.Add(1); return nil },
	}
	errs := runner.RunPool(ctx, 1, jobs)
	if len(errs) == 0 {
		t.Error("expected the cancellation error")
	}
	if count.Load() != 0 {
		t.Errorf("expected no job to run, got %d", count.Load())
	}
}

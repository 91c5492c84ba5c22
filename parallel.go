package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Operation is one unit of asynchronous work run by RunParallel.
type Operation func(ctx context.Context) (any, error)

// ParallelOptions configures RunParallel.
type ParallelOptions struct {
	// Timeout bounds each operation independently. Zero means no timeout.
	Timeout time.Duration

	// FailFast cancels sibling operations when one fails. Without it, a
	// failure is captured per-operation and siblings run to completion.
	FailFast bool

	// Logger, when set, records per-operation outcomes.
	Logger *slog.Logger
}

// OperationResult is the per-operation outcome of RunParallel.
type OperationResult struct {
	Name     string
	Value    any
	Duration time.Duration
	Success  bool
	Err      error
}

// RunParallel executes the named operations concurrently so their latencies
// overlap rather than add. Every operation races its own timeout; a timeout
// or error becomes a recorded failure for that operation only, unless
// FailFast is set. The returned map always has an entry per operation.
func RunParallel(ctx context.Context, operations map[string]Operation, opts ParallelOptions) map[string]OperationResult {
	results := make(map[string]OperationResult, len(operations))
	var mutex sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for name, op := range operations {
		name, op := name, op
		group.Go(func() error {
			opCtx := groupCtx
			var cancel context.CancelFunc
			if opts.Timeout > 0 {
				opCtx, cancel = context.WithTimeout(groupCtx, opts.Timeout)
				defer cancel()
			}

			start := time.Now()
			value, err := runOperation(opCtx, op)
			result := OperationResult{
				Name:     name,
				Value:    value,
				Duration: time.Since(start),
				Success:  err == nil,
				Err:      err,
			}

			mutex.Lock()
			results[name] = result
			mutex.Unlock()

			if opts.Logger != nil {
				opts.Logger.Debug("parallel operation finished",
					"operation", name,
					"success", result.Success,
					"duration", result.Duration,
					"error", err)
			}
			if err != nil && opts.FailFast {
				return fmt.Errorf("operation %q failed: %w", name, err)
			}
			return nil
		})
	}
	group.Wait() //nolint:errcheck // failures are reported per-operation

	// Operations cancelled before running still get an entry
	mutex.Lock()
	defer mutex.Unlock()
	for name := range operations {
		if _, ok := results[name]; !ok {
			results[name] = OperationResult{Name: name, Err: context.Canceled}
		}
	}
	return results
}

// runOperation invokes op and converts a context expiry that op ignored into
// an error, so a hang cannot block the run past its timeout.
func runOperation(ctx context.Context, op Operation) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := op(ctx)
		done <- outcome{value: value, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-done:
		return result.value, result.err
	}
}

// Package runner provides optional tooling for running multiple
// projections concurrently. It is explicit and CLI-friendly: no
// automatic scheduling, coordination happens through each processor's
// tracking cursor.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getpup/recordstore/es/projection"
)

// ErrNoProjections indicates that no projections were provided to run.
var ErrNoProjections = errors.New("no projections provided")

// ProjectionRunner pairs a projection with its processor.
type ProjectionRunner struct {
	Projection projection.Projection
	Processor  projection.ProcessorRunner
}

// Runner orchestrates multiple projections concurrently.
//
// Example:
//
//	rec := sqlite.NewProcessRecorder(sqlite.DefaultStoreConfig())
//	proc1 := projection.NewProcessor(db, rec, config1)
//	proc2 := projection.NewProcessor(db, rec, config2)
//
//	r := runner.New()
//	err := r.Run(ctx, []runner.ProjectionRunner{
//	    {Projection: &MyProjection{}, Processor: proc1},
//	    {Projection: &MyOtherProjection{}, Processor: proc2},
//	})
type Runner struct{}

// New creates a new projection runner.
func New() *Runner {
	return &Runner{}
}

// Run runs multiple projections concurrently until the context is
// canceled. Each projection runs in its own goroutine with its
// processor.
//
// If a projection returns an error, all other projections are canceled
// and the error is returned. This ensures fail-fast behavior.
func (r *Runner) Run(ctx context.Context, runners []ProjectionRunner) error {
	if len(runners) == 0 {
		return ErrNoProjections
	}

	for i, pr := range runners {
		if pr.Projection == nil {
			return fmt.Errorf("projection at index %d is nil", i)
		}
		if pr.Processor == nil {
			return fmt.Errorf("processor at index %d is nil", i)
		}
	}

	// Create a context that we can cancel if any projection fails
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(runners))

	for _, pr := range runners {
		wg.Add(1)
		go func(pr ProjectionRunner) {
			defer wg.Done()

			err := pr.Processor.Run(ctx, pr.Projection)

			// Only report errors that aren't from context cancellation
			if err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("projection %q failed: %w", pr.Projection.Name(), err)
			}
		}(pr)
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			cancel() // Cancel all other projections
			return err
		}
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

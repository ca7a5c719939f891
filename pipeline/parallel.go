package pipeline

import (
	"context"
	"sync"
	"time"
)

// runParallel runs fn over tasks with at most maxConcurrent in flight and an
// optional delay between launches. The first error cancels the context given
// to running tasks, no further task is launched, and that error is returned.
func runParallel[T any](ctx context.Context, tasks []T, maxConcurrent int, delay time.Duration, fn func(context.Context, T) error) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

launch:
	for i, task := range tasks {
		if runCtx.Err() != nil {
			break
		}

		if i > 0 && delay > 0 {
			select {
			case <-runCtx.Done():
				break launch
			case <-time.After(delay):
			}
		}

		select {
		case <-runCtx.Done():
			break launch
		case sem <- struct{}{}:
		}
		if runCtx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)

		go func(t T) {
			defer func() {
				<-sem
				wg.Done()
			}()

			if err := fn(runCtx, t); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(task)
	}

	wg.Wait()
	if firstErr == nil {
		return ctx.Err()
	}
	return firstErr
}

// Package taskpool runs deferred tasks with a ceiling on how many are in
// flight at once. A failing task never stops its siblings.
package taskpool

import (
	"context"
	"fmt"
	"sync"
)

// Task is a unit of deferred work.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the settled outcome of the task submitted at Index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run executes tasks with at most limit running concurrently and returns one
// result per task in the order tasks settled. A limit below one means one.
//
// When ctx is cancelled no further tasks are started; each task that never
// started is reported with ctx's error.
func Run[T any](ctx context.Context, tasks []Task[T], limit int) []Result[T] {
	if limit < 1 {
		limit = 1
	}

	var (
		mu      sync.Mutex
		results = make([]Result[T], 0, len(tasks))
		wg      sync.WaitGroup
		sem     = make(chan struct{}, limit)
	)
	settle := func(r Result[T]) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	for i, task := range tasks {
		// Admission waits for any in-flight task to release its slot.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			settle(Result[T]{Index: i, Err: ctx.Err()})
			continue
		}
		if err := ctx.Err(); err != nil {
			<-sem
			settle(Result[T]{Index: i, Err: err})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			settle(runTask(ctx, i, task))
		}()
	}
	wg.Wait()
	return results
}

func runTask[T any](ctx context.Context, i int, task Task[T]) (r Result[T]) {
	r.Index = i
	defer func() {
		if rec := recover(); rec != nil {
			r.Err = fmt.Errorf("task %d panicked: %v", i, rec)
		}
	}()
	r.Value, r.Err = task(ctx)
	return r
}

// Values returns the values of successful results, in result order.
func Values[T any](results []Result[T]) []T {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}

// Failed counts results that carry an error.
func Failed[T any](results []Result[T]) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

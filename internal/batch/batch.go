// Package batch applies per-path remote deletions with bounded concurrency.
//
// Items are admitted to the pool strictly in input order, but may complete in
// any order. Every item is attempted exactly once and the batch always settles
// completely: one failed item never stops its siblings.
package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency caps in-flight deletions when no limit is configured.
const DefaultConcurrency = 2

// RemoveFunc deletes a single path on the remote side.
type RemoveFunc func(ctx context.Context, path string) error

// Observer is notified when an item is admitted to the pool.
type Observer interface {
	// OnItemStarted is invoked synchronously at admission. index is the
	// position of path in the input list.
	OnItemStarted(index int, path string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(index int, path string)

func (f ObserverFunc) OnItemStarted(index int, path string) { f(index, path) }

// Result is the settled outcome for one path.
type Result struct {
	Index int
	Path  string
	Err   error
}

// Report holds one Result per input path, in input order.
type Report struct {
	Results []Result
}

// Failed returns the results that settled with an error.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Succeeded returns the number of paths removed without error.
func (r *Report) Succeeded() int {
	return len(r.Results) - len(r.Failed())
}

// Err returns a *RemovalError describing every failed path, or nil.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &RemovalError{Total: len(r.Results), Failures: failed}
}

// RemovalError aggregates per-item failures of a batch.
type RemovalError struct {
	Total    int
	Failures []Result
}

func (e *RemovalError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		paths = append(paths, f.Path)
	}
	return fmt.Sprintf("failed to remove %d of %d files: %s", len(e.Failures), e.Total, strings.Join(paths, ", "))
}

// Paths returns the paths that could not be removed.
func (e *RemovalError) Paths() []string {
	paths := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		paths = append(paths, f.Path)
	}
	return paths
}

// Unwrap exposes the individual item errors to errors.Is / errors.As.
func (e *RemovalError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// RemoveAll calls remove once for every path with at most concurrency calls
// in flight, and returns after all of them have settled. A concurrency of
// zero or less means DefaultConcurrency; observer may be nil.
//
// If ctx is cancelled while items are still queued, those items settle with
// ctx.Err() without calling remove.
func RemoveAll(ctx context.Context, paths []string, remove RemoveFunc, concurrency int, observer Observer) *Report {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	report := &Report{Results: make([]Result, len(paths))}
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for i, p := range paths {
		report.Results[i] = Result{Index: i, Path: p}

		if err := sem.Acquire(ctx, 1); err != nil {
			report.Results[i].Err = err
			continue
		}

		if observer != nil {
			observer.OnItemStarted(i, p)
		}

		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			defer sem.Release(1)
			report.Results[i].Err = remove(ctx, p)
		}(i, p)
	}

	wg.Wait()
	return report
}

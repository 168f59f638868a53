package scanner

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cvalentine99/binscore/internal/models"
)

// PathResult is the outcome of scanning one path in a batch.
type PathResult struct {
	Path   string
	Result *models.ScoreResult
	Err    error
}

// WorkerPool scores a batch of paths with a bounded number of goroutines.
type WorkerPool struct {
	numWorkers int
	scan       func(ctx context.Context, path string) (*models.ScoreResult, error)

	// Statistics
	filesProcessed atomic.Uint64
	filesFailed    atomic.Uint64
	filesSkipped   atomic.Uint64
}

// NewWorkerPool creates a pool running scan on numWorkers goroutines.
// numWorkers <= 0 uses runtime.NumCPU().
func NewWorkerPool(numWorkers int, scan func(ctx context.Context, path string) (*models.ScoreResult, error)) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		scan:       scan,
	}
}

// Run scans every path and returns results in input order. Once ctx is done no
// further paths are dispatched; those paths carry ctx.Err(). Scans already
// running are allowed to finish.
func (wp *WorkerPool) Run(ctx context.Context, paths []string) []PathResult {
	results := make([]PathResult, len(paths))
	for i, p := range paths {
		results[i].Path = p
	}
	if len(paths) == 0 {
		return results
	}

	workers := min(wp.numWorkers, len(paths))
	jobs := make(chan int, workers*4)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				res, err := wp.scan(ctx, paths[idx])
				results[idx].Result, results[idx].Err = res, err
				if err != nil {
					wp.filesFailed.Add(1)
				} else {
					wp.filesProcessed.Add(1)
				}
			}
		}()
	}

	next := 0
dispatch:
	for ; next < len(paths); next++ {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(paths); i++ {
		results[i].Err = ctx.Err()
		wp.filesSkipped.Add(1)
	}
	return results
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// Stats returns processed, failed and skipped counts across all runs.
func (wp *WorkerPool) Stats() (processed, failed, skipped uint64) {
	return wp.filesProcessed.Load(), wp.filesFailed.Load(), wp.filesSkipped.Load()
}
